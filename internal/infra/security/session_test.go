package security

import (
	"errors"
	"testing"
	"time"
)

func TestSessionManagerIssueAndParse(t *testing.T) {
	manager, err := NewSessionManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}

	token, err := manager.Issue("user-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	userID, err := manager.Parse(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("expected subject user-1, got %q", userID)
	}
}

func TestSessionManagerRejectsExpiredToken(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	manager, err := NewSessionManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}
	manager.WithClock(func() time.Time { return issued })

	token, err := manager.Issue("user-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	manager.WithClock(func() time.Time { return issued.Add(2 * time.Hour) })

	if _, err := manager.Parse(token); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected ErrExpiredSessionToken, got %v", err)
	}
}

func TestSessionManagerRejectsForeignSignature(t *testing.T) {
	issuer, err := NewSessionManager("issuer-secret", time.Hour)
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}
	verifier, err := NewSessionManager("other-secret", time.Hour)
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}

	token, err := issuer.Issue("user-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if _, err := verifier.Parse(token); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected ErrInvalidSessionToken, got %v", err)
	}
}

func TestSessionManagerRejectsGarbage(t *testing.T) {
	manager, err := NewSessionManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}

	if _, err := manager.Parse("not.a.token"); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected ErrInvalidSessionToken, got %v", err)
	}
}

func TestNewSessionManagerRequiresSecret(t *testing.T) {
	if _, err := NewSessionManager("", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestSessionManagerIssueRequiresUser(t *testing.T) {
	manager, err := NewSessionManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}
	if _, err := manager.Issue(""); err == nil {
		t.Fatal("expected error for empty user id")
	}
}
