package recaptcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/forumkit/auth-gateway/internal/core/domain"
	"github.com/forumkit/auth-gateway/internal/infra/config"
)

func newTestVerifier(t *testing.T, handler http.HandlerFunc, mutate func(*config.RecaptchaSettings)) *Verifier {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.RecaptchaSettings{
		Enabled:        true,
		SecretKey:      "test-secret",
		ScoreThreshold: 0.5,
		VerifyURL:      server.URL,
		Timeout:        time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	return NewVerifier(cfg, zap.NewNop())
}

func siteVerifyJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestVerifySkippedWhenDisabled(t *testing.T) {
	verifier := NewVerifier(config.RecaptchaSettings{Enabled: false}, zap.NewNop())

	result := verifier.Verify(context.Background(), "any-token", "login", domain.AuthAttemptContext{})
	if result.Outcome != domain.BotOutcomeSkipped {
		t.Fatalf("expected skipped outcome, got %q", result.Outcome)
	}
	if !result.Passed() {
		t.Fatal("skipped verification must allow the request")
	}
}

func TestVerifyFailsWithoutSecretKey(t *testing.T) {
	verifier := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("siteverify must not be called without a secret key")
	}, func(cfg *config.RecaptchaSettings) {
		cfg.SecretKey = "   "
	})

	result := verifier.Verify(context.Background(), "client-token", "login", domain.AuthAttemptContext{})
	if result.Outcome != domain.BotOutcomeFail || result.Reason != "config_error" {
		t.Fatalf("expected config_error failure, got %+v", result)
	}
}

func TestVerifyFailsOnMissingToken(t *testing.T) {
	verifier := newTestVerifier(t, siteVerifyJSON(`{"success":true}`), nil)

	for _, token := range []string{"", "   "} {
		result := verifier.Verify(context.Background(), token, "login", domain.AuthAttemptContext{})
		if result.Outcome != domain.BotOutcomeFail || result.Reason != "missing_token" {
			t.Fatalf("expected missing_token failure, got %+v", result)
		}
	}
}

func TestVerifyPassesAboveThreshold(t *testing.T) {
	verifier := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("secret") != "test-secret" {
			t.Fatalf("expected secret forwarded, got %q", r.PostForm.Get("secret"))
		}
		if r.PostForm.Get("response") != "client-token" {
			t.Fatalf("expected token forwarded, got %q", r.PostForm.Get("response"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"score":0.9,"action":"login","hostname":"example.org"}`))
	}, nil)

	result := verifier.Verify(context.Background(), "client-token", "login", domain.AuthAttemptContext{IP: "203.0.113.9"})
	if result.Outcome != domain.BotOutcomePass || result.Reason != "verified" {
		t.Fatalf("expected pass, got %+v", result)
	}
	if result.Score == nil || *result.Score != 0.9 {
		t.Fatalf("expected score carried through, got %v", result.Score)
	}
}

func TestVerifyFailsBelowThreshold(t *testing.T) {
	verifier := newTestVerifier(t, siteVerifyJSON(`{"success":true,"score":0.3,"action":"login"}`), nil)

	result := verifier.Verify(context.Background(), "client-token", "login", domain.AuthAttemptContext{})
	if result.Outcome != domain.BotOutcomeFail || result.Reason != "low_score" {
		t.Fatalf("expected low_score failure, got %+v", result)
	}
}

func TestVerifyFailsOnActionMismatch(t *testing.T) {
	verifier := newTestVerifier(t, siteVerifyJSON(`{"success":true,"score":0.9,"action":"checkout"}`), nil)

	result := verifier.Verify(context.Background(), "client-token", "login", domain.AuthAttemptContext{})
	if result.Outcome != domain.BotOutcomeFail || result.Reason != "action_mismatch" {
		t.Fatalf("expected action_mismatch failure, got %+v", result)
	}
}

func TestVerifyActionMismatchWinsOverLowScore(t *testing.T) {
	// A response failing both checks reports the mismatch, not the score.
	verifier := newTestVerifier(t, siteVerifyJSON(`{"success":true,"score":0.3,"action":"checkout"}`), nil)

	result := verifier.Verify(context.Background(), "client-token", "login", domain.AuthAttemptContext{})
	if result.Outcome != domain.BotOutcomeFail || result.Reason != "action_mismatch" {
		t.Fatalf("expected action_mismatch failure, got %+v", result)
	}
}

func TestVerifyFailsOnAPIRejection(t *testing.T) {
	verifier := newTestVerifier(t, siteVerifyJSON(`{"success":false,"error-codes":["invalid-input-response"]}`), nil)

	result := verifier.Verify(context.Background(), "client-token", "login", domain.AuthAttemptContext{})
	if result.Outcome != domain.BotOutcomeFail || result.Reason != "api_rejected" {
		t.Fatalf("expected api_rejected failure, got %+v", result)
	}
	if len(result.ErrorCodes) != 1 || result.ErrorCodes[0] != "invalid-input-response" {
		t.Fatalf("expected error codes carried through, got %v", result.ErrorCodes)
	}
}

func TestVerifyFailsClosedOnUnreachableAPI(t *testing.T) {
	server := httptest.NewServer(siteVerifyJSON(`{"success":true}`))
	server.Close()

	cfg := config.RecaptchaSettings{
		Enabled:        true,
		SecretKey:      "test-secret",
		ScoreThreshold: 0.5,
		VerifyURL:      server.URL,
		Timeout:        time.Second,
	}
	verifier := NewVerifier(cfg, zap.NewNop())

	result := verifier.Verify(context.Background(), "client-token", "login", domain.AuthAttemptContext{})
	if result.Outcome != domain.BotOutcomeFail || result.Reason != "verification_error" {
		t.Fatalf("expected verification_error failure, got %+v", result)
	}
}

func TestVerifyFailsClosedOnServerError(t *testing.T) {
	verifier := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"success":true,"score":0.9,"action":"login"}`))
	}, nil)

	result := verifier.Verify(context.Background(), "client-token", "login", domain.AuthAttemptContext{})
	if result.Outcome != domain.BotOutcomeFail || result.Reason != "verification_error" {
		t.Fatalf("expected verification_error failure, got %+v", result)
	}
}

func TestVerifyFailsClosedOnMalformedResponse(t *testing.T) {
	verifier := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}, nil)

	result := verifier.Verify(context.Background(), "client-token", "login", domain.AuthAttemptContext{})
	if result.Outcome != domain.BotOutcomeFail || result.Reason != "verification_error" {
		t.Fatalf("expected verification_error failure, got %+v", result)
	}
}

func TestVerifyMissingScoreStillPasses(t *testing.T) {
	// v2-style responses carry no score; success alone decides.
	verifier := newTestVerifier(t, siteVerifyJSON(`{"success":true,"action":"login"}`), nil)

	result := verifier.Verify(context.Background(), "client-token", "login", domain.AuthAttemptContext{})
	if result.Outcome != domain.BotOutcomePass {
		t.Fatalf("expected pass without score, got %+v", result)
	}
}
