package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/forumkit/auth-gateway/internal/core/domain"
)

var guardNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestGuard(records *recordStoreStub, bots *botVerifierStub, events *eventRecorderStub) *AuthGuard {
	guard := NewAuthGuard(records, bots, events, nil, domain.DefaultLockoutPolicy(), zap.NewNop())
	return guard.WithClock(func() time.Time { return guardNow })
}

func passingBot() *botVerifierStub {
	return &botVerifierStub{result: domain.BotVerificationResult{Outcome: domain.BotOutcomePass, Reason: "verified"}}
}

func failingBot(reason string) *botVerifierStub {
	return &botVerifierStub{result: domain.BotVerificationResult{Outcome: domain.BotOutcomeFail, Reason: reason}}
}

func TestClassifyOperation(t *testing.T) {
	cases := []struct {
		name          string
		operationName string
		query         string
		want          domain.OperationKind
	}{
		{name: "login by operation name", operationName: "authenticateUserWithPassword", want: domain.OperationLogin},
		{name: "login by query body", query: "mutation { authenticateUserWithPassword(email: $email, password: $password) { __typename } }", want: domain.OperationLogin},
		{name: "reset request", query: "mutation { sendUserPasswordResetLink(email: $email) }", want: domain.OperationRequestReset},
		{name: "reset redemption", query: "mutation { redeemUserPasswordResetToken(email: $email, token: $token, password: $password) { code } }", want: domain.OperationRedeemReset},
		{name: "unrelated query", query: "query { posts { id } }", want: domain.OperationOther},
		{name: "empty request", want: domain.OperationOther},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyOperation(tc.operationName, tc.query); got != tc.want {
				t.Fatalf("ClassifyOperation = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPreCheckSkipsBotVerificationForOtherOperations(t *testing.T) {
	bots := failingBot("missing_token")
	guard := newTestGuard(newRecordStoreStub(), bots, &eventRecorderStub{})

	decision := guard.PreCheck(context.Background(), domain.AuthAttemptContext{Kind: domain.OperationOther})
	if !decision.Allow {
		t.Fatal("expected unrelated operations to pass untouched")
	}
	if bots.calls != 0 {
		t.Fatalf("expected no bot verification, got %d calls", bots.calls)
	}
}

func TestPreCheckBlocksLoginOnBotFailure(t *testing.T) {
	bots := failingBot("low_score")
	events := &eventRecorderStub{}
	guard := newTestGuard(newRecordStoreStub(), bots, events)

	decision := guard.PreCheck(context.Background(), domain.AuthAttemptContext{
		Kind:          domain.OperationLogin,
		OperationName: "authenticateUserWithPassword",
		Identity:      "user@example.org",
		CaptchaToken:  "client-token",
	})

	if decision.Allow {
		t.Fatal("expected bot failure to block the request")
	}
	if decision.Code != CodeRecaptchaFailed {
		t.Fatalf("expected code %q, got %q", CodeRecaptchaFailed, decision.Code)
	}
	if !decision.BotFailed {
		t.Fatal("expected BotFailed signal")
	}
	if bots.gotToken != "client-token" || bots.gotAction != "login" {
		t.Fatalf("unexpected verification call: token=%q action=%q", bots.gotToken, bots.gotAction)
	}
	if len(events.botFailures) != 1 {
		t.Fatalf("expected one bot failure event, got %d", len(events.botFailures))
	}
	if events.botFailures[0].Reason != "low_score" {
		t.Fatalf("expected reason carried into event, got %q", events.botFailures[0].Reason)
	}
}

func TestPreCheckUsesResetActionForResetRequests(t *testing.T) {
	bots := passingBot()
	guard := newTestGuard(newRecordStoreStub(), bots, &eventRecorderStub{})

	decision := guard.PreCheck(context.Background(), domain.AuthAttemptContext{
		Kind:         domain.OperationRequestReset,
		CaptchaToken: "client-token",
	})

	if !decision.Allow {
		t.Fatal("expected passing verification to allow the request")
	}
	if bots.gotAction != "forgot_password" {
		t.Fatalf("expected forgot_password action, got %q", bots.gotAction)
	}
}

func TestPreCheckAllowsUnknownIdentity(t *testing.T) {
	guard := newTestGuard(newRecordStoreStub(), passingBot(), &eventRecorderStub{})

	decision := guard.PreCheck(context.Background(), domain.AuthAttemptContext{
		Kind:     domain.OperationLogin,
		Identity: "nobody@example.org",
	})

	if !decision.Allow {
		t.Fatal("expected unknown identity to pass through to credential check")
	}
}

func TestPreCheckBlocksLockedAccount(t *testing.T) {
	lockedUntil := guardNow.Add(10 * time.Minute)
	records := newRecordStoreStub(domain.SecurityRecord{
		ID:                  "user-1",
		Email:               "user@example.org",
		LoginFailedAttempts: 5,
		AccountLockedUntil:  &lockedUntil,
	})
	events := &eventRecorderStub{}
	guard := newTestGuard(records, passingBot(), events)

	decision := guard.PreCheck(context.Background(), domain.AuthAttemptContext{
		Kind:     domain.OperationLogin,
		Identity: "User@Example.org",
	})

	if decision.Allow {
		t.Fatal("expected locked account to be blocked")
	}
	if decision.Code != CodeAccountLocked {
		t.Fatalf("expected code %q, got %q", CodeAccountLocked, decision.Code)
	}
	if !decision.AccountLocked {
		t.Fatal("expected AccountLocked signal")
	}
	if !strings.Contains(decision.Message, "10 minute") {
		t.Fatalf("expected remaining minutes in message, got %q", decision.Message)
	}
	if len(events.loginAudits) != 1 || events.loginAudits[0].Outcome != "blocked_locked" {
		t.Fatalf("expected one blocked_locked audit, got %+v", events.loginAudits)
	}
}

func TestPreCheckClearsExpiredLock(t *testing.T) {
	expired := guardNow.Add(-time.Minute)
	records := newRecordStoreStub(domain.SecurityRecord{
		ID:                  "user-1",
		Email:               "user@example.org",
		LoginFailedAttempts: 5,
		AccountLockedUntil:  &expired,
	})
	guard := newTestGuard(records, passingBot(), &eventRecorderStub{})

	decision := guard.PreCheck(context.Background(), domain.AuthAttemptContext{
		Kind:     domain.OperationLogin,
		Identity: "user@example.org",
	})

	if !decision.Allow {
		t.Fatal("expected expired lock to clear and allow the attempt")
	}
	if len(records.clearedIDs) != 1 || records.clearedIDs[0] != "user-1" {
		t.Fatalf("expected lockout cleared for user-1, got %v", records.clearedIDs)
	}
	if decision.Record == nil || decision.Record.LoginFailedAttempts != 0 {
		t.Fatalf("expected decision to carry the cleared record, got %+v", decision.Record)
	}
}

func TestPostLoginSuccessClearsCountersAndFlagsExpiry(t *testing.T) {
	failedAt := guardNow.Add(-time.Minute)
	stale := guardNow.Add(-200 * 24 * time.Hour)
	record := domain.SecurityRecord{
		ID:                  "user-1",
		Email:               "user@example.org",
		LoginFailedAttempts: 3,
		LastFailedLoginAt:   &failedAt,
		PasswordUpdatedAt:   &stale,
	}
	records := newRecordStoreStub(record)
	events := &eventRecorderStub{}
	guard := newTestGuard(records, passingBot(), events)

	outcome := &domain.AuthOutcome{Success: &domain.AuthSuccess{Record: &record, SessionToken: "token"}}
	signals := guard.PostLogin(context.Background(), domain.AuthAttemptContext{Kind: domain.OperationLogin, Identity: "user@example.org"}, &PreDecision{Allow: true}, outcome)

	if len(records.clearedIDs) != 1 {
		t.Fatalf("expected lockout cleared on success, got %v", records.clearedIDs)
	}
	if !signals.RequirePasswordChange {
		t.Fatal("expected stale credential to require a password change")
	}
	if len(events.loginAudits) != 1 || events.loginAudits[0].Outcome != "success" {
		t.Fatalf("expected one success audit, got %+v", events.loginAudits)
	}
}

func TestPostLoginSuccessWithCleanRecordSkipsClear(t *testing.T) {
	fresh := guardNow.Add(-time.Hour)
	record := domain.SecurityRecord{ID: "user-1", Email: "user@example.org", PasswordUpdatedAt: &fresh}
	records := newRecordStoreStub(record)
	guard := newTestGuard(records, passingBot(), &eventRecorderStub{})

	outcome := &domain.AuthOutcome{Success: &domain.AuthSuccess{Record: &record}}
	signals := guard.PostLogin(context.Background(), domain.AuthAttemptContext{Kind: domain.OperationLogin}, &PreDecision{Allow: true}, outcome)

	if len(records.clearedIDs) != 0 {
		t.Fatalf("expected no clear for a clean record, got %v", records.clearedIDs)
	}
	if signals.RequirePasswordChange {
		t.Fatal("expected fresh credential to pass the expiry check")
	}
}

func TestPostLoginFailureIncrementsCounter(t *testing.T) {
	record := domain.SecurityRecord{ID: "user-1", Email: "user@example.org", LoginFailedAttempts: 1}
	records := newRecordStoreStub(record)
	events := &eventRecorderStub{}
	guard := newTestGuard(records, passingBot(), events)

	outcome := &domain.AuthOutcome{Failure: &domain.AuthFailure{Message: genericAuthFailure}}
	signals := guard.PostLogin(context.Background(), domain.AuthAttemptContext{Kind: domain.OperationLogin, Identity: "user@example.org"}, &PreDecision{Allow: true, Record: &record}, outcome)

	if signals.AccountLocked {
		t.Fatal("expected no lock below threshold")
	}
	if !strings.Contains(signals.FailureMessage, "3 attempt(s) remaining") {
		t.Fatalf("expected remaining attempts message, got %q", signals.FailureMessage)
	}
	if stored := records.byID["user-1"]; stored.LoginFailedAttempts != 2 {
		t.Fatalf("expected counter incremented to 2, got %d", stored.LoginFailedAttempts)
	}
	if len(events.accountLocked) != 0 {
		t.Fatalf("expected no lock event, got %+v", events.accountLocked)
	}
}

func TestPostLoginFailureLocksAtThreshold(t *testing.T) {
	record := domain.SecurityRecord{ID: "user-1", Email: "user@example.org", LoginFailedAttempts: 4}
	records := newRecordStoreStub(record)
	events := &eventRecorderStub{}
	guard := newTestGuard(records, passingBot(), events)

	outcome := &domain.AuthOutcome{Failure: &domain.AuthFailure{Message: genericAuthFailure}}
	signals := guard.PostLogin(context.Background(), domain.AuthAttemptContext{Kind: domain.OperationLogin, Identity: "user@example.org"}, &PreDecision{Allow: true, Record: &record}, outcome)

	if !signals.AccountLocked {
		t.Fatal("expected lock at threshold")
	}
	if !strings.Contains(signals.FailureMessage, "temporarily locked") {
		t.Fatalf("expected lock message, got %q", signals.FailureMessage)
	}
	if len(events.accountLocked) != 1 {
		t.Fatalf("expected one lock event, got %d", len(events.accountLocked))
	}
	if events.accountLocked[0].FailedAttempts != 5 {
		t.Fatalf("expected lock event at 5 attempts, got %d", events.accountLocked[0].FailedAttempts)
	}
	if len(events.loginAudits) != 1 || !events.loginAudits[0].Locked {
		t.Fatalf("expected locked failure audit, got %+v", events.loginAudits)
	}
}

func TestPostLoginFailureAlreadyLockedDoesNotRepublish(t *testing.T) {
	record := domain.SecurityRecord{ID: "user-1", Email: "user@example.org", LoginFailedAttempts: 5}
	records := newRecordStoreStub(record)
	events := &eventRecorderStub{}
	guard := newTestGuard(records, passingBot(), events)

	outcome := &domain.AuthOutcome{Failure: &domain.AuthFailure{Message: genericAuthFailure}}
	signals := guard.PostLogin(context.Background(), domain.AuthAttemptContext{Kind: domain.OperationLogin, Identity: "user@example.org"}, &PreDecision{Allow: true, Record: &record}, outcome)

	if !signals.AccountLocked {
		t.Fatal("expected lock past threshold")
	}
	if len(events.accountLocked) != 0 {
		t.Fatalf("expected lock event only at the crossing attempt, got %d", len(events.accountLocked))
	}
}

func TestPostLoginFailureForUnknownIdentityStaysGeneric(t *testing.T) {
	records := newRecordStoreStub()
	events := &eventRecorderStub{}
	guard := newTestGuard(records, passingBot(), events)

	outcome := &domain.AuthOutcome{Failure: &domain.AuthFailure{Message: genericAuthFailure}}
	signals := guard.PostLogin(context.Background(), domain.AuthAttemptContext{Kind: domain.OperationLogin, Identity: "nobody@example.org"}, &PreDecision{Allow: true}, outcome)

	if signals.FailureMessage != genericAuthFailure {
		t.Fatalf("expected generic failure message, got %q", signals.FailureMessage)
	}
	if signals.AccountLocked {
		t.Fatal("expected no lock for unknown identity")
	}
	if len(events.loginAudits) != 1 || events.loginAudits[0].Outcome != "failure" {
		t.Fatalf("expected one failure audit, got %+v", events.loginAudits)
	}
}

func TestPostLoginFailureStoreErrorFailsOpen(t *testing.T) {
	record := domain.SecurityRecord{ID: "user-1", Email: "user@example.org", LoginFailedAttempts: 2}
	records := newRecordStoreStub(record)
	records.recordFailureErr = context.DeadlineExceeded
	guard := newTestGuard(records, passingBot(), &eventRecorderStub{})

	outcome := &domain.AuthOutcome{Failure: &domain.AuthFailure{Message: genericAuthFailure}}
	signals := guard.PostLogin(context.Background(), domain.AuthAttemptContext{Kind: domain.OperationLogin, Identity: "user@example.org"}, &PreDecision{Allow: true, Record: &record}, outcome)

	if signals.FailureMessage != genericAuthFailure {
		t.Fatalf("expected generic failure message on store error, got %q", signals.FailureMessage)
	}
	if signals.AccountLocked {
		t.Fatal("expected no lock signal on store error")
	}
}
