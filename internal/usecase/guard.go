package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/forumkit/auth-gateway/internal/core/domain"
	"github.com/forumkit/auth-gateway/internal/core/port"
	"github.com/forumkit/auth-gateway/internal/infra/logger"
	"github.com/forumkit/auth-gateway/internal/infra/security"
	"github.com/forumkit/auth-gateway/internal/repository"
)

// Error codes surfaced in GraphQL error extensions when the pre-phase
// short-circuits a request.
const (
	CodeAccountLocked   = "ACCOUNT_LOCKED"
	CodeRecaptchaFailed = "RECAPTCHA_FAILED"
)

// Captcha actions expected per gated operation.
const (
	captchaActionLogin       = "login"
	captchaActionForgotReset = "forgot_password"
)

// PreDecision is the pre-phase verdict. A disallowed request never reaches
// the wrapped operation.
type PreDecision struct {
	Allow         bool
	Code          string
	Message       string
	BotFailed     bool
	AccountLocked bool

	// Record is the security record loaded during the lockout check, when
	// one was found. Saved so the post-phase does not reload it.
	Record *domain.SecurityRecord
}

// PostSignals carries the post-phase bookkeeping results back to transport.
type PostSignals struct {
	AccountLocked         bool
	RequirePasswordChange bool
	FailureMessage        string
}

// AuthGuard is the two-phase interception pipeline around authentication
// operations. The pre-phase fails closed, the post-phase fails open.
type AuthGuard struct {
	records port.SecurityRecordStore
	bots    port.BotVerifier
	events  port.EventPublisher
	policy  *security.PasswordPolicy
	lockout domain.LockoutPolicy
	logger  *zap.Logger
	now     func() time.Time
}

// NewAuthGuard wires the interception pipeline.
func NewAuthGuard(
	records port.SecurityRecordStore,
	bots port.BotVerifier,
	events port.EventPublisher,
	policy *security.PasswordPolicy,
	lockout domain.LockoutPolicy,
	log *zap.Logger,
) *AuthGuard {
	if policy == nil {
		policy = security.NewPasswordPolicy()
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &AuthGuard{
		records: records,
		bots:    bots,
		events:  events,
		policy:  policy,
		lockout: lockout,
		logger:  log,
		now:     time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (g *AuthGuard) WithClock(now func() time.Time) *AuthGuard {
	if now != nil {
		g.now = now
	}
	return g
}

// ClassifyOperation maps a GraphQL request to the operation kind the
// pipeline understands. Both the operation name and the query text are
// inspected because clients do not always send an operation name.
func ClassifyOperation(operationName, query string) domain.OperationKind {
	haystack := operationName + " " + query

	switch {
	case strings.Contains(haystack, "authenticateUserWithPassword"):
		return domain.OperationLogin
	case strings.Contains(haystack, "sendUserPasswordResetLink"):
		return domain.OperationRequestReset
	case strings.Contains(haystack, "redeemUserPasswordResetToken"):
		return domain.OperationRedeemReset
	default:
		return domain.OperationOther
	}
}

// PreCheck gates the request before the wrapped operation runs: bot
// verification for login and reset requests, lockout evaluation for login.
func (g *AuthGuard) PreCheck(ctx context.Context, attempt domain.AuthAttemptContext) *PreDecision {
	if attempt.Kind == domain.OperationLogin || attempt.Kind == domain.OperationRequestReset {
		action := captchaActionLogin
		if attempt.Kind == domain.OperationRequestReset {
			action = captchaActionForgotReset
		}

		result := g.bots.Verify(ctx, attempt.CaptchaToken, action, attempt)
		if !result.Passed() {
			g.publishBotFailure(ctx, attempt, result)
			return &PreDecision{
				Allow:     false,
				Code:      CodeRecaptchaFailed,
				Message:   "Request blocked: could not verify you are human.",
				BotFailed: true,
			}
		}
	}

	if attempt.Kind != domain.OperationLogin {
		return &PreDecision{Allow: true}
	}

	identity := NormalizeIdentity(attempt.Identity)
	if identity == "" {
		return &PreDecision{Allow: true}
	}

	record, err := g.records.FindByIdentity(ctx, identity)
	if errors.Is(err, repository.ErrNotFound) {
		return &PreDecision{Allow: true}
	}
	if err != nil {
		// The login itself will fail generically; do not block on a read
		// error here.
		g.logger.Warn("lockout pre-check read failed",
			zap.String("identity", logger.MaskEmail(identity)),
			zap.String("request_id", attempt.RequestID),
			zap.Error(err),
		)
		return &PreDecision{Allow: true}
	}

	now := g.now()

	if domain.ShouldResetOnExpiry(record, now) {
		if err := g.records.ClearLockout(ctx, record.ID); err != nil {
			g.logger.Warn("clear expired lockout failed",
				zap.String("user_id", record.ID),
				zap.Error(err),
			)
		} else {
			cleared := g.lockout.OnSuccess(*record)
			record = &cleared
		}
	}

	if domain.IsLocked(record, now) {
		message := lockMessage(domain.RemainingLock(record, now))
		g.audit(ctx, attempt, record, "blocked_locked", record.LoginFailedAttempts, true)
		return &PreDecision{
			Allow:         false,
			Code:          CodeAccountLocked,
			Message:       message,
			AccountLocked: true,
			Record:        record,
		}
	}

	return &PreDecision{Allow: true, Record: record}
}

// PostLogin performs the bookkeeping after a login attempt was executed.
// Every path is fail open: store or publisher errors are logged and the
// response proceeds unchanged.
func (g *AuthGuard) PostLogin(ctx context.Context, attempt domain.AuthAttemptContext, pre *PreDecision, outcome *domain.AuthOutcome) PostSignals {
	var signals PostSignals
	now := g.now()

	if outcome.Succeeded() {
		record := outcome.Success.Record
		if record.LoginFailedAttempts > 0 || record.AccountLockedUntil != nil || record.LastFailedLoginAt != nil {
			if err := g.records.ClearLockout(ctx, record.ID); err != nil {
				g.logger.Warn("clear lockout after success failed",
					zap.String("user_id", record.ID),
					zap.Error(err),
				)
			}
		}

		signals.RequirePasswordChange = g.policy.Expired(record, now)
		g.audit(ctx, attempt, record, "success", 0, false)
		return signals
	}

	var known *domain.SecurityRecord
	if pre != nil {
		known = pre.Record
	}

	if known == nil {
		signals.FailureMessage = genericAuthFailure
		g.audit(ctx, attempt, nil, "failure", 0, false)
		return signals
	}

	updated, err := g.records.RecordFailure(ctx, known.ID, now, g.lockout)
	if err != nil {
		g.logger.Error("record login failure failed",
			zap.String("user_id", known.ID),
			zap.Error(err),
		)
		signals.FailureMessage = genericAuthFailure
		g.audit(ctx, attempt, known, "failure", known.LoginFailedAttempts, false)
		return signals
	}

	locked := domain.IsLocked(updated, now)
	if locked {
		signals.AccountLocked = true
		signals.FailureMessage = lockMessage(domain.RemainingLock(updated, now))

		if updated.LoginFailedAttempts == g.lockout.EffectiveMaxAttempts() {
			g.publishAccountLocked(ctx, attempt, updated)
		}
	} else {
		signals.FailureMessage = remainingAttemptsMessage(g.lockout.EffectiveMaxAttempts() - updated.LoginFailedAttempts)
	}

	g.audit(ctx, attempt, updated, "failure", updated.LoginFailedAttempts, locked)
	return signals
}

func lockMessage(remaining time.Duration) string {
	minutes := int(remaining.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Your account is temporarily locked after repeated failed sign-in attempts. Try again in %d minute(s).", minutes)
}

func remainingAttemptsMessage(remaining int) string {
	if remaining < 1 {
		remaining = 1
	}
	return fmt.Sprintf("Invalid credentials. %d attempt(s) remaining before your account is temporarily locked.", remaining)
}

// audit writes exactly one structured log entry per evaluated attempt and
// mirrors it to the event bus.
func (g *AuthGuard) audit(ctx context.Context, attempt domain.AuthAttemptContext, record *domain.SecurityRecord, outcome string, attempts int, locked bool) {
	masked := logger.MaskEmail(NormalizeIdentity(attempt.Identity))

	userID := ""
	if record != nil {
		userID = record.ID
	}

	g.logger.Info("login attempt",
		zap.String("outcome", outcome),
		zap.String("identity", masked),
		zap.String("user_id", userID),
		zap.Int("failed_attempts", attempts),
		zap.Bool("locked", locked),
		zap.String("ip", logger.MaskIP(attempt.IP)),
		zap.String("user_agent", attempt.UserAgent),
		zap.String("request_id", attempt.RequestID),
	)

	if g.events == nil {
		return
	}

	event := domain.LoginAuditEvent{
		RequestID:      attempt.RequestID,
		UserID:         userID,
		MaskedIdentity: masked,
		Outcome:        outcome,
		FailedAttempts: attempts,
		Locked:         locked,
		IPAddress:      attempt.IP,
		UserAgent:      attempt.UserAgent,
		OccurredAt:     g.now(),
	}
	if err := g.events.PublishLoginAudit(ctx, event); err != nil {
		g.logger.Warn("publish login audit failed", zap.Error(err))
	}
}

func (g *AuthGuard) publishBotFailure(ctx context.Context, attempt domain.AuthAttemptContext, result domain.BotVerificationResult) {
	if g.events == nil {
		return
	}

	event := domain.BotVerificationFailedEvent{
		RequestID:      attempt.RequestID,
		Operation:      attempt.OperationName,
		MaskedIdentity: logger.MaskEmail(NormalizeIdentity(attempt.Identity)),
		Reason:         result.Reason,
		Score:          result.Score,
		IPAddress:      attempt.IP,
		OccurredAt:     g.now(),
	}
	if err := g.events.PublishBotVerificationFailed(ctx, event); err != nil {
		g.logger.Warn("publish bot verification failure failed", zap.Error(err))
	}
}

func (g *AuthGuard) publishAccountLocked(ctx context.Context, attempt domain.AuthAttemptContext, record *domain.SecurityRecord) {
	if g.events == nil || record.AccountLockedUntil == nil {
		return
	}

	event := domain.AccountLockedEvent{
		UserID:         record.ID,
		MaskedIdentity: logger.MaskEmail(record.Email),
		FailedAttempts: record.LoginFailedAttempts,
		LockedUntil:    *record.AccountLockedUntil,
		IPAddress:      attempt.IP,
		OccurredAt:     g.now(),
	}
	if err := g.events.PublishAccountLocked(ctx, event); err != nil {
		g.logger.Warn("publish account locked failed", zap.Error(err))
	}
}
