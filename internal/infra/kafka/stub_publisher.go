package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/forumkit/auth-gateway/internal/core/domain"
	"github.com/forumkit/auth-gateway/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for
// development environments without a broker.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishLoginAudit logs forum.auth.login_audit events.
func (p *StubPublisher) PublishLoginAudit(_ context.Context, event domain.LoginAuditEvent) error {
	payload := map[string]any{
		"request_id":      event.RequestID,
		"masked_identity": event.MaskedIdentity,
		"outcome":         event.Outcome,
		"failed_attempts": event.FailedAttempts,
		"locked":          event.Locked,
		"ip_address":      event.IPAddress,
		"user_agent":      event.UserAgent,
	}
	p.logEvent("forum.auth.login_audit", event.UserID, event.OccurredAt, payload)
	return nil
}

// PublishAccountLocked logs forum.auth.account_locked events.
func (p *StubPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	payload := map[string]any{
		"masked_identity": event.MaskedIdentity,
		"failed_attempts": event.FailedAttempts,
		"locked_until":    event.LockedUntil,
		"ip_address":      event.IPAddress,
	}
	p.logEvent("forum.auth.account_locked", event.UserID, event.OccurredAt, payload)
	return nil
}

// PublishBotVerificationFailed logs forum.auth.bot_verification_failed events.
func (p *StubPublisher) PublishBotVerificationFailed(_ context.Context, event domain.BotVerificationFailedEvent) error {
	payload := map[string]any{
		"request_id":      event.RequestID,
		"operation":       event.Operation,
		"masked_identity": event.MaskedIdentity,
		"reason":          event.Reason,
		"score":           event.Score,
		"ip_address":      event.IPAddress,
	}
	p.logEvent("forum.auth.bot_verification_failed", "", event.OccurredAt, payload)
	return nil
}

// PublishPasswordResetRequested logs forum.auth.password_reset_requested events.
func (p *StubPublisher) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	payload := map[string]any{
		"request_id":         event.RequestID,
		"masked_destination": event.MaskedDestination,
		"delivery":           event.Delivery,
		"ip_address":         event.IPAddress,
		"expires_at":         event.ExpiresAt,
	}
	p.logEvent("forum.auth.password_reset_requested", event.UserID, event.OccurredAt, payload)
	return nil
}

// PublishPasswordChanged logs forum.auth.password_changed events.
func (p *StubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	payload := map[string]any{
		"changed_via": event.ChangedVia,
	}
	p.logEvent("forum.auth.password_changed", event.UserID, event.OccurredAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
