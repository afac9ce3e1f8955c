package port

import (
	"context"

	"github.com/forumkit/auth-gateway/internal/core/domain"
)

// EventPublisher publishes security audit events to the event bus.
type EventPublisher interface {
	PublishLoginAudit(ctx context.Context, event domain.LoginAuditEvent) error
	PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error
	PublishBotVerificationFailed(ctx context.Context, event domain.BotVerificationFailedEvent) error
	PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error
	PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error
}
