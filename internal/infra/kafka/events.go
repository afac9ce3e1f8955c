package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/forumkit/auth-gateway/internal/core/domain"
	"github.com/forumkit/auth-gateway/internal/core/port"
	"github.com/forumkit/auth-gateway/internal/infra/config"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventType, userID, requestID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if requestID != "" {
		metadata["request_id"] = requestID
	}

	envelope := eventEnvelope{
		EventID:   uuid.NewString(),
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishLoginAudit publishes forum.auth.login_audit events.
func (p *EventPublisher) PublishLoginAudit(ctx context.Context, event domain.LoginAuditEvent) error {
	payload := struct {
		UserID         string    `json:"user_id,omitempty"`
		MaskedIdentity string    `json:"masked_identity"`
		Outcome        string    `json:"outcome"`
		FailedAttempts int       `json:"failed_attempts"`
		Locked         bool      `json:"locked"`
		IPAddress      string    `json:"ip_address,omitempty"`
		UserAgent      string    `json:"user_agent,omitempty"`
		OccurredAt     time.Time `json:"occurred_at"`
	}{
		UserID:         event.UserID,
		MaskedIdentity: event.MaskedIdentity,
		Outcome:        event.Outcome,
		FailedAttempts: event.FailedAttempts,
		Locked:         event.Locked,
		IPAddress:      event.IPAddress,
		UserAgent:      event.UserAgent,
		OccurredAt:     event.OccurredAt.UTC(),
	}

	return p.publish(ctx, "forum.auth.login_audit", event.UserID, event.RequestID, event.OccurredAt, payload)
}

// PublishAccountLocked publishes forum.auth.account_locked events.
func (p *EventPublisher) PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error {
	payload := struct {
		UserID         string    `json:"user_id"`
		MaskedIdentity string    `json:"masked_identity"`
		FailedAttempts int       `json:"failed_attempts"`
		LockedUntil    time.Time `json:"locked_until"`
		IPAddress      string    `json:"ip_address,omitempty"`
		OccurredAt     time.Time `json:"occurred_at"`
	}{
		UserID:         event.UserID,
		MaskedIdentity: event.MaskedIdentity,
		FailedAttempts: event.FailedAttempts,
		LockedUntil:    event.LockedUntil.UTC(),
		IPAddress:      event.IPAddress,
		OccurredAt:     event.OccurredAt.UTC(),
	}

	return p.publish(ctx, "forum.auth.account_locked", event.UserID, "", event.OccurredAt, payload)
}

// PublishBotVerificationFailed publishes forum.auth.bot_verification_failed events.
func (p *EventPublisher) PublishBotVerificationFailed(ctx context.Context, event domain.BotVerificationFailedEvent) error {
	payload := struct {
		Operation      string    `json:"operation"`
		MaskedIdentity string    `json:"masked_identity,omitempty"`
		Reason         string    `json:"reason"`
		Score          *float64  `json:"score,omitempty"`
		IPAddress      string    `json:"ip_address,omitempty"`
		OccurredAt     time.Time `json:"occurred_at"`
	}{
		Operation:      event.Operation,
		MaskedIdentity: event.MaskedIdentity,
		Reason:         event.Reason,
		Score:          event.Score,
		IPAddress:      event.IPAddress,
		OccurredAt:     event.OccurredAt.UTC(),
	}

	return p.publish(ctx, "forum.auth.bot_verification_failed", "", event.RequestID, event.OccurredAt, payload)
}

// PublishPasswordResetRequested publishes forum.auth.password_reset_requested events.
func (p *EventPublisher) PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error {
	payload := struct {
		UserID            string    `json:"user_id"`
		MaskedDestination string    `json:"masked_destination"`
		Delivery          string    `json:"delivery"`
		IPAddress         string    `json:"ip_address,omitempty"`
		ExpiresAt         time.Time `json:"expires_at"`
		OccurredAt        time.Time `json:"occurred_at"`
	}{
		UserID:            event.UserID,
		MaskedDestination: event.MaskedDestination,
		Delivery:          event.Delivery,
		IPAddress:         event.IPAddress,
		ExpiresAt:         event.ExpiresAt.UTC(),
		OccurredAt:        event.OccurredAt.UTC(),
	}

	return p.publish(ctx, "forum.auth.password_reset_requested", event.UserID, event.RequestID, event.OccurredAt, payload)
}

// PublishPasswordChanged publishes forum.auth.password_changed events.
func (p *EventPublisher) PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error {
	payload := struct {
		UserID     string    `json:"user_id"`
		ChangedVia string    `json:"changed_via"`
		OccurredAt time.Time `json:"occurred_at"`
	}{
		UserID:     event.UserID,
		ChangedVia: event.ChangedVia,
		OccurredAt: event.OccurredAt.UTC(),
	}

	return p.publish(ctx, "forum.auth.password_changed", event.UserID, "", event.OccurredAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
