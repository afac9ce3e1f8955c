package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/forumkit/auth-gateway/internal/core/domain"
	"github.com/forumkit/auth-gateway/internal/core/port"
	"github.com/forumkit/auth-gateway/internal/infra/config"
	"github.com/forumkit/auth-gateway/internal/infra/logger"
	"github.com/forumkit/auth-gateway/internal/infra/security"
	"github.com/forumkit/auth-gateway/internal/repository"
)

// Password reset and change errors. Handlers map these to response codes.
var (
	ErrResetTokenInvalid  = errors.New("reset token invalid")
	ErrResetTokenExpired  = errors.New("reset token expired")
	ErrResetTokenRedeemed = errors.New("reset token already redeemed")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrPasswordReused     = errors.New("password was used recently")
	ErrAccountNotFound    = errors.New("account not found")
)

// ResetAcknowledgement is returned for every reset request, whether or not
// the account exists.
const ResetAcknowledgement = "If the account exists, instructions have been sent."

const resetTokenBytes = 32

// PasswordResetService implements the reset request, validation, redemption,
// and authenticated change flows.
type PasswordResetService struct {
	records   port.SecurityRecordStore
	tokens    port.ResetTokenStore
	deliverer port.ResetDeliverer
	limiter   port.AttemptLimiter
	events    port.EventPublisher
	policy    *security.PasswordPolicy
	throttle  config.ThrottleSettings
	resetTTL  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewPasswordResetService wires the reset flow.
func NewPasswordResetService(
	records port.SecurityRecordStore,
	tokens port.ResetTokenStore,
	deliverer port.ResetDeliverer,
	limiter port.AttemptLimiter,
	events port.EventPublisher,
	policy *security.PasswordPolicy,
	throttle config.ThrottleSettings,
	resetTTL time.Duration,
	log *zap.Logger,
) *PasswordResetService {
	if policy == nil {
		policy = security.NewPasswordPolicy()
	}
	if resetTTL <= 0 {
		resetTTL = 30 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &PasswordResetService{
		records:   records,
		tokens:    tokens,
		deliverer: deliverer,
		limiter:   limiter,
		events:    events,
		policy:    policy,
		throttle:  throttle,
		resetTTL:  resetTTL,
		logger:    log,
		now:       time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (s *PasswordResetService) WithClock(now func() time.Time) *PasswordResetService {
	if now != nil {
		s.now = now
	}
	return s
}

// RequestReset issues a reset token for the account behind email and hands
// it to the deliverer. The acknowledgement string is identical for unknown
// accounts, throttled requests, and delivery failures so callers cannot
// probe which addresses exist.
func (s *PasswordResetService) RequestReset(ctx context.Context, email, ip, requestID string) (string, error) {
	identity := NormalizeIdentity(email)
	if identity == "" {
		return ResetAcknowledgement, nil
	}

	if s.throttled(ctx, identity, ip) {
		s.logger.Warn("password reset request throttled",
			zap.String("identity", logger.MaskEmail(identity)),
			zap.String("ip", logger.MaskIP(ip)),
			zap.String("request_id", requestID),
		)
		return ResetAcknowledgement, nil
	}

	record, err := s.records.FindByIdentity(ctx, identity)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Info("password reset requested for unknown identity",
			zap.String("identity", logger.MaskEmail(identity)),
			zap.String("request_id", requestID),
		)
		return ResetAcknowledgement, nil
	}
	if err != nil {
		return "", fmt.Errorf("load security record: %w", err)
	}

	token, err := security.GenerateSecureToken(resetTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}

	now := s.now()
	expiresAt := now.Add(s.resetTTL)

	if _, err := s.tokens.Create(ctx, record.ID, security.HashToken(token), expiresAt, now); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}

	delivery := port.ResetDelivery{
		Email: record.Email,
		Name:  record.Name,
		Token: token,
	}

	method, err := s.deliverer.DeliverResetLink(ctx, delivery)
	if err != nil {
		// The token stays valid; the acknowledgement must not change.
		s.logger.Error("reset link delivery failed",
			zap.String("user_id", record.ID),
			zap.String("delivery", method),
			zap.Error(err),
		)
	}

	s.publishResetRequested(ctx, record, method, ip, requestID, expiresAt)

	return ResetAcknowledgement, nil
}

// ValidateResetToken checks whether the token may still be redeemed for the
// given identity.
func (s *PasswordResetService) ValidateResetToken(ctx context.Context, email, token string) error {
	_, _, err := s.loadRedeemable(ctx, email, token)
	return err
}

// RedeemResetToken rotates the credential after the token and the new
// password both pass. Policy failures leave the token unredeemed so the user
// can retry with a stronger password.
func (s *PasswordResetService) RedeemResetToken(ctx context.Context, email, token, password string) error {
	stored, record, err := s.loadRedeemable(ctx, email, token)
	if err != nil {
		return err
	}

	if err := s.rotate(ctx, record, password, "reset", func() error {
		if err := s.tokens.Redeem(ctx, stored.ID, s.now()); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrResetTokenRedeemed
			}
			return fmt.Errorf("redeem reset token: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}

	// A redeemed reset also unlocks the account; the owner has proven
	// control of the mailbox.
	if err := s.records.ClearLockout(ctx, record.ID); err != nil {
		s.logger.Warn("clear lockout after reset failed",
			zap.String("user_id", record.ID),
			zap.Error(err),
		)
	}

	return nil
}

// ChangePassword rotates the credential for an authenticated user.
func (s *PasswordResetService) ChangePassword(ctx context.Context, userID, password, confirmPassword string) error {
	if security.NormalizePassword(password) != security.NormalizePassword(confirmPassword) {
		return ErrPasswordMismatch
	}

	record, err := s.records.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("load security record: %w", err)
	}

	return s.rotate(ctx, record, password, "change", nil)
}

// rotate runs the shared policy gate and persists the new credential. The
// consume callback, when set, runs after the policy checks and before the
// rotation; it is how redemption burns the token only for valid requests.
func (s *PasswordResetService) rotate(ctx context.Context, record *domain.SecurityRecord, password, via string, consume func() error) error {
	if err := s.policy.ValidateStrength(password); err != nil {
		return err
	}

	reused, err := s.policy.IsReused(password, record)
	if err != nil {
		return fmt.Errorf("check password reuse: %w", err)
	}
	if reused {
		return ErrPasswordReused
	}

	if consume != nil {
		if err := consume(); err != nil {
			return err
		}
	}

	hash, err := security.HashPassword(security.NormalizePassword(password))
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	history := s.policy.RotateHistory(record)

	if err := s.records.RotateCredential(ctx, record.ID, hash, history, now); err != nil {
		return fmt.Errorf("rotate credential: %w", err)
	}

	s.publishPasswordChanged(ctx, record.ID, via)
	return nil
}

func (s *PasswordResetService) loadRedeemable(ctx context.Context, email, token string) (*domain.ResetToken, *domain.SecurityRecord, error) {
	identity := NormalizeIdentity(email)
	if identity == "" || token == "" {
		return nil, nil, ErrResetTokenInvalid
	}

	stored, err := s.tokens.FindByHash(ctx, security.HashToken(token))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrResetTokenInvalid
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load reset token: %w", err)
	}

	record, err := s.records.FindByIdentity(ctx, identity)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrResetTokenInvalid
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load security record: %w", err)
	}

	if stored.UserID != record.ID {
		return nil, nil, ErrResetTokenInvalid
	}
	if stored.Redeemed() {
		return nil, nil, ErrResetTokenRedeemed
	}
	if stored.Expired(s.now()) {
		return nil, nil, ErrResetTokenExpired
	}

	return stored, record, nil
}

func (s *PasswordResetService) throttled(ctx context.Context, identity, ip string) bool {
	if s.limiter == nil || s.throttle.ResetLimit <= 0 {
		return false
	}

	key := fmt.Sprintf("reset:%s:%s", identity, ip)
	count, err := s.limiter.Hit(ctx, key, s.throttle.WindowDuration)
	if err != nil {
		// Throttling is advisory; a limiter outage must not block resets.
		s.logger.Warn("reset throttle check failed", zap.Error(err))
		return false
	}

	return count > int64(s.throttle.ResetLimit)
}

func (s *PasswordResetService) publishResetRequested(ctx context.Context, record *domain.SecurityRecord, method, ip, requestID string, expiresAt time.Time) {
	if s.events == nil {
		return
	}

	event := domain.PasswordResetRequestedEvent{
		UserID:            record.ID,
		RequestID:         requestID,
		MaskedDestination: logger.MaskEmail(record.Email),
		Delivery:          method,
		IPAddress:         ip,
		ExpiresAt:         expiresAt,
		OccurredAt:        s.now(),
	}
	if err := s.events.PublishPasswordResetRequested(ctx, event); err != nil {
		s.logger.Warn("publish reset requested failed", zap.Error(err))
	}
}

func (s *PasswordResetService) publishPasswordChanged(ctx context.Context, userID, via string) {
	if s.events == nil {
		return
	}

	event := domain.PasswordChangedEvent{
		UserID:     userID,
		ChangedVia: via,
		OccurredAt: s.now(),
	}
	if err := s.events.PublishPasswordChanged(ctx, event); err != nil {
		s.logger.Warn("publish password changed failed", zap.Error(err))
	}
}
