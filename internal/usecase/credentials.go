package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/forumkit/auth-gateway/internal/core/domain"
	"github.com/forumkit/auth-gateway/internal/core/port"
	"github.com/forumkit/auth-gateway/internal/infra/logger"
	"github.com/forumkit/auth-gateway/internal/infra/security"
	"github.com/forumkit/auth-gateway/internal/repository"
)

// genericAuthFailure is returned for every non-success path so callers
// cannot distinguish unknown accounts from wrong passwords.
const genericAuthFailure = "Authentication failed."

// CredentialService verifies account credentials and issues session tokens.
type CredentialService struct {
	records  port.SecurityRecordStore
	sessions port.SessionTokens
	logger   *zap.Logger
}

// NewCredentialService wires the credential verifier.
func NewCredentialService(records port.SecurityRecordStore, sessions port.SessionTokens, log *zap.Logger) *CredentialService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CredentialService{
		records:  records,
		sessions: sessions,
		logger:   log,
	}
}

// NormalizeIdentity lowercases and trims the submitted identity.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Verify checks the identity and secret and returns a tagged outcome. An
// error is returned only for infrastructure failures; bad credentials are a
// failure outcome, not an error.
func (s *CredentialService) Verify(ctx context.Context, identity, secret string) (*domain.AuthOutcome, error) {
	failure := &domain.AuthOutcome{Failure: &domain.AuthFailure{Message: genericAuthFailure}}

	normalized := NormalizeIdentity(identity)
	if normalized == "" || secret == "" {
		return failure, nil
	}

	record, err := s.records.FindByIdentity(ctx, normalized)
	if errors.Is(err, repository.ErrNotFound) {
		return failure, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load security record: %w", err)
	}

	match, err := security.VerifyPassword(secret, record.CredentialHash)
	if err != nil {
		// A corrupt stored hash must not leak as a server error.
		s.logger.Error("credential hash verification error",
			zap.String("user_id", record.ID),
			zap.String("identity", logger.MaskEmail(normalized)),
			zap.Error(err),
		)
		return failure, nil
	}
	if !match {
		return failure, nil
	}

	token, err := s.sessions.Issue(record.ID)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}

	return &domain.AuthOutcome{Success: &domain.AuthSuccess{
		Record:       record,
		SessionToken: token,
	}}, nil
}
