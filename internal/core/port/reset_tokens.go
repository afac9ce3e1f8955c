package port

import (
	"context"
	"time"

	"github.com/forumkit/auth-gateway/internal/core/domain"
)

// ResetTokenStore persists hashed password reset tokens.
type ResetTokenStore interface {
	// Create stores a new token hash for the user with the given validity
	// window.
	Create(ctx context.Context, userID, tokenHash string, expiresAt, createdAt time.Time) (*domain.ResetToken, error)

	// FindByHash loads a token by its SHA-256 hash.
	FindByHash(ctx context.Context, tokenHash string) (*domain.ResetToken, error)

	// Redeem marks the token as consumed. Redeeming an already consumed
	// token returns repository.ErrNotFound.
	Redeem(ctx context.Context, id string, redeemedAt time.Time) error
}
