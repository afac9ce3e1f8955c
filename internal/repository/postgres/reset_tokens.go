package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forumkit/auth-gateway/internal/core/domain"
	"github.com/forumkit/auth-gateway/internal/core/port"
	"github.com/forumkit/auth-gateway/internal/repository"
)

// ResetTokenRepository implements port.ResetTokenStore using PostgreSQL.
type ResetTokenRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewResetTokenRepository wires a PostgreSQL-backed reset token store.
func NewResetTokenRepository(pool *pgxpool.Pool) *ResetTokenRepository {
	return &ResetTokenRepository{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create stores a new token hash for the user.
func (r *ResetTokenRepository) Create(ctx context.Context, userID, tokenHash string, expiresAt, createdAt time.Time) (*domain.ResetToken, error) {
	token := domain.ResetToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}

	stmt, args, err := r.builder.
		Insert("forum.password_reset_tokens").
		Columns("id", "user_id", "token_hash", "expires_at", "created_at").
		Values(token.ID, token.UserID, token.TokenHash, token.ExpiresAt, token.CreatedAt).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert reset token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("insert reset token: %w", err)
	}

	return &token, nil
}

// FindByHash loads a token by its SHA-256 hash.
func (r *ResetTokenRepository) FindByHash(ctx context.Context, tokenHash string) (*domain.ResetToken, error) {
	stmt, args, err := r.builder.
		Select("id", "user_id", "token_hash", "expires_at", "redeemed_at", "created_at").
		From("forum.password_reset_tokens").
		Where(squirrel.Eq{"token_hash": tokenHash}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select reset token sql: %w", err)
	}

	var token domain.ResetToken
	err = r.exec.QueryRow(ctx, stmt, args...).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.RedeemedAt,
		&token.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan reset token: %w", err)
	}

	return &token, nil
}

// Redeem marks the token as consumed. A token that was already redeemed is
// reported as not found so double redemption cannot succeed.
func (r *ResetTokenRepository) Redeem(ctx context.Context, id string, redeemedAt time.Time) error {
	stmt, args, err := r.builder.
		Update("forum.password_reset_tokens").
		Set("redeemed_at", redeemedAt).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.Eq{"redeemed_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build redeem reset token sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("redeem reset token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

var _ port.ResetTokenStore = (*ResetTokenRepository)(nil)
