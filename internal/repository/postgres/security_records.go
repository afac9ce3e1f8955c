package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forumkit/auth-gateway/internal/core/domain"
	"github.com/forumkit/auth-gateway/internal/core/port"
	"github.com/forumkit/auth-gateway/internal/repository"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const securityRecordColumns = `id, name, email, password_hash, password_updated_at, must_change_password, password_history, login_failed_attempts, account_locked_until, last_failed_login_at`

// The counter increment, failure timestamp, and conditional lock are applied
// in one statement so concurrent failures cannot lose increments.
const recordFailureSQL = `
UPDATE forum.users
SET login_failed_attempts = login_failed_attempts + 1,
    last_failed_login_at = $2,
    account_locked_until = CASE
        WHEN login_failed_attempts + 1 >= $3 THEN $4
        ELSE account_locked_until
    END
WHERE id = $1
RETURNING ` + securityRecordColumns

// SecurityRecordRepository implements port.SecurityRecordStore using PostgreSQL.
type SecurityRecordRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSecurityRecordRepository wires a PostgreSQL-backed security record store.
func NewSecurityRecordRepository(pool *pgxpool.Pool) *SecurityRecordRepository {
	return &SecurityRecordRepository{
		pool:    pool,
		exec:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *SecurityRecordRepository) WithTx(tx pgx.Tx) *SecurityRecordRepository {
	if tx == nil {
		return r
	}
	return &SecurityRecordRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// FindByID retrieves a record by identifier.
func (r *SecurityRecordRepository) FindByID(ctx context.Context, id string) (*domain.SecurityRecord, error) {
	stmt, args, err := r.builder.
		Select(strings.Split(securityRecordColumns, ", ")...).
		From("forum.users").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select security record sql: %w", err)
	}

	return r.scanRecord(r.exec.QueryRow(ctx, stmt, args...))
}

// FindByIdentity retrieves a record by email, case-insensitively.
func (r *SecurityRecordRepository) FindByIdentity(ctx context.Context, identity string) (*domain.SecurityRecord, error) {
	stmt, args, err := r.builder.
		Select(strings.Split(securityRecordColumns, ", ")...).
		From("forum.users").
		Where(squirrel.Expr("lower(email) = lower(?)", identity)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select security record sql: %w", err)
	}

	return r.scanRecord(r.exec.QueryRow(ctx, stmt, args...))
}

// RecordFailure applies one failed attempt atomically and returns the
// resulting record state.
func (r *SecurityRecordRepository) RecordFailure(ctx context.Context, id string, now time.Time, policy domain.LockoutPolicy) (*domain.SecurityRecord, error) {
	lockedUntil := now.Add(policy.EffectiveLockDuration())

	row := r.exec.QueryRow(ctx, recordFailureSQL, id, now, policy.EffectiveMaxAttempts(), lockedUntil)
	return r.scanRecord(row)
}

// ClearLockout zeroes the failure counter and drops lockout state.
func (r *SecurityRecordRepository) ClearLockout(ctx context.Context, id string) error {
	stmt, args, err := r.builder.
		Update("forum.users").
		Set("login_failed_attempts", 0).
		Set("account_locked_until", nil).
		Set("last_failed_login_at", nil).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build clear lockout sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("clear lockout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// RotateCredential replaces the hash, writes the rotated history, stamps the
// update time, and clears the must-change flag.
func (r *SecurityRecordRepository) RotateCredential(ctx context.Context, id string, newHash string, history []string, changedAt time.Time) error {
	if history == nil {
		history = []string{}
	}

	encoded, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode password history: %w", err)
	}

	stmt, args, err := r.builder.
		Update("forum.users").
		Set("password_hash", newHash).
		Set("password_history", encoded).
		Set("password_updated_at", changedAt).
		Set("must_change_password", false).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build rotate credential sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("rotate credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (r *SecurityRecordRepository) scanRecord(row pgx.Row) (*domain.SecurityRecord, error) {
	var (
		record  domain.SecurityRecord
		history []byte
	)

	err := row.Scan(
		&record.ID,
		&record.Name,
		&record.Email,
		&record.CredentialHash,
		&record.PasswordUpdatedAt,
		&record.MustChangePassword,
		&history,
		&record.LoginFailedAttempts,
		&record.AccountLockedUntil,
		&record.LastFailedLoginAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan security record: %w", err)
	}

	if len(history) > 0 {
		if err := json.Unmarshal(history, &record.PasswordHistory); err != nil {
			return nil, fmt.Errorf("decode password history: %w", err)
		}
	}

	return &record, nil
}

var _ port.SecurityRecordStore = (*SecurityRecordRepository)(nil)
