package port

import (
	"context"
	"time"

	"github.com/forumkit/auth-gateway/internal/core/domain"
)

// SecurityRecordStore persists per-account security state.
type SecurityRecordStore interface {
	// FindByID loads a record by its primary key.
	FindByID(ctx context.Context, id string) (*domain.SecurityRecord, error)

	// FindByIdentity loads a record by normalized email address.
	FindByIdentity(ctx context.Context, identity string) (*domain.SecurityRecord, error)

	// RecordFailure applies one failed attempt as a single atomic update:
	// the counter increment, the failure timestamp, and the conditional lock
	// happen in one statement so concurrent failures cannot lose increments.
	// It returns the record state after the update.
	RecordFailure(ctx context.Context, id string, now time.Time, policy domain.LockoutPolicy) (*domain.SecurityRecord, error)

	// ClearLockout zeroes the failure counter and drops the lock and the
	// last-failure timestamp.
	ClearLockout(ctx context.Context, id string) error

	// RotateCredential replaces the credential hash, writes the rotated
	// history, stamps the update time, and clears the must-change flag.
	RotateCredential(ctx context.Context, id string, newHash string, history []string, changedAt time.Time) error
}
