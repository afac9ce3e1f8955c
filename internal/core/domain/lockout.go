package domain

import "time"

// Default lockout policy: five straight failures lock the account for
// fifteen minutes.
const (
	DefaultLockoutMaxAttempts  = 5
	DefaultLockoutLockDuration = 15 * time.Minute
)

// LockoutPolicy holds the thresholds for the account lockout state machine.
type LockoutPolicy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

// DefaultLockoutPolicy returns the standard lockout thresholds.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxAttempts:  DefaultLockoutMaxAttempts,
		LockDuration: DefaultLockoutLockDuration,
	}
}

// EffectiveMaxAttempts returns the configured threshold, falling back to the
// default when unset.
func (p LockoutPolicy) EffectiveMaxAttempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return DefaultLockoutMaxAttempts
}

// EffectiveLockDuration returns the configured lock duration, falling back
// to the default when unset.
func (p LockoutPolicy) EffectiveLockDuration() time.Duration {
	if p.LockDuration > 0 {
		return p.LockDuration
	}
	return DefaultLockoutLockDuration
}

// IsLocked reports whether the record carries an active lock at now.
func IsLocked(record *SecurityRecord, now time.Time) bool {
	if record == nil || record.AccountLockedUntil == nil {
		return false
	}
	return record.AccountLockedUntil.After(now)
}

// ShouldResetOnExpiry reports whether the record carries a lock that has
// already expired. Expired locks must be cleared before the attempt is
// evaluated so stale counters do not immediately re-lock the account.
func ShouldResetOnExpiry(record *SecurityRecord, now time.Time) bool {
	if record == nil || record.AccountLockedUntil == nil {
		return false
	}
	return !record.AccountLockedUntil.After(now)
}

// RemainingLock returns how much longer an active lock holds. Zero when the
// record is not locked.
func RemainingLock(record *SecurityRecord, now time.Time) time.Duration {
	if !IsLocked(record, now) {
		return 0
	}
	return record.AccountLockedUntil.Sub(now)
}

// OnFailure returns the record state after one more failed attempt at now.
// The input record is not mutated. Crossing MaxAttempts sets the lock.
func (p LockoutPolicy) OnFailure(record SecurityRecord, now time.Time) SecurityRecord {
	record.LoginFailedAttempts++
	failedAt := now
	record.LastFailedLoginAt = &failedAt

	if record.LoginFailedAttempts >= p.EffectiveMaxAttempts() {
		lockedUntil := now.Add(p.EffectiveLockDuration())
		record.AccountLockedUntil = &lockedUntil
	}

	return record
}

// OnSuccess returns the record state after a successful authentication:
// counters and lock cleared.
func (p LockoutPolicy) OnSuccess(record SecurityRecord) SecurityRecord {
	record.LoginFailedAttempts = 0
	record.AccountLockedUntil = nil
	record.LastFailedLoginAt = nil
	return record
}
