package domain

import "time"

// ResetToken is a stored password reset credential. Only the SHA-256 hash of
// the issued token is persisted.
type ResetToken struct {
	ID         string
	UserID     string
	TokenHash  string
	ExpiresAt  time.Time
	RedeemedAt *time.Time
	CreatedAt  time.Time
}

// Expired reports whether the token's validity window has passed.
func (t *ResetToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Redeemed reports whether the token has already been consumed.
func (t *ResetToken) Redeemed() bool {
	return t.RedeemedAt != nil
}
