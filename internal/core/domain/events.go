package domain

import "time"

// LoginAuditEvent is emitted once per intercepted login attempt.
type LoginAuditEvent struct {
	RequestID      string
	UserID         string
	MaskedIdentity string
	Outcome        string
	FailedAttempts int
	Locked         bool
	IPAddress      string
	UserAgent      string
	OccurredAt     time.Time
}

// AccountLockedEvent is emitted when a failed attempt crosses the lockout
// threshold.
type AccountLockedEvent struct {
	UserID         string
	MaskedIdentity string
	FailedAttempts int
	LockedUntil    time.Time
	IPAddress      string
	OccurredAt     time.Time
}

// BotVerificationFailedEvent is emitted when the bot gateway blocks a request.
type BotVerificationFailedEvent struct {
	RequestID      string
	Operation      string
	MaskedIdentity string
	Reason         string
	Score          *float64
	IPAddress      string
	OccurredAt     time.Time
}

// PasswordResetRequestedEvent is emitted when a reset link is issued.
type PasswordResetRequestedEvent struct {
	UserID            string
	RequestID         string
	MaskedDestination string
	Delivery          string
	IPAddress         string
	ExpiresAt         time.Time
	OccurredAt        time.Time
}

// PasswordChangedEvent is emitted after a credential rotation, whether via
// reset redemption or the authenticated change operation.
type PasswordChangedEvent struct {
	UserID     string
	ChangedVia string
	OccurredAt time.Time
}
