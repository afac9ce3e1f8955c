package domain

import "time"

// OperationKind classifies an intercepted GraphQL operation.
type OperationKind string

const (
	OperationLogin        OperationKind = "login"
	OperationRequestReset OperationKind = "request_reset"
	OperationRedeemReset  OperationKind = "redeem_reset"
	OperationOther        OperationKind = "other"
)

// SecurityRecord is the per-account security state tracked by the gateway.
// It mirrors the auth columns of the CMS user row.
type SecurityRecord struct {
	ID                  string
	Name                string
	Email               string
	CredentialHash      string
	PasswordUpdatedAt   *time.Time
	MustChangePassword  bool
	PasswordHistory     []string
	LoginFailedAttempts int
	AccountLockedUntil  *time.Time
	LastFailedLoginAt   *time.Time
}

// AuthAttemptContext carries everything the interception pipeline needs to
// evaluate a single request.
type AuthAttemptContext struct {
	Kind          OperationKind
	OperationName string
	Identity      string
	CaptchaToken  string
	IP            string
	UserAgent     string
	RequestID     string
}

// BotOutcome is the verdict of a bot verification check.
type BotOutcome string

const (
	BotOutcomePass    BotOutcome = "pass"
	BotOutcomeFail    BotOutcome = "fail"
	BotOutcomeSkipped BotOutcome = "skipped"
)

// BotVerificationResult reports a single reCAPTCHA evaluation.
type BotVerificationResult struct {
	Outcome    BotOutcome
	Reason     string
	Score      *float64
	Action     string
	Hostname   string
	ErrorCodes []string
}

// Passed reports whether the request may proceed.
func (r BotVerificationResult) Passed() bool {
	return r.Outcome == BotOutcomePass || r.Outcome == BotOutcomeSkipped
}

// AuthSuccess is the success arm of an authentication outcome.
type AuthSuccess struct {
	Record       *SecurityRecord
	SessionToken string
}

// AuthFailure is the failure arm of an authentication outcome. Message is
// safe to show to the caller.
type AuthFailure struct {
	Message string
}

// AuthOutcome is the tagged result of verifying credentials. Exactly one of
// Success or Failure is set.
type AuthOutcome struct {
	Success *AuthSuccess
	Failure *AuthFailure
}

// Succeeded reports whether the outcome carries the success arm.
func (o *AuthOutcome) Succeeded() bool {
	return o != nil && o.Success != nil
}
