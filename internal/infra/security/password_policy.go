package security

import (
	"strings"
	"time"

	"github.com/forumkit/auth-gateway/internal/core/domain"
)

// Password policy defaults. Accounts whose password is older than the max
// age, or that carry the must-change flag, are forced through a rotation.
const (
	DefaultPasswordMinLength    = 13
	DefaultPasswordMaxAgeDays   = 184
	DefaultPasswordHistoryLimit = 2
)

// PasswordPolicy bundles strength, expiry, and reuse rules for account
// credentials.
type PasswordPolicy struct {
	minLength    int
	maxAge       time.Duration
	historyLimit int
	minScore     int
}

// PasswordPolicyOption customizes a PasswordPolicy.
type PasswordPolicyOption func(*PasswordPolicy)

// WithMinLength overrides the minimum trimmed length.
func WithMinLength(n int) PasswordPolicyOption {
	return func(p *PasswordPolicy) {
		if n > 0 {
			p.minLength = n
		}
	}
}

// WithMaxAgeDays overrides the credential expiry horizon.
func WithMaxAgeDays(days int) PasswordPolicyOption {
	return func(p *PasswordPolicy) {
		if days > 0 {
			p.maxAge = time.Duration(days) * 24 * time.Hour
		}
	}
}

// WithHistoryLimit overrides how many prior hashes are kept for reuse checks.
func WithHistoryLimit(n int) PasswordPolicyOption {
	return func(p *PasswordPolicy) {
		if n >= 0 {
			p.historyLimit = n
		}
	}
}

// WithMinStrengthScore enables the zxcvbn score rule on top of the
// composition checks. Zero disables it.
func WithMinStrengthScore(score int) PasswordPolicyOption {
	return func(p *PasswordPolicy) {
		if score > 0 {
			p.minScore = score
		}
	}
}

// NewPasswordPolicy constructs a policy with the standard defaults applied.
func NewPasswordPolicy(opts ...PasswordPolicyOption) *PasswordPolicy {
	policy := &PasswordPolicy{
		minLength:    DefaultPasswordMinLength,
		maxAge:       DefaultPasswordMaxAgeDays * 24 * time.Hour,
		historyLimit: DefaultPasswordHistoryLimit,
	}
	for _, opt := range opts {
		opt(policy)
	}
	return policy
}

// NormalizePassword strips leading and trailing whitespace. All policy
// checks and all stored credentials operate on the normalized value.
func NormalizePassword(candidate string) string {
	return strings.TrimSpace(candidate)
}

// ValidateStrength checks the normalized candidate against the composition
// rules: minimum length, at least one letter, one digit, and one special
// character. Returns a PasswordValidationError describing the first
// violation.
func (p *PasswordPolicy) ValidateStrength(candidate string) error {
	trimmed := NormalizePassword(candidate)

	rules := []PasswordRule{
		MinLengthRule(p.minLength),
		RequireLetterRule(),
		RequireDigitRule(),
		RequireSpecialRule(),
	}
	if p.minScore > 0 {
		rules = append(rules, RequirePasswordStrengthRule(p.minScore))
	}

	return NewPasswordValidator(rules...).Validate(trimmed)
}

// Expired reports whether the record's credential must be rotated before
// the account may authenticate: the must-change flag is set, the update
// timestamp was never recorded, or the credential is older than the max age.
func (p *PasswordPolicy) Expired(record *domain.SecurityRecord, now time.Time) bool {
	if record == nil {
		return false
	}
	if record.MustChangePassword {
		return true
	}
	if record.PasswordUpdatedAt == nil {
		return true
	}
	return now.Sub(*record.PasswordUpdatedAt) >= p.maxAge
}

// IsReused reports whether the candidate matches the current credential or
// any retained history entry. Comparisons use the constant-time hash verify;
// a corrupt stored hash surfaces as an error.
func (p *PasswordPolicy) IsReused(candidate string, record *domain.SecurityRecord) (bool, error) {
	if record == nil {
		return false, nil
	}

	trimmed := NormalizePassword(candidate)

	hashes := make([]string, 0, 1+p.historyLimit)
	if record.CredentialHash != "" {
		hashes = append(hashes, record.CredentialHash)
	}
	for i, prior := range record.PasswordHistory {
		if i >= p.historyLimit {
			break
		}
		hashes = append(hashes, prior)
	}

	for _, hash := range hashes {
		match, err := VerifyPassword(trimmed, hash)
		if err != nil {
			return false, err
		}
		if match {
			return true, nil
		}
	}

	return false, nil
}

// RotateHistory returns the history that accompanies a credential rotation:
// the outgoing hash prepended, capped at the history limit.
func (p *PasswordPolicy) RotateHistory(record *domain.SecurityRecord) []string {
	history := make([]string, 0, p.historyLimit)
	if record != nil && record.CredentialHash != "" {
		history = append(history, record.CredentialHash)
	}
	if record != nil {
		for _, prior := range record.PasswordHistory {
			if len(history) >= p.historyLimit {
				break
			}
			history = append(history, prior)
		}
	}
	if len(history) > p.historyLimit {
		history = history[:p.historyLimit]
	}
	return history
}
