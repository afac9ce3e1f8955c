package port

// SessionTokens issues and parses the session credential returned on a
// successful login.
type SessionTokens interface {
	// Issue returns a signed session token for the given user.
	Issue(userID string) (string, error)

	// Parse validates a session token and returns the user ID it carries.
	Parse(token string) (string, error)
}
