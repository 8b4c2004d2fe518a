package auth

import "time"

// Session is the auth provider's record backing a bearer token.
type Session struct {
	ID         string
	AuthUserID string
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time
}

// Identity is an authenticated caller resolved to an application user.
type Identity struct {
	UserID     string
	AuthUserID string
	SessionID  string
}
