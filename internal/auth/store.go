package auth

import "context"

// SessionStore describes the lookups authentication needs.
type SessionStore interface {
	// Session returns ErrNotFound when no session has the id.
	Session(ctx context.Context, id string) (Session, error)
	// UserIDByAuthID returns ErrNotFound when the external identity is unmapped.
	UserIDByAuthID(ctx context.Context, authUserID string) (string, error)
}
