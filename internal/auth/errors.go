package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrUnauthorized = errors.New("auth: unauthorized")

	// ErrInvalidToken indicates the bearer token failed validation.
	ErrInvalidToken = errors.New("auth: invalid token")

	ErrSessionExpired = errors.New("auth: session expired")

	// ErrIdentityNotFound means the session is valid but its external
	// identity maps to no application user.
	ErrIdentityNotFound = errors.New("auth: identity not mapped to a user")
)
