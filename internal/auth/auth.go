package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultIssuer = "turnstile-auth"
	bearerPrefix  = "bearer "
	clockSkew     = 5 * time.Second
)

// Claims are the access token claims issued by the auth provider. Subject is
// the provider's user id, SessionID the backing session record.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Authenticator turns bearer tokens into identities.
type Authenticator struct {
	store  SessionStore
	secret []byte
	issuer string
	now    func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithIssuer overrides the expected issuer claim.
func WithIssuer(issuer string) Option {
	return func(a *Authenticator) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			a.issuer = issuer
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAuthenticator(store SessionStore, secret string, opts ...Option) (*Authenticator, error) {
	if store == nil {
		return nil, errors.New("auth: session store is required")
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: token secret is not configured")
	}
	a := &Authenticator{store: store, secret: []byte(secret), issuer: DefaultIssuer, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authenticate validates the token signature and claims, loads the session
// record (missing, revoked or expired sessions are rejected) and resolves the
// application user.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	claims, err := a.parse(token)
	if err != nil {
		return Identity{}, err
	}

	sess, err := a.store.Session(ctx, claims.SessionID)
	if errors.Is(err, ErrNotFound) {
		return Identity{}, ErrUnauthorized
	}
	if err != nil {
		return Identity{}, fmt.Errorf("load session: %w", err)
	}
	if sess.RevokedAt != nil || sess.AuthUserID != claims.Subject {
		return Identity{}, ErrUnauthorized
	}
	if !a.now().Before(sess.ExpiresAt) {
		return Identity{}, ErrSessionExpired
	}

	userID, err := a.store.UserIDByAuthID(ctx, sess.AuthUserID)
	if errors.Is(err, ErrNotFound) {
		return Identity{}, ErrIdentityNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("resolve identity: %w", err)
	}
	return Identity{UserID: userID, AuthUserID: sess.AuthUserID, SessionID: sess.ID}, nil
}

func (a *Authenticator) parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.SessionID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueToken signs an access token the way the auth provider does. Used by
// tests and local tooling.
func IssueToken(secret, issuer, authUserID, sessionID string, now time.Time, ttl time.Duration) (string, error) {
	if strings.TrimSpace(authUserID) == "" || strings.TrimSpace(sessionID) == "" {
		return "", errors.New("auth: user and session are required")
	}
	if ttl <= 0 {
		return "", errors.New("auth: ttl must be greater than zero")
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   authUserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ExtractBearerToken returns the credential from an Authorization header value.
func ExtractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", fmt.Errorf("%w: invalid authorization scheme", ErrUnauthorized)
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	return token, nil
}
