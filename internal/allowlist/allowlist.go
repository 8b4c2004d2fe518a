// Package allowlist derives the keyed, non-reversible per-ticket tokens that
// door devices validate against while offline.
//
// The server and every device must hash identically: the token is trimmed of
// surrounding whitespace and fed to HMAC-SHA256 keyed with the event secret.
// Without the secret an allowlist reveals nothing usable about raw tokens.
package allowlist

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// SecretSize is the length in bytes of generated event secrets.
const SecretSize = 32

var (
	// ErrNoSecret means the codec cannot run. Callers must treat it as
	// "no offline data", never as a valid ticket.
	ErrNoSecret = errors.New("allowlist: event secret unavailable")

	ErrInvalidSecret = errors.New("allowlist: malformed event secret")
)

// Entry is one allowed ticket in a downloaded allowlist.
type Entry struct {
	Hash     string `json:"hash"`
	TicketID string `json:"ticketId"`
}

// Ticket is the server-side input for building entries.
type Ticket struct {
	ID    string
	Token string
}

// Hash returns the lowercase hex HMAC-SHA256 of token under secret.
func Hash(secret []byte, token string) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoSecret
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Build hashes every ticket with a token. Tickets without a token are skipped.
func Build(secret []byte, tickets []Ticket) ([]Entry, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	entries := make([]Entry, 0, len(tickets))
	for _, t := range tickets {
		if strings.TrimSpace(t.Token) == "" {
			continue
		}
		h, err := Hash(secret, t.Token)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Hash: h, TicketID: t.ID})
	}
	return entries, nil
}

// NewSecret generates a fresh event secret.
func NewSecret() ([]byte, error) {
	b := make([]byte, SecretSize)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("allowlist: generate secret: %w", err)
	}
	return b, nil
}

// EncodeSecret returns the transport form of a secret.
func EncodeSecret(secret []byte) string {
	return base64.StdEncoding.EncodeToString(secret)
}

// DecodeSecret parses the transport form. Empty input yields ErrNoSecret.
func DecodeSecret(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrNoSecret
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	if len(b) == 0 {
		return nil, ErrNoSecret
	}
	return b, nil
}
