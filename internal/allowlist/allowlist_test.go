package allowlist

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	secret := []byte("event-secret")
	tokens := []string{"T1-raw", "", "  padded  ", strings.Repeat("x", 4096)}
	for _, tok := range tokens {
		a, err := Hash(secret, tok)
		if err != nil {
			t.Fatalf("Hash(%q): %v", tok, err)
		}
		b, _ := Hash(secret, tok)
		if a != b {
			t.Fatalf("hash not deterministic for %q", tok)
		}
		if len(a) != 64 {
			t.Fatalf("expected 256-bit hex output, got %d chars", len(a))
		}
	}
}

func TestHashTrimsToken(t *testing.T) {
	secret := []byte("event-secret")
	a, _ := Hash(secret, "abc")
	b, _ := Hash(secret, " abc\n")
	if a != b {
		t.Fatal("surrounding whitespace must not change the hash")
	}
}

func TestHashDependsOnSecret(t *testing.T) {
	a, _ := Hash([]byte("secret-a"), "token")
	b, _ := Hash([]byte("secret-b"), "token")
	if a == b {
		t.Fatal("different secrets produced identical hashes")
	}
	plain := sha256.Sum256([]byte("token"))
	if a == hex.EncodeToString(plain[:]) {
		t.Fatal("keyed hash must differ from unkeyed sha256")
	}
}

func TestHashWithoutSecret(t *testing.T) {
	if _, err := Hash(nil, "token"); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
	if _, err := Build(nil, []Ticket{{ID: "T1", Token: "x"}}); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret from Build, got %v", err)
	}
}

func TestBuildNeverStoresRawTokens(t *testing.T) {
	secret, err := NewSecret()
	if err != nil {
		t.Fatal(err)
	}
	tickets := []Ticket{
		{ID: "T1", Token: "raw-1"},
		{ID: "T2", Token: "raw-2"},
		{ID: "T3", Token: ""},
	}
	entries, err := Build(secret, tickets)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		for _, tk := range tickets {
			if tk.Token != "" && strings.Contains(e.Hash, tk.Token) {
				t.Fatalf("entry %s leaks raw token", e.TicketID)
			}
		}
	}
}

func TestSecretEncoding(t *testing.T) {
	secret, err := NewSecret()
	if err != nil {
		t.Fatal(err)
	}
	if len(secret) != SecretSize {
		t.Fatalf("unexpected secret size %d", len(secret))
	}
	decoded, err := DecodeSecret(EncodeSecret(secret))
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded) != string(secret) {
		t.Fatal("secret changed in transport form")
	}
	if _, err := DecodeSecret(""); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
	if _, err := DecodeSecret("%%%"); !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("expected ErrInvalidSecret, got %v", err)
	}
}
