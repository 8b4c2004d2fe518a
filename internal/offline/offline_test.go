package offline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"turnstile.app/internal/allowlist"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "door.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedEvent downloads an allowlist for eventID with tickets T1..Tn whose raw
// tokens are "<eventID>-raw-<i>".
func seedEvent(t *testing.T, s *Store, eventID string, n int) []byte {
	t.Helper()
	secret, err := allowlist.NewSecret()
	if err != nil {
		t.Fatal(err)
	}
	tickets := make([]allowlist.Ticket, 0, n)
	for i := 1; i <= n; i++ {
		tickets = append(tickets, allowlist.Ticket{ID: fmt.Sprintf("T%d", i), Token: rawToken(eventID, i)})
	}
	entries, err := allowlist.Build(secret, tickets)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Download(context.Background(), eventID, secret, entries); err != nil {
		t.Fatalf("Download: %v", err)
	}
	return secret
}

func rawToken(eventID string, i int) string { return fmt.Sprintf("%s-raw-%d", eventID, i) }

func TestCheckInScenario(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedEvent(t, s, "E1", 5)
	v := NewValidator(s, "door-1")

	got := v.Validate(ctx, "E1", rawToken("E1", 1))
	if !got.Valid || got.Reason != ReasonValid || got.TicketID != "T1" {
		t.Fatalf("first scan: %+v", got)
	}
	got = v.Validate(ctx, "E1", rawToken("E1", 1))
	if got.Valid || got.Reason != ReasonAlreadyScanned || got.TicketID != "T1" {
		t.Fatalf("second scan: %+v", got)
	}
	got = v.Validate(ctx, "E1", "8f3c-random-garbage")
	if got.Valid || got.Reason != ReasonInvalid || got.TicketID != "" {
		t.Fatalf("unrelated token: %+v", got)
	}
	got = v.Validate(ctx, "E2", rawToken("E1", 2))
	if got.Valid || got.Reason != ReasonNoAllowlist {
		t.Fatalf("missing allowlist: %+v", got)
	}
}

func TestNoReplayAfterManyScans(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedEvent(t, s, "E1", 3)
	v := NewValidator(s, "")

	if r := v.Validate(ctx, "E1", rawToken("E1", 2)); !r.Valid {
		t.Fatalf("expected valid, got %+v", r)
	}
	for i := 0; i < 10; i++ {
		r := v.Validate(ctx, "E1", rawToken("E1", 2))
		if r.Valid || r.Reason != ReasonAlreadyScanned || r.TicketID != "T2" {
			t.Fatalf("replay %d: %+v", i, r)
		}
	}
}

func TestConcurrentScansAdmitOnce(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedEvent(t, s, "E1", 1)
	v := NewValidator(s, "")

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		valid int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v.Validate(ctx, "E1", rawToken("E1", 1)).Valid {
				mu.Lock()
				valid++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if valid != 1 {
		t.Fatalf("expected exactly one admission, got %d", valid)
	}
}

func TestDenyByDefault(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	v := NewValidator(s, "")
	for _, tok := range []string{"", "anything", rawToken("E9", 1)} {
		r := v.Validate(ctx, "E9", tok)
		if r.Valid || r.Reason != ReasonNoAllowlist {
			t.Fatalf("token %q: %+v", tok, r)
		}
	}
	if r := v.Validate(ctx, "", "x"); r.Reason != ReasonNoAllowlist {
		t.Fatalf("empty event: %+v", r)
	}

	// A secret with zero entries still counts as no data.
	if err := s.Download(ctx, "E9", []byte("secret"), nil); err != nil {
		t.Fatal(err)
	}
	if r := v.Validate(ctx, "E9", "anything"); r.Reason != ReasonNoAllowlist {
		t.Fatalf("empty allowlist: %+v", r)
	}
	if ok, _ := s.HasData(ctx, "E9"); ok {
		t.Fatal("HasData must be false for an empty entry set")
	}
}

func TestMalformedTokensAreInvalid(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedEvent(t, s, "E1", 1)
	v := NewValidator(s, "")
	long := make([]byte, maxTokenLen+1)
	for i := range long {
		long[i] = 'a'
	}
	for _, tok := range []string{"", "   ", string(long), "\x00\x01"} {
		if r := v.Validate(ctx, "E1", tok); r.Valid || r.Reason != ReasonInvalid {
			t.Fatalf("token %q: %+v", tok, r)
		}
	}
}

func TestDownloadResetsScannedSet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	secret := seedEvent(t, s, "E1", 2)
	v := NewValidator(s, "")

	if r := v.Validate(ctx, "E1", rawToken("E1", 1)); !r.Valid {
		t.Fatalf("expected valid: %+v", r)
	}
	entries, _ := allowlist.Build(secret, []allowlist.Ticket{{ID: "T1", Token: rawToken("E1", 1)}})
	if err := s.Download(ctx, "E1", secret, entries); err != nil {
		t.Fatal(err)
	}
	if r := v.Validate(ctx, "E1", rawToken("E1", 1)); !r.Valid {
		t.Fatalf("fresh download must reset scanned set: %+v", r)
	}
	if r := v.Validate(ctx, "E1", rawToken("E1", 2)); r.Reason != ReasonInvalid {
		t.Fatalf("T2 was dropped from the new allowlist: %+v", r)
	}
}

func TestRescanAfterDownloadRefreshesPendingScan(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	secret := seedEvent(t, s, "E1", 1)
	first := time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC)
	second := first.Add(40 * time.Minute)

	a := NewValidator(s, "door-a")
	a.now = func() time.Time { return first }
	if r := a.Validate(ctx, "E1", rawToken("E1", 1)); !r.Valid {
		t.Fatalf("expected valid: %+v", r)
	}
	entries, _ := allowlist.Build(secret, []allowlist.Ticket{{ID: "T1", Token: rawToken("E1", 1)}})
	if err := s.Download(ctx, "E1", secret, entries); err != nil {
		t.Fatal(err)
	}
	b := NewValidator(s, "door-b")
	b.now = func() time.Time { return second }
	if r := b.Validate(ctx, "E1", rawToken("E1", 1)); !r.Valid {
		t.Fatalf("expected valid after re-download: %+v", r)
	}

	pending, err := NewQueue(s).Pending(ctx, "E1")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending scan, got %d", len(pending))
	}
	if pending[0].ScannedBy != "door-b" || !pending[0].ScannedAt.Equal(second) {
		t.Fatalf("pending scan not attributed to the latest admission: %+v", pending[0])
	}
}

func TestClearPurgesEvent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedEvent(t, s, "E1", 2)
	seedEvent(t, s, "E2", 2)
	v := NewValidator(s, "")
	v.Validate(ctx, "E1", rawToken("E1", 1))

	if err := s.Clear(ctx, "E1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.HasData(ctx, "E1"); ok {
		t.Fatal("E1 should have no data after Clear")
	}
	if ok, _ := s.HasData(ctx, "E2"); !ok {
		t.Fatal("Clear must not touch other events")
	}
	st, err := s.Status(ctx, "E1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Entries != 0 || st.Scanned != 0 || !st.DownloadedAt.IsZero() {
		t.Fatalf("unexpected status after clear: %+v", st)
	}
	if st.Pending != 1 {
		t.Fatalf("pending scans must survive Clear, got %d", st.Pending)
	}
}

func TestStoredEntriesHoldNoRawTokens(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedEvent(t, s, "E1", 5)

	rows, err := s.db.QueryContext(ctx, `select hash, ticket_id from allowlist_entries where event_id = 'E1'`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	for rows.Next() {
		var h, id string
		if err := rows.Scan(&h, &id); err != nil {
			t.Fatal(err)
		}
		for i := 1; i <= 5; i++ {
			if h == rawToken("E1", i) {
				t.Fatalf("raw token stored for %s", id)
			}
		}
		if len(h) != 64 {
			t.Fatalf("unexpected hash length %d", len(h))
		}
	}
}

func TestStorageFailuresAreLoud(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "door.db")); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable from Open, got %v", err)
	}

	s, err := Open(filepath.Join(t.TempDir(), "door.db"))
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Close()
	err = s.Download(ctx, "E1", []byte("secret"), []allowlist.Entry{{Hash: "ab", TicketID: "T1"}})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable from Download, got %v", err)
	}
	if r := NewValidator(s, "").Validate(ctx, "E1", "x"); r.Valid || r.Reason != ReasonNoAllowlist {
		t.Fatalf("closed store must deny: %+v", r)
	}
}

func TestDownloadRejectsMissingInputs(t *testing.T) {
	s := openTestStore(t)
	if err := s.Download(context.Background(), "E1", nil, nil); !errors.Is(err, allowlist.ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
	if err := s.Download(context.Background(), " ", []byte("s"), nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestScanTransitions(t *testing.T) {
	if !CanTransition(Unscanned, Scanned) {
		t.Fatal("unscanned -> scanned must be legal")
	}
	for _, c := range [][2]ScanState{{Scanned, Scanned}, {Scanned, Unscanned}, {Unscanned, Unscanned}} {
		if CanTransition(c[0], c[1]) {
			t.Fatalf("%s -> %s must be rejected", c[0], c[1])
		}
	}
}
