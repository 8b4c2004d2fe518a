package offline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"turnstile.app/internal/allowlist"
)

var (
	// ErrStorageUnavailable wraps any failure of the underlying device storage.
	ErrStorageUnavailable = errors.New("offline: storage unavailable")
	ErrInvalidInput       = errors.New("offline: invalid input")
)

var schema = []string{
	`create table if not exists allowlists (
		event_id text primary key,
		secret blob not null,
		downloaded_at integer not null
	)`,
	`create table if not exists allowlist_entries (
		event_id text not null,
		hash text not null,
		ticket_id text not null,
		primary key (event_id, hash)
	)`,
	`create table if not exists scanned_hashes (
		event_id text not null,
		hash text not null,
		scanned_at integer not null,
		primary key (event_id, hash)
	)`,
	`create table if not exists pending_scans (
		id integer primary key autoincrement,
		event_id text not null,
		qr_token text not null,
		scanned_at integer not null,
		scanned_by text not null default '',
		unique (event_id, qr_token)
	)`,
}

// Store is the durable per-event allowlist state of one device.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Status summarizes local state for one event.
type Status struct {
	EventID      string    `json:"eventId"`
	Entries      int       `json:"entries"`
	Scanned      int       `json:"scanned"`
	Pending      int       `json:"pending"`
	DownloadedAt time.Time `json:"downloadedAt,omitempty"`
}

// Open opens (creating if needed) the device database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: storage path is required", ErrStorageUnavailable)
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite db: %v", ErrStorageUnavailable, err)
	}
	// One connection: the device is single-threaded and this keeps every
	// check-and-mark strictly serialized.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping sqlite db: %v", ErrStorageUnavailable, err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: apply schema: %v", ErrStorageUnavailable, err)
		}
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Download replaces the allowlist and secret for eventID and resets the
// scanned set. Pending scans are kept: they still await upload.
func (s *Store) Download(ctx context.Context, eventID string, secret []byte, entries []allowlist.Entry) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}
	if len(secret) == 0 {
		return allowlist.ErrNoSecret
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin download", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`delete from allowlist_entries where event_id = ?`,
		`delete from scanned_hashes where event_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, eventID); err != nil {
			return storageErr("reset event", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		insert into allowlists (event_id, secret, downloaded_at) values (?, ?, ?)
		on conflict (event_id) do update set secret = excluded.secret, downloaded_at = excluded.downloaded_at
	`, eventID, secret, s.now().UTC().UnixMilli()); err != nil {
		return storageErr("store secret", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`insert into allowlist_entries (event_id, hash, ticket_id) values (?, ?, ?) on conflict do nothing`)
	if err != nil {
		return storageErr("prepare entries", err)
	}
	defer stmt.Close()
	for _, e := range entries {
		h := strings.ToLower(strings.TrimSpace(e.Hash))
		if h == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, eventID, h, e.TicketID); err != nil {
			return storageErr("store entry", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit download", err)
	}
	return nil
}

// HasData reports whether a non-empty allowlist exists for eventID.
func (s *Store) HasData(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`select count(1) from (select 1 from allowlist_entries where event_id = ? limit 1)`,
		strings.TrimSpace(eventID)).Scan(&n)
	if err != nil {
		return false, storageErr("count entries", err)
	}
	return n > 0, nil
}

// Clear purges entries, secret and scanned set for eventID.
func (s *Store) Clear(ctx context.Context, eventID string) error {
	eventID = strings.TrimSpace(eventID)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin clear", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range []string{
		`delete from allowlist_entries where event_id = ?`,
		`delete from scanned_hashes where event_id = ?`,
		`delete from allowlists where event_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, eventID); err != nil {
			return storageErr("clear event", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit clear", err)
	}
	return nil
}

// Status reports counts for eventID.
func (s *Store) Status(ctx context.Context, eventID string) (Status, error) {
	eventID = strings.TrimSpace(eventID)
	st := Status{EventID: eventID}
	var downloaded sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		select
			(select count(1) from allowlist_entries where event_id = ?1),
			(select count(1) from scanned_hashes where event_id = ?1),
			(select count(1) from pending_scans where event_id = ?1),
			(select downloaded_at from allowlists where event_id = ?1)
	`, eventID).Scan(&st.Entries, &st.Scanned, &st.Pending, &downloaded)
	if err != nil {
		return Status{}, storageErr("status", err)
	}
	if downloaded.Valid {
		st.DownloadedAt = time.UnixMilli(downloaded.Int64).UTC()
	}
	return st, nil
}

// allowlistFor returns the secret when both a secret and at least one entry exist.
func (s *Store) allowlistFor(ctx context.Context, eventID string) ([]byte, bool, error) {
	var (
		secret  []byte
		entries int
	)
	err := s.db.QueryRowContext(ctx, `
		select a.secret, (select count(1) from (select 1 from allowlist_entries e where e.event_id = a.event_id limit 1))
		from allowlists a where a.event_id = ?
	`, eventID).Scan(&secret, &entries)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageErr("load allowlist", err)
	}
	if len(secret) == 0 || entries == 0 {
		return nil, false, nil
	}
	return secret, true, nil
}

func (s *Store) lookup(ctx context.Context, eventID, hash string) (string, bool, error) {
	var ticketID string
	err := s.db.QueryRowContext(ctx,
		`select ticket_id from allowlist_entries where event_id = ? and hash = ?`, eventID, hash).Scan(&ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("lookup entry", err)
	}
	return ticketID, true, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
