package offline

import (
	"context"
	"strings"
	"sync"
	"time"

	"turnstile.app/internal/allowlist"
	"turnstile.app/internal/obs"
)

// Reason explains a validation result.
type Reason string

const (
	ReasonValid          Reason = "valid"
	ReasonInvalid        Reason = "invalid"
	ReasonAlreadyScanned Reason = "already_scanned"
	ReasonNoAllowlist    Reason = "no_allowlist"
)

// Result is the outcome of one offline validation.
type Result struct {
	Valid    bool   `json:"valid"`
	Reason   Reason `json:"reason"`
	TicketID string `json:"ticketId,omitempty"`
}

// maxTokenLen bounds what a QR payload may reasonably carry.
const maxTokenLen = 2048

// Validator checks scanned tokens against a Store without network access.
type Validator struct {
	store *Store

	// ScannedBy labels pending scans (staff or device name). Optional.
	ScannedBy string

	mu  sync.Mutex
	now func() time.Time
}

func NewValidator(store *Store, scannedBy string) *Validator {
	return &Validator{store: store, ScannedBy: strings.TrimSpace(scannedBy), now: time.Now}
}

// Validate decides whether rawToken admits entry to eventID. It never returns
// an error: missing data or storage failures deny with no_allowlist, and
// malformed tokens are invalid.
func (v *Validator) Validate(ctx context.Context, eventID, rawToken string) Result {
	v.mu.Lock()
	defer v.mu.Unlock()

	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return Result{Reason: ReasonNoAllowlist}
	}
	secret, ok, err := v.store.allowlistFor(ctx, eventID)
	if err != nil {
		obs.Error("offline_allowlist_load_failed", map[string]any{"event_id": eventID, "error": err})
		return Result{Reason: ReasonNoAllowlist}
	}
	if !ok {
		return Result{Reason: ReasonNoAllowlist}
	}

	token := strings.TrimSpace(rawToken)
	if token == "" || len(token) > maxTokenLen {
		return Result{Reason: ReasonInvalid}
	}
	hash, err := allowlist.Hash(secret, token)
	if err != nil {
		return Result{Reason: ReasonNoAllowlist}
	}
	ticketID, found, err := v.store.lookup(ctx, eventID, hash)
	if err != nil {
		obs.Error("offline_lookup_failed", map[string]any{"event_id": eventID, "error": err})
		return Result{Reason: ReasonNoAllowlist}
	}
	if !found {
		return Result{Reason: ReasonInvalid}
	}

	state, err := v.markScanned(ctx, eventID, hash, token)
	if err != nil {
		// Not recorded means not admitted: a "valid" without the mark would
		// allow replay.
		obs.Error("offline_mark_failed", map[string]any{"event_id": eventID, "ticket_id": ticketID, "error": err})
		return Result{Reason: ReasonNoAllowlist}
	}
	if !CanTransition(state, Scanned) {
		obs.Info("offline_rescan_rejected", map[string]any{
			"event_id": eventID, "ticket_id": ticketID, "from": state.String(), "to": Scanned.String(),
		})
		return Result{Reason: ReasonAlreadyScanned, TicketID: ticketID}
	}
	return Result{Valid: true, Reason: ReasonValid, TicketID: ticketID}
}

// markScanned inserts hash into the scanned set and, when it was not there
// yet, appends the pending scan, all in one transaction. It returns the state
// the hash was in before the call.
func (v *Validator) markScanned(ctx context.Context, eventID, hash, token string) (ScanState, error) {
	now := v.now().UTC().UnixMilli()
	tx, err := v.store.db.BeginTx(ctx, nil)
	if err != nil {
		return Unscanned, storageErr("begin scan", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`insert into scanned_hashes (event_id, hash, scanned_at) values (?, ?, ?) on conflict do nothing`,
		eventID, hash, now)
	if err != nil {
		return Unscanned, storageErr("mark scanned", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Unscanned, storageErr("mark scanned", err)
	}
	if n == 0 {
		return Scanned, nil
	}
	if _, err := tx.ExecContext(ctx, `
		insert into pending_scans (event_id, qr_token, scanned_at, scanned_by) values (?, ?, ?, ?)
		on conflict (event_id, qr_token) do update
		set scanned_at = excluded.scanned_at, scanned_by = excluded.scanned_by
	`, eventID, token, now, v.ScannedBy); err != nil {
		return Unscanned, storageErr("enqueue scan", err)
	}
	if err := tx.Commit(); err != nil {
		return Unscanned, storageErr("commit scan", err)
	}
	return Unscanned, nil
}
