package offline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultBatchSize = 100

// PendingScan is a locally accepted scan awaiting server acknowledgement.
type PendingScan struct {
	ID        int64     `json:"-"`
	EventID   string    `json:"eventId"`
	QRToken   string    `json:"qrToken"`
	ScannedAt time.Time `json:"scannedAt"`
	ScannedBy string    `json:"scannedBy,omitempty"`
}

// Uploader delivers scans to the server and returns the tokens it acknowledged.
type Uploader interface {
	UploadScans(ctx context.Context, eventID string, scans []PendingScan) ([]string, error)
}

// FlushResult reports one Flush call.
type FlushResult struct {
	Uploaded     int `json:"uploaded"`
	Acknowledged int `json:"acknowledged"`
	Remaining    int `json:"remaining"`
}

// Queue provides at-least-once delivery of pending scans.
type Queue struct {
	store     *Store
	batchSize int
	mu        sync.Mutex
}

func NewQueue(store *Store) *Queue {
	return &Queue{store: store, batchSize: defaultBatchSize}
}

// Pending lists scans for eventID in scan order.
func (q *Queue) Pending(ctx context.Context, eventID string) ([]PendingScan, error) {
	return q.batch(ctx, strings.TrimSpace(eventID), 0, -1)
}

// Flush uploads every pending scan for eventID in batches and removes exactly
// the acknowledged (eventID, qrToken) pairs. Unacknowledged scans stay queued
// for the next call. An upload error stops the flush and is returned together
// with the progress made so far.
func (q *Queue) Flush(ctx context.Context, eventID string, up Uploader) (FlushResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	eventID = strings.TrimSpace(eventID)
	var (
		res    FlushResult
		lastID int64
	)
	for {
		scans, err := q.batch(ctx, eventID, lastID, q.batchSize)
		if err != nil {
			return res, err
		}
		if len(scans) == 0 {
			break
		}
		lastID = scans[len(scans)-1].ID

		acked, err := up.UploadScans(ctx, eventID, scans)
		if err != nil {
			return q.finish(ctx, eventID, res, fmt.Errorf("upload scans: %w", err))
		}
		res.Uploaded += len(scans)
		n, err := q.remove(ctx, eventID, scans, acked)
		res.Acknowledged += n
		if err != nil {
			return q.finish(ctx, eventID, res, err)
		}
		if len(scans) < q.batchSize {
			break
		}
	}
	return q.finish(ctx, eventID, res, nil)
}

func (q *Queue) finish(ctx context.Context, eventID string, res FlushResult, cause error) (FlushResult, error) {
	var remaining int
	if err := q.store.db.QueryRowContext(ctx,
		`select count(1) from pending_scans where event_id = ?`, eventID).Scan(&remaining); err != nil && cause == nil {
		cause = storageErr("count pending", err)
	}
	res.Remaining = remaining
	return res, cause
}

func (q *Queue) batch(ctx context.Context, eventID string, afterID int64, limit int) ([]PendingScan, error) {
	rows, err := q.store.db.QueryContext(ctx, `
		select id, event_id, qr_token, scanned_at, scanned_by
		from pending_scans
		where event_id = ? and id > ?
		order by id asc
		limit ?
	`, eventID, afterID, limit)
	if err != nil {
		return nil, storageErr("list pending", err)
	}
	defer rows.Close()

	var out []PendingScan
	for rows.Next() {
		var (
			p  PendingScan
			at int64
		)
		if err := rows.Scan(&p.ID, &p.EventID, &p.QRToken, &at, &p.ScannedBy); err != nil {
			return nil, storageErr("scan pending", err)
		}
		p.ScannedAt = time.UnixMilli(at).UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list pending", err)
	}
	return out, nil
}

// remove deletes acknowledged tokens that belong to the uploaded batch.
// Acks for tokens outside the batch are ignored.
func (q *Queue) remove(ctx context.Context, eventID string, batch []PendingScan, acked []string) (int, error) {
	inBatch := make(map[string]struct{}, len(batch))
	for _, s := range batch {
		inBatch[s.QRToken] = struct{}{}
	}
	tx, err := q.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin ack", err)
	}
	defer func() { _ = tx.Rollback() }()

	var removed int
	for _, tok := range acked {
		if _, ok := inBatch[tok]; !ok {
			continue
		}
		delete(inBatch, tok)
		res, err := tx.ExecContext(ctx, `delete from pending_scans where event_id = ? and qr_token = ?`, eventID, tok)
		if err != nil {
			return 0, storageErr("ack scan", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			removed++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit ack", err)
	}
	return removed, nil
}
