// Package reconcile repairs payment-state drift: it expires stale holds and
// re-derives the status of orders stuck in payment_pending from the payment
// processor, so a dropped webhook cannot leave an order pending forever.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"turnstile.app/internal/domain"
	"turnstile.app/internal/ids"
	"turnstile.app/internal/lock"
	"turnstile.app/internal/obs"
	"turnstile.app/internal/payments"
)

const (
	DefaultHoursBack        = 1.0
	DefaultBatchSize        = domain.DefaultOrderPage
	DefaultProcessorTimeout = 10 * time.Second

	lockKey = "turnstile:reconcile-orders"
	lockTTL = 5 * time.Minute
)

var ErrInvalidHoursBack = errors.New("reconcile: hours_back must not be negative")

// Stats are the aggregate counters of one run.
type Stats struct {
	Reconciled   int   `json:"reconciled"`
	ExpiredHolds int64 `json:"expired_holds"`
	Failed       int   `json:"failed"`
	Examined     int   `json:"examined"`
	Skipped      bool  `json:"skipped,omitempty"`
}

type Job struct {
	orders    domain.Orders
	processor payments.Processor
	locker    lock.Locker
	batchSize int
	timeout   time.Duration
	now       func() time.Time
}

type Option func(*Job)

func WithLocker(l lock.Locker) Option {
	return func(j *Job) {
		if l != nil {
			j.locker = l
		}
	}
}

// WithBatchSize sets the page size of the order listing, clamped to
// domain.MaxOrderPage.
func WithBatchSize(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.batchSize = domain.ClampOrderPage(n)
		}
	}
}

// WithProcessorTimeout bounds each processor lookup.
func WithProcessorTimeout(d time.Duration) Option {
	return func(j *Job) {
		if d > 0 {
			j.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(j *Job) {
		if now != nil {
			j.now = now
		}
	}
}

func New(orders domain.Orders, processor payments.Processor, opts ...Option) *Job {
	j := &Job{
		orders:    orders,
		processor: processor,
		locker:    lock.Nop{},
		batchSize: DefaultBatchSize,
		timeout:   DefaultProcessorTimeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Outcome maps a processor status to the order status it settles to, and
// the timeline entry type recording it. ok is false for statuses that are
// still in flight.
func Outcome(status string) (to domain.OrderStatus, entryType string, ok bool) {
	switch status {
	case "succeeded", "paid":
		return domain.OrderPaid, domain.TimelineReconciled, true
	case "canceled", "expired", "unpaid":
		return domain.OrderPaymentFailed, domain.TimelineReconciledFailed, true
	default:
		return "", "", false
	}
}

// Run performs one sweep over orders created more than hoursBack hours ago.
// Failures for one order are counted and logged and never stop the sweep;
// only failing to expire holds or to list orders aborts the run.
func (j *Job) Run(ctx context.Context, hoursBack float64) (Stats, error) {
	if hoursBack < 0 {
		return Stats{}, ErrInvalidHoursBack
	}
	release, ok, err := j.locker.Acquire(ctx, lockKey, lockTTL)
	if err != nil {
		return Stats{}, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		obs.Info("reconcile_skipped", map[string]any{"reason": "lock_held"})
		return Stats{Skipped: true}, nil
	}
	defer release()

	var stats Stats
	now := j.now()

	expired, err := j.orders.ExpireHolds(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("expire holds: %w", err)
	}
	stats.ExpiredHolds = expired
	obs.ReconcileExpiredHolds.Add(float64(expired))

	// Every stuck order is visited; ones that stay pending must not hide
	// newer ones.
	cutoff := now.Add(-time.Duration(hoursBack * float64(time.Hour)))
	var cursor domain.OrderCursor
	for {
		page, err := j.orders.StuckOrders(ctx, cutoff, cursor, j.batchSize)
		if err != nil {
			return stats, fmt.Errorf("list stuck orders: %w", err)
		}
		for _, order := range page {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.Examined++
			j.reconcileOne(ctx, order, &stats)
		}
		if len(page) < j.batchSize {
			break
		}
		last := page[len(page)-1]
		cursor = domain.OrderCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	obs.Info("reconcile_complete", map[string]any{
		"reconciled":    stats.Reconciled,
		"expired_holds": stats.ExpiredHolds,
		"failed":        stats.Failed,
		"examined":      stats.Examined,
		"hours_back":    hoursBack,
	})
	return stats, nil
}

func (j *Job) reconcileOne(ctx context.Context, order domain.Order, stats *Stats) {
	ref := payments.Ref{PaymentIntentID: order.PaymentIntentID, CheckoutSessionID: order.CheckoutSessionID}
	if ref.Empty() {
		obs.ReconcileOrders.WithLabelValues("no_reference").Inc()
		obs.Warn("reconcile_no_reference", map[string]any{"order_id": order.ID})
		return
	}

	pctx, cancel := context.WithTimeout(ctx, j.timeout)
	status, err := j.processor.Status(pctx, ref)
	cancel()
	if err != nil {
		stats.Failed++
		reason := "processor_error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "processor_timeout"
		}
		obs.ReconcileOrders.WithLabelValues("failed").Inc()
		obs.Warn("reconcile_order_failed", map[string]any{"order_id": order.ID, "reason": reason, "error": err})
		return
	}

	to, entryType, ok := Outcome(status)
	if !ok {
		obs.ReconcileOrders.WithLabelValues("in_flight").Inc()
		return
	}

	at := j.now()
	moved, err := j.orders.ResolveOrder(ctx, order.ID, to, at, domain.TimelineEntry{
		ID:        ids.NewAt(at),
		Type:      entryType,
		Source:    domain.SourceReconciliation,
		Note:      "processor status " + status,
		CreatedAt: at,
	})
	if err != nil {
		stats.Failed++
		obs.ReconcileOrders.WithLabelValues("failed").Inc()
		obs.Error("reconcile_order_failed", map[string]any{"order_id": order.ID, "reason": "store_error", "error": err})
		return
	}
	if !moved {
		// settled by the webhook between listing and now
		obs.ReconcileOrders.WithLabelValues("already_settled").Inc()
		return
	}
	stats.Reconciled++
	obs.ReconcileOrders.WithLabelValues(string(to)).Inc()
}
