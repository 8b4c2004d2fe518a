package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"turnstile.app/internal/domain"
	"turnstile.app/internal/payments"
	"turnstile.app/internal/store/memory"
)

var now = time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func pendingOrder(id string, age time.Duration) domain.Order {
	return domain.Order{
		ID:              id,
		EventID:         "e1",
		UserID:          "u1",
		Status:          domain.OrderPaymentPending,
		PaymentIntentID: "pi_" + id,
		CreatedAt:       now.Add(-age),
	}
}

// statuses answers by payment intent id; a missing id is a processor error.
func statuses(m map[string]string) payments.Processor {
	return payments.StatusFunc(func(ctx context.Context, ref payments.Ref) (string, error) {
		s, ok := m[ref.PaymentIntentID]
		if !ok {
			return "", errors.New("processor unavailable")
		}
		return s, nil
	})
}

func TestStuckSucceededOrderBecomesPaidOnce(t *testing.T) {
	store := memory.New()
	store.PutOrder(pendingOrder("O1", 3*time.Hour))
	job := New(store, statuses(map[string]string{"pi_O1": "succeeded"}), WithClock(clock))
	ctx := context.Background()

	stats, err := job.Run(ctx, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Reconciled != 1 || stats.Failed != 0 || stats.Examined != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	o, _ := store.Order(ctx, "O1")
	if o.Status != domain.OrderPaid || o.PaidAt == nil {
		t.Fatalf("expected paid order with paid_at, got %+v", o)
	}
	tl, _ := store.OrderTimeline(ctx, "O1")
	if len(tl) != 1 || tl[0].Type != domain.TimelineReconciled || tl[0].Source != domain.SourceReconciliation {
		t.Fatalf("expected one reconciled entry, got %+v", tl)
	}

	stats, err = job.Run(ctx, 1)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if stats.Reconciled != 0 || stats.Examined != 0 {
		t.Fatalf("second pass should change nothing: %+v", stats)
	}
	tl, _ = store.OrderTimeline(ctx, "O1")
	if len(tl) != 1 {
		t.Fatalf("second pass appended timeline: %+v", tl)
	}
}

func TestOutcomeMapping(t *testing.T) {
	cases := map[string]domain.OrderStatus{
		"succeeded":               domain.OrderPaid,
		"paid":                    domain.OrderPaid,
		"canceled":                domain.OrderPaymentFailed,
		"expired":                 domain.OrderPaymentFailed,
		"unpaid":                  domain.OrderPaymentFailed,
		"processing":              "",
		"requires_payment_method": "",
		"open":                    "",
	}
	for status, want := range cases {
		got, _, ok := Outcome(status)
		if got != want || ok != (want != "") {
			t.Fatalf("%s: expected %q, got %q ok=%v", status, want, got, ok)
		}
	}
}

func TestFailuresAreIsolatedPerOrder(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		store.PutOrder(pendingOrder(id, 2*time.Hour))
	}
	job := New(store, statuses(map[string]string{
		"pi_a": "succeeded",
		"pi_c": "canceled",
		"pi_d": "processing",
	}), WithClock(clock))

	stats, err := job.Run(ctx, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Reconciled != 2 || stats.Failed != 1 || stats.Examined != 4 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	want := map[string]domain.OrderStatus{
		"a": domain.OrderPaid,
		"b": domain.OrderPaymentPending,
		"c": domain.OrderPaymentFailed,
		"d": domain.OrderPaymentPending,
	}
	for id, status := range want {
		o, _ := store.Order(ctx, id)
		if o.Status != status {
			t.Fatalf("order %s: expected %s, got %s", id, status, o.Status)
		}
	}
	tl, _ := store.OrderTimeline(ctx, "c")
	if len(tl) != 1 || tl[0].Type != domain.TimelineReconciledFailed {
		t.Fatalf("expected reconciled_failed entry, got %+v", tl)
	}
}

type failingResolve struct {
	*memory.Store
	failID string
}

func (f failingResolve) ResolveOrder(ctx context.Context, id string, to domain.OrderStatus, at time.Time, e domain.TimelineEntry) (bool, error) {
	if id == f.failID {
		return false, errors.New("connection reset")
	}
	return f.Store.ResolveOrder(ctx, id, to, at, e)
}

func TestStoreErrorDoesNotAbortSweep(t *testing.T) {
	store := memory.New()
	store.PutOrder(pendingOrder("a", 4*time.Hour))
	store.PutOrder(pendingOrder("b", 3*time.Hour))
	job := New(failingResolve{Store: store, failID: "a"},
		statuses(map[string]string{"pi_a": "succeeded", "pi_b": "succeeded"}), WithClock(clock))

	stats, err := job.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Reconciled != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestProcessorTimeoutLeavesOrderPending(t *testing.T) {
	store := memory.New()
	store.PutOrder(pendingOrder("slow", 2*time.Hour))
	blocking := payments.StatusFunc(func(ctx context.Context, ref payments.Ref) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	job := New(store, blocking, WithClock(clock), WithProcessorTimeout(20*time.Millisecond))

	stats, err := job.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Failed != 1 || stats.Reconciled != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	o, _ := store.Order(context.Background(), "slow")
	if o.Status != domain.OrderPaymentPending {
		t.Fatalf("timeout must not settle the order, got %s", o.Status)
	}
}

func TestExpiresStaleHolds(t *testing.T) {
	store := memory.New()
	store.PutHold(domain.Hold{ID: "h1", EventID: "e1", Quantity: 1, Status: domain.HoldActive, ExpiresAt: now.Add(-time.Minute)})
	store.PutHold(domain.Hold{ID: "h2", EventID: "e1", Quantity: 1, Status: domain.HoldActive, ExpiresAt: now.Add(time.Minute)})
	store.PutHold(domain.Hold{ID: "h3", EventID: "e1", Quantity: 1, Status: domain.HoldConsumed, ExpiresAt: now.Add(-time.Hour)})
	job := New(store, statuses(nil), WithClock(clock))

	stats, err := job.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.ExpiredHolds != 1 {
		t.Fatalf("expected 1 expired hold, got %+v", stats)
	}
	got := map[string]domain.HoldStatus{}
	for _, h := range store.Holds("e1") {
		got[h.ID] = h.Status
	}
	if got["h1"] != domain.HoldExpired || got["h2"] != domain.HoldActive || got["h3"] != domain.HoldConsumed {
		t.Fatalf("unexpected holds: %v", got)
	}

	stats, _ = job.Run(context.Background(), 1)
	if stats.ExpiredHolds != 0 {
		t.Fatalf("re-run should find nothing: %+v", stats)
	}
}

func TestHoursBackWindow(t *testing.T) {
	store := memory.New()
	store.PutOrder(pendingOrder("young", 30*time.Minute))
	store.PutOrder(pendingOrder("old", 90*time.Minute))
	var calls atomic.Int32
	proc := payments.StatusFunc(func(ctx context.Context, ref payments.Ref) (string, error) {
		calls.Add(1)
		return "succeeded", nil
	})
	job := New(store, proc, WithClock(clock))

	stats, err := job.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Examined != 1 || calls.Load() != 1 {
		t.Fatalf("expected only the old order, got %+v calls=%d", stats, calls.Load())
	}
	if _, err := job.Run(context.Background(), -1); !errors.Is(err, ErrInvalidHoursBack) {
		t.Fatalf("expected ErrInvalidHoursBack, got %v", err)
	}
}

func TestOrderWithoutReferenceIsSkipped(t *testing.T) {
	store := memory.New()
	o := pendingOrder("bare", 2*time.Hour)
	o.PaymentIntentID = ""
	store.PutOrder(o)
	job := New(store, statuses(nil), WithClock(clock))

	stats, err := job.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Examined != 1 || stats.Failed != 0 || stats.Reconciled != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, nil
}

func TestSkipsWhenLockHeld(t *testing.T) {
	store := memory.New()
	store.PutOrder(pendingOrder("O1", 3*time.Hour))
	var calls atomic.Int32
	proc := payments.StatusFunc(func(ctx context.Context, ref payments.Ref) (string, error) {
		calls.Add(1)
		return "succeeded", nil
	})
	job := New(store, proc, WithClock(clock), WithLocker(heldLock{}))

	stats, err := job.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !stats.Skipped || calls.Load() != 0 {
		t.Fatalf("expected skipped run, got %+v calls=%d", stats, calls.Load())
	}
}

func TestUnresolvedOldOrdersDoNotStarveNewerOnes(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	m := map[string]string{"pi_O1": "succeeded"}
	for i, id := range []string{"old1", "old2", "old3", "old4"} {
		store.PutOrder(pendingOrder(id, time.Duration(12-i)*time.Hour))
		m["pi_"+id] = "processing"
	}
	bare := pendingOrder("bare", 9*time.Hour)
	bare.PaymentIntentID = ""
	store.PutOrder(bare)
	store.PutOrder(pendingOrder("O1", 3*time.Hour))
	job := New(store, statuses(m), WithClock(clock), WithBatchSize(3))

	stats, err := job.Run(ctx, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Examined != 6 || stats.Reconciled != 1 {
		t.Fatalf("expected every stuck order examined once, got %+v", stats)
	}
	o, _ := store.Order(ctx, "O1")
	if o.Status != domain.OrderPaid {
		t.Fatalf("newer succeeded order left %s", o.Status)
	}
}

func TestBatchSizeIsClamped(t *testing.T) {
	if j := New(memory.New(), statuses(nil), WithBatchSize(5000)); j.batchSize != domain.MaxOrderPage {
		t.Fatalf("expected batch size %d, got %d", domain.MaxOrderPage, j.batchSize)
	}
	if j := New(memory.New(), statuses(nil), WithBatchSize(0)); j.batchSize != DefaultBatchSize {
		t.Fatalf("expected default batch size, got %d", j.batchSize)
	}
}
