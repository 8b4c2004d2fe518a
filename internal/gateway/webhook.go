package gateway

import (
	"errors"
	"io"
	"net/http"

	"turnstile.app/internal/domain"
	"turnstile.app/internal/ids"
	"turnstile.app/internal/obs"
	"turnstile.app/internal/payments"
)

const maxWebhookBytes = 64 << 10

// stripeWebhook settles orders from processor events. It shares the
// payment_pending CAS with the reconciliation sweep, so whichever arrives
// first decides and the other is a no-op.
func (g *Gateway) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	rid := RequestIDFromContext(r.Context())
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeFailure(w, r, CodeValidationError, "payload too large")
		return
	}
	if g.cfg.WebhookSecret == "" {
		writeError(w, r, "stripe-webhook", errors.New("webhook secret not configured"))
		return
	}
	ev, err := payments.ParseWebhook(payload, r.Header.Get("Stripe-Signature"), g.cfg.WebhookSecret)
	if err != nil {
		obs.Warn("webhook_rejected", map[string]any{"request_id": rid, "error": err})
		writeFailure(w, r, CodeValidationError, "invalid webhook signature or payload")
		return
	}

	fields := map[string]any{"request_id": rid, "event_id": ev.ID, "type": ev.Type}
	if ev.Outcome == payments.OutcomeNone || ev.Ref.Empty() {
		obs.Info("webhook_ignored", fields)
		writeOK(w, r, map[string]bool{"received": true})
		return
	}

	order, err := g.repo.OrderByPaymentRef(r.Context(), ev.Ref.PaymentIntentID, ev.Ref.CheckoutSessionID)
	if errors.Is(err, domain.ErrNotFound) {
		obs.Warn("webhook_order_missing", fields)
		writeOK(w, r, map[string]bool{"received": true})
		return
	}
	if err != nil {
		writeError(w, r, "stripe-webhook", err)
		return
	}

	to, entryType := domain.OrderPaid, domain.TimelineWebhookPaid
	if ev.Outcome == payments.OutcomeFailed {
		to, entryType = domain.OrderPaymentFailed, domain.TimelineWebhookFailed
	}
	now := g.now()
	changed, err := g.repo.ResolveOrder(r.Context(), order.ID, to, now, domain.TimelineEntry{
		ID:        ids.NewAt(now),
		OrderID:   order.ID,
		Type:      entryType,
		Source:    domain.SourceWebhook,
		Note:      ev.Type + " " + ev.ID,
		CreatedAt: now,
	})
	if err != nil {
		writeError(w, r, "stripe-webhook", err)
		return
	}
	fields["order_id"] = order.ID
	fields["changed"] = changed
	obs.Info("webhook_applied", fields)
	writeOK(w, r, map[string]any{"received": true, "order_id": order.ID, "changed": changed})
}
