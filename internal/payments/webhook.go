package payments

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Outcome is what a webhook says about an order's payment.
type Outcome string

const (
	OutcomeNone   Outcome = ""
	OutcomePaid   Outcome = "paid"
	OutcomeFailed Outcome = "failed"
)

// WebhookEvent is the part of a processor event the gateway acts on.
type WebhookEvent struct {
	ID      string
	Type    string
	Ref     Ref
	Outcome Outcome
}

const webhookTolerance = 5 * time.Minute

// ParseWebhook verifies the Stripe-Signature header against secret and
// extracts the payment reference. Event types that do not settle a payment
// come back with OutcomeNone.
func ParseWebhook(payload []byte, signature, secret string) (WebhookEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		Tolerance:                webhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	out := WebhookEvent{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil {
		return out, nil
	}

	switch ev.Type {
	case "payment_intent.succeeded", "payment_intent.canceled", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return WebhookEvent{}, fmt.Errorf("decode payment intent: %w", err)
		}
		out.Ref.PaymentIntentID = pi.ID
		out.Outcome = OutcomeFailed
		if ev.Type == "payment_intent.succeeded" {
			out.Outcome = OutcomePaid
		}
	case "checkout.session.completed", "checkout.session.async_payment_succeeded",
		"checkout.session.expired", "checkout.session.async_payment_failed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return WebhookEvent{}, fmt.Errorf("decode checkout session: %w", err)
		}
		out.Ref.CheckoutSessionID = cs.ID
		switch {
		case ev.Type == "checkout.session.expired" || ev.Type == "checkout.session.async_payment_failed":
			out.Outcome = OutcomeFailed
		case cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
			out.Outcome = OutcomePaid
		}
	}
	return out, nil
}
