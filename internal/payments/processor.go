// Package payments is the port to the external payment processor: status
// lookups for the reconciliation sweep and webhook verification.
package payments

import (
	"context"
	"errors"
)

var (
	ErrNoReference = errors.New("payments: order has no processor reference")
	ErrSignature   = errors.New("payments: webhook signature invalid")
)

// Ref identifies an order on the processor side. PaymentIntentID wins when
// both are set.
type Ref struct {
	PaymentIntentID   string
	CheckoutSessionID string
}

func (r Ref) Empty() bool { return r.PaymentIntentID == "" && r.CheckoutSessionID == "" }

// Processor returns the authoritative processor status string for ref, for
// example "succeeded", "canceled", "paid", "expired", "unpaid" or an
// in-flight status such as "processing".
type Processor interface {
	Status(ctx context.Context, ref Ref) (string, error)
}

// StatusFunc adapts a function to Processor.
type StatusFunc func(ctx context.Context, ref Ref) (string, error)

func (f StatusFunc) Status(ctx context.Context, ref Ref) (string, error) { return f(ctx, ref) }
