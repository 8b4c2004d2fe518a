package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// StripeConfig configures the Stripe adapter. URL overrides the API base and
// is used against local fakes.
type StripeConfig struct {
	SecretKey  string
	URL        string
	HTTPClient *http.Client
	MaxRetries int64
}

type Stripe struct {
	api *client.API
}

var _ Processor = (*Stripe)(nil)

func NewStripe(cfg StripeConfig) (*Stripe, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, errors.New("payments: stripe secret key is required")
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		MaxNetworkRetries: stripe.Int64(cfg.MaxRetries),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelWarn},
	}
	if cfg.URL != "" {
		backendCfg.URL = stripe.String(cfg.URL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	}
	sc := &client.API{}
	sc.Init(key, backends)
	return &Stripe{api: sc}, nil
}

func (s *Stripe) Status(ctx context.Context, ref Ref) (string, error) {
	switch {
	case ref.PaymentIntentID != "":
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		pi, err := s.api.PaymentIntents.Get(ref.PaymentIntentID, params)
		if err != nil {
			return "", fmt.Errorf("retrieve payment intent %s: %w", ref.PaymentIntentID, err)
		}
		return string(pi.Status), nil
	case ref.CheckoutSessionID != "":
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		cs, err := s.api.CheckoutSessions.Get(ref.CheckoutSessionID, params)
		if err != nil {
			return "", fmt.Errorf("retrieve checkout session %s: %w", ref.CheckoutSessionID, err)
		}
		return checkoutStatus(cs), nil
	default:
		return "", ErrNoReference
	}
}

func checkoutStatus(cs *stripe.CheckoutSession) string {
	switch {
	case cs.Status == stripe.CheckoutSessionStatusExpired:
		return "expired"
	case cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return "paid"
	case cs.Status == stripe.CheckoutSessionStatusOpen:
		return "open"
	default:
		return string(cs.PaymentStatus)
	}
}
