package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func fakeStripe(t *testing.T, routes map[string]string) *Stripe {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such object"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	s, err := NewStripe(StripeConfig{SecretKey: "sk_test_123", URL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewStripe: %v", err)
	}
	return s
}

func TestStripeStatus(t *testing.T) {
	s := fakeStripe(t, map[string]string{
		"/v1/payment_intents/pi_ok":      `{"id":"pi_ok","object":"payment_intent","status":"succeeded"}`,
		"/v1/checkout/sessions/cs_paid":  `{"id":"cs_paid","object":"checkout.session","status":"complete","payment_status":"paid"}`,
		"/v1/checkout/sessions/cs_gone":  `{"id":"cs_gone","object":"checkout.session","status":"expired","payment_status":"unpaid"}`,
		"/v1/checkout/sessions/cs_open":  `{"id":"cs_open","object":"checkout.session","status":"open","payment_status":"unpaid"}`,
		"/v1/checkout/sessions/cs_async": `{"id":"cs_async","object":"checkout.session","status":"complete","payment_status":"unpaid"}`,
	})
	cases := map[string]struct {
		ref  Ref
		want string
	}{
		"intent":           {Ref{PaymentIntentID: "pi_ok", CheckoutSessionID: "cs_gone"}, "succeeded"},
		"checkout paid":    {Ref{CheckoutSessionID: "cs_paid"}, "paid"},
		"checkout expired": {Ref{CheckoutSessionID: "cs_gone"}, "expired"},
		"checkout open":    {Ref{CheckoutSessionID: "cs_open"}, "open"},
		"checkout async":   {Ref{CheckoutSessionID: "cs_async"}, "unpaid"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := s.Status(context.Background(), tc.ref)
			if err != nil {
				t.Fatalf("Status: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestStripeStatusErrors(t *testing.T) {
	s := fakeStripe(t, nil)
	if _, err := s.Status(context.Background(), Ref{}); !errors.Is(err, ErrNoReference) {
		t.Fatalf("expected ErrNoReference, got %v", err)
	}
	if _, err := s.Status(context.Background(), Ref{PaymentIntentID: "pi_missing"}); err == nil {
		t.Fatal("expected lookup error")
	}
}

func sign(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", at.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestParseWebhook(t *testing.T) {
	const secret = "whsec_test"
	cases := map[string]struct {
		payload string
		ref     Ref
		outcome Outcome
	}{
		"intent succeeded": {
			`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent","status":"succeeded"}}}`,
			Ref{PaymentIntentID: "pi_1"}, OutcomePaid,
		},
		"intent failed": {
			`{"id":"evt_2","object":"event","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_2","object":"payment_intent"}}}`,
			Ref{PaymentIntentID: "pi_2"}, OutcomeFailed,
		},
		"checkout completed unpaid": {
			`{"id":"evt_3","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_3","object":"checkout.session","payment_status":"unpaid"}}}`,
			Ref{CheckoutSessionID: "cs_3"}, OutcomeNone,
		},
		"checkout expired": {
			`{"id":"evt_4","object":"event","type":"checkout.session.expired","data":{"object":{"id":"cs_4","object":"checkout.session"}}}`,
			Ref{CheckoutSessionID: "cs_4"}, OutcomeFailed,
		},
		"unrelated": {
			`{"id":"evt_5","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`,
			Ref{}, OutcomeNone,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			payload := []byte(tc.payload)
			ev, err := ParseWebhook(payload, sign(payload, secret, time.Now()), secret)
			if err != nil {
				t.Fatalf("ParseWebhook: %v", err)
			}
			if ev.Ref != tc.ref || ev.Outcome != tc.outcome {
				t.Fatalf("unexpected event: %+v", ev)
			}
		})
	}
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)
	_, err := ParseWebhook(payload, sign(payload, "other", time.Now()), "whsec_test")
	if !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature, got %v", err)
	}
	_, err = ParseWebhook(payload, sign(payload, "whsec_test", time.Now().Add(-time.Hour)), "whsec_test")
	if !errors.Is(err, ErrSignature) {
		t.Fatalf("expected stale signature rejection, got %v", err)
	}
}
