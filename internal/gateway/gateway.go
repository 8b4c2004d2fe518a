// Package gateway is the write gateway: the only HTTP surface allowed to
// mutate core tables. Every function authenticates the caller, authorizes
// the specific action against the current resource, checks state
// preconditions, mutates through compare-and-swap repository calls and then
// runs fault-isolated side effects.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"turnstile.app/internal/auth"
	"turnstile.app/internal/domain"
	"turnstile.app/internal/notify"
	"turnstile.app/internal/obs"
	"turnstile.app/internal/reconcile"
)

// Authenticator resolves bearer tokens to identities.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Identity, error)
}

// Reconciler runs one reconciliation sweep.
type Reconciler interface {
	Run(ctx context.Context, hoursBack float64) (reconcile.Stats, error)
}

type Config struct {
	Version            string
	CronSecret         string
	WebhookSecret      string
	PushTimeout        time.Duration
	RatePerSec         float64
	RateBurst          int
	HoldTTL            time.Duration
	ReconcileHoursBack float64
}

func (c *Config) defaults() {
	if c.PushTimeout <= 0 {
		c.PushTimeout = 5 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 20
	}
	if c.HoldTTL <= 0 {
		c.HoldTTL = 10 * time.Minute
	}
	if c.ReconcileHoursBack <= 0 {
		c.ReconcileHoursBack = reconcile.DefaultHoursBack
	}
}

type Gateway struct {
	repo       domain.Repository
	authn      Authenticator
	notifier   notify.Notifier
	reconciler Reconciler
	ready      func(context.Context) error
	cfg        Config
	now        func() time.Time

	limiter *userLimiter
	effects sync.WaitGroup
	mux     *http.ServeMux
}

type Option func(*Gateway)

func WithNotifier(n notify.Notifier) Option {
	return func(g *Gateway) {
		if n != nil {
			g.notifier = n
		}
	}
}

func WithReconciler(r Reconciler) Option {
	return func(g *Gateway) { g.reconciler = r }
}

// WithReadyCheck sets the probe behind /readyz.
func WithReadyCheck(fn func(context.Context) error) Option {
	return func(g *Gateway) { g.ready = fn }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

func New(repo domain.Repository, authn Authenticator, cfg Config, opts ...Option) *Gateway {
	cfg.defaults()
	g := &Gateway{
		repo:     repo,
		authn:    authn,
		notifier: notify.Nop{},
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.limiter = newUserLimiter(cfg.RatePerSec, cfg.RateBurst, g.now)
	g.routes()
	return g
}

func (g *Gateway) routes() {
	fn := func(name string, h http.Handler) { g.mux.Handle("/functions/v1/"+name, h) }

	fn("messages-send", function(g, "messages-send", g.sendMessage))
	fn("messages-delete", function(g, "messages-delete", g.deleteMessage))
	fn("conversations-create", function(g, "conversations-create", g.createConversation))
	fn("events-create", function(g, "events-create", g.createEvent))
	fn("events-cancel", function(g, "events-cancel", g.cancelEvent))
	fn("avatars-set", function(g, "avatars-set", g.setAvatar))
	fn("rooms-kick", function(g, "rooms-kick", g.kickFromRoom))
	fn("rooms-end", function(g, "rooms-end", g.endRoom))
	fn("campaigns-cancel", function(g, "campaigns-cancel", g.cancelCampaign))
	fn("holds-create", function(g, "holds-create", g.createHold))
	fn("checkin-allowlist", function(g, "checkin-allowlist", g.checkinAllowlist))
	fn("checkin-sync", function(g, "checkin-sync", g.checkinSync))
	fn("reconcile-orders", http.HandlerFunc(g.reconcileOrders))

	g.mux.HandleFunc("/webhooks/stripe", g.stripeWebhook)
	g.mux.HandleFunc("/healthz", g.healthz)
	g.mux.HandleFunc("/readyz", g.readyz)
	g.mux.Handle("/metrics", obs.Handler())
	g.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, r, CodeNotFound, "no such function")
	})
}

// Handler returns the full middleware chain.
func (g *Gateway) Handler() http.Handler {
	return RequestID(LoggingJSON(CORS(obs.Instrument(g.mux))))
}

// Wait blocks until detached side effects started so far have finished.
func (g *Gateway) Wait() { g.effects.Wait() }
