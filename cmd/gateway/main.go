package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"turnstile.app/internal/auth"
	"turnstile.app/internal/config"
	"turnstile.app/internal/gateway"
	"turnstile.app/internal/lock"
	"turnstile.app/internal/notify"
	"turnstile.app/internal/obs"
	"turnstile.app/internal/payments"
	"turnstile.app/internal/reconcile"
	"turnstile.app/internal/store/pg"
)

var version = "0.1.0"

func main() {
	obs.Init()
	obs.InitBuildInfo("turnstile-gateway", version)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	authn, err := auth.NewAuthenticator(store, cfg.AuthSecret, auth.WithIssuer(cfg.AuthIssuer))
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	opts := []gateway.Option{gateway.WithReadyCheck(store.Ping)}
	if cfg.RabbitURL != "" {
		push := notify.NewAMQP(cfg.RabbitURL, notify.DefaultQueue)
		defer push.Close()
		opts = append(opts, gateway.WithNotifier(push))
	} else {
		obs.Warn("push_disabled", map[string]any{"reason": "RABBITMQ_URL not set"})
	}
	if job, err := reconcileJob(cfg, store); err != nil {
		obs.Warn("reconcile_disabled", map[string]any{"error": err})
	} else {
		opts = append(opts, gateway.WithReconciler(job))
	}

	gw := gateway.New(store, authn, gateway.Config{
		Version:            version,
		CronSecret:         cfg.CronSecret,
		WebhookSecret:      cfg.StripeWebhookSecret,
		PushTimeout:        cfg.PushTimeout,
		RatePerSec:         cfg.RatePerSec,
		RateBurst:          cfg.RateBurst,
		HoldTTL:            cfg.HoldTTL,
		ReconcileHoursBack: cfg.ReconcileHoursBack,
	}, opts...)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           gw.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.Info("gateway_starting", map[string]any{"version": version, "addr": srv.Addr})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	obs.Info("gateway_stopping", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	// let in-flight pushes finish before the broker connection closes
	gw.Wait()
	obs.Info("gateway_stopped", nil)
}

func reconcileJob(cfg config.Config, store *pg.Store) (*reconcile.Job, error) {
	processor, err := payments.NewStripe(payments.StripeConfig{SecretKey: cfg.StripeSecretKey, MaxRetries: 1})
	if err != nil {
		return nil, err
	}
	opts := []reconcile.Option{
		reconcile.WithBatchSize(cfg.ReconcileBatch),
		reconcile.WithProcessorTimeout(cfg.ProcessorTimeout),
	}
	if client := lock.Connect(cfg.RedisAddr, cfg.RedisPassword); client != nil {
		opts = append(opts, reconcile.WithLocker(lock.NewRedis(client)))
	}
	return reconcile.New(store, processor, opts...), nil
}
