// Command reconcile runs one reconciliation sweep and prints its stats. It
// is the same job the gateway exposes at /functions/v1/reconcile-orders.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"turnstile.app/internal/config"
	"turnstile.app/internal/lock"
	"turnstile.app/internal/obs"
	"turnstile.app/internal/payments"
	"turnstile.app/internal/reconcile"
	"turnstile.app/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	hoursBack := pflag.Float64("hours-back", cfg.ReconcileHoursBack, "only orders created at least this many hours ago")
	timeout := pflag.Duration("timeout", 5*time.Minute, "overall deadline for the sweep")
	pflag.Parse()

	if err := cfg.ValidateReconcile(); err != nil {
		log.Fatalf("config: %v", err)
	}
	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	processor, err := payments.NewStripe(payments.StripeConfig{SecretKey: cfg.StripeSecretKey, MaxRetries: 1})
	if err != nil {
		log.Fatalf("stripe: %v", err)
	}
	opts := []reconcile.Option{
		reconcile.WithBatchSize(cfg.ReconcileBatch),
		reconcile.WithProcessorTimeout(cfg.ProcessorTimeout),
	}
	if client := lock.Connect(cfg.RedisAddr, cfg.RedisPassword); client != nil {
		defer client.Close()
		opts = append(opts, reconcile.WithLocker(lock.NewRedis(client)))
	}
	job := reconcile.New(store, processor, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	stats, err := job.Run(ctx, *hoursBack)
	if err != nil {
		obs.Error("reconcile_failed", map[string]any{"error": err})
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]any{"success": true, "stats": stats})
}
