package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	zerologadapter "github.com/mihaimyh/orgbilling/pkg/billing/logger/zerolog"
	prommetrics "github.com/mihaimyh/orgbilling/pkg/billing/metrics/prometheus"
	billingstripe "github.com/mihaimyh/orgbilling/pkg/billing/stripe"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook receiver",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := newLogger(cfg, os.Stderr)
	logger := zerologadapter.NewLogger(log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := prommetrics.NewMetrics(registry, cfg.MetricsNamespace)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ledger, closeLedger, err := newLedger(cfg, store)
	if err != nil {
		return err
	}
	defer closeLedger()
	ledger = guardLedger(ledger, log)

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}

	client := newStripeClient(cfg, logger, metrics)
	catalog := cfg.Catalog()

	reconciler, err := billingstripe.NewReconciler(billingstripe.ReconcilerConfig{
		Store:         store,
		Subscriptions: client,
		Notifier:      notifier,
		Catalog:       catalog,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}

	webhook, err := billingstripe.NewWebhookHandler(billingstripe.WebhookConfig{
		Verifier:      client,
		WebhookSecret: cfg.StripeWebhookSecret,
		Handlers:      reconciler,
		Catalog:       catalog,
		Ledger:        ledger,
		Logger:        logger,
		Metrics:       metrics,
		RateLimit:     cfg.WebhookRateLimit,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(webhook, store, registry, log),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().
			Str("addr", cfg.HTTPAddr).
			Str("version", Version).
			Str("ledger", string(cfg.LedgerBackend)).
			Str("mode", string(cfg.Mode())).
			Msg("Starting orgbilling webhook receiver")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
