package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-opd/internal/app"
	"github.com/hackgods/clinic-opd/internal/clinic"
	"github.com/hackgods/clinic-opd/internal/config"
	"github.com/hackgods/clinic-opd/internal/logging"
	"github.com/hackgods/clinic-opd/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("prod", "info").Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "billing-worker").Logger()
	logger.Info().Str("schedule", cfg.BillingSchedule).Msg("billing-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("backend connection error")
	}
	defer rt.Close()

	reg := prometheus.NewRegistry()
	svc := rt.Service(logger, metrics.NewClinicMetrics(reg))

	// Run once at startup
	runOnce(rootCtx, svc, logger)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(cfg.BillingSchedule, func() { runOnce(rootCtx, svc, logger) }); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.BillingSchedule).Msg("invalid billing schedule")
	}
	c.Start()

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutdown signal received, stopping billing worker")

	<-c.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func runOnce(ctx context.Context, svc *clinic.Service, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if _, err := svc.SweepPendingInvoices(runCtx); err != nil {
		logger.Error().Err(err).Msg("pending invoice sweep failed")
		return
	}
	logger.Info().Dur("took", time.Since(start)).Msg("pending invoice sweep complete")
}
