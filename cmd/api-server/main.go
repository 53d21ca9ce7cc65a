package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/clinic-opd/internal/api"
	"github.com/hackgods/clinic-opd/internal/app"
	"github.com/hackgods/clinic-opd/internal/config"
	"github.com/hackgods/clinic-opd/internal/logging"
	"github.com/hackgods/clinic-opd/internal/metrics"
	"github.com/hackgods/clinic-opd/internal/realtime"
	"github.com/hackgods/clinic-opd/internal/session"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("prod", "info").Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "api-server").Logger()
	logger.Info().Str("http_port", cfg.HTTPPort).Str("store", cfg.StoreDriver).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("backend connection error")
	}
	defer rt.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := rt.Service(logger, metrics.NewClinicMetrics(reg))
	if cfg.SuperAdminEmail != "" {
		if _, err := svc.CreateSuperAdmin(rootCtx, "Platform Admin", cfg.SuperAdminEmail, cfg.SuperAdminPass); err != nil {
			logger.Warn().Err(err).Msg("superadmin bootstrap skipped")
		}
	}

	router := api.NewRouter(api.RouterConfig{
		Service:        svc,
		Issuer:         session.NewIssuer(cfg.JWTSecret, cfg.SessionTTL),
		Logger:         logger,
		Metrics:        metrics.NewHTTPMetrics(reg),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Feed:           realtime.NewFeed(rt.Store, logger),
		Dependencies:   rt.Dependencies,
		Env:            cfg.Env,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server error")
	}

	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
