package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-intake/internal/api/router"
	"github.com/wolfman30/clinic-intake/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-intake/internal/config"
	"github.com/wolfman30/clinic-intake/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-intake/internal/http/middleware"
	"github.com/wolfman30/clinic-intake/internal/intake"
	"github.com/wolfman30/clinic-intake/internal/observability/metrics"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-intake API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := bootstrap.BuildRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("runtime close failed", "error", err)
		}
	}()

	metricsHandler, intakeMetrics := setupIntakeMetrics()
	registryCfg := buildRegistryConfig(cfg, rt, intakeMetrics, logger)
	registry := intake.NewRegistry(registryCfg)
	go registry.Run(ctx, cfg.SessionSweepEvery)

	limiter := httpmiddleware.NewRateLimiter(1, 10)
	go limiter.Run(ctx)

	handlerCfg := handlers.IntakeHandlerConfig{
		Registry: registry,
		Fetcher:  rt.Patients,
		Stats:    intakeMetrics,
		Logger:   logger,
	}
	if rt.Audit != nil {
		handlerCfg.Audit = rt.Audit
	}

	// Setup router
	r := router.New(&router.Config{
		Logger:             logger,
		IntakeHandler:      handlers.NewIntakeHandler(handlerCfg),
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		SessionLimiter:     limiter,
	})

	// Create HTTP server. The write timeout covers a full backend round trip.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.BackendTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupIntakeMetrics builds a private registry with the runtime collectors
// and the wizard metrics.
func setupIntakeMetrics() (http.Handler, *metrics.IntakeMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	intakeMetrics := metrics.NewIntakeMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), intakeMetrics
}

func buildRegistryConfig(cfg *appconfig.Config, rt *bootstrap.Runtime, m *metrics.IntakeMetrics, logger *logging.Logger) intake.RegistryConfig {
	registryCfg := intake.RegistryConfig{
		Backend:        rt.Patients,
		Locker:         rt.Locker,
		LockTTL:        cfg.SubmitLockTTL,
		Submissions:    m,
		Steps:          m,
		Sessions:       m,
		DefaultCountry: cfg.DefaultCountry,
		TTL:            cfg.SessionTTL,
		OnComplete: func(sessionID string, rec *intake.Record) {
			if rec != nil {
				logger.Info("patient record saved", "session_id", sessionID, "record_id", rec.ID)
			}
		},
		Logger: logger,
	}
	// A typed nil *AuditService must not reach the interface field.
	if rt.Audit != nil {
		registryCfg.Auditor = rt.Audit
	}
	return registryCfg
}
