package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"storegate/internal/api"
	"storegate/internal/breaker"
	"storegate/internal/config"
	"storegate/internal/logger"
	"storegate/internal/models"
	"storegate/internal/observability"
	"storegate/internal/ratelimit"
	"storegate/internal/storage"
	"storegate/internal/version"
)

var configFile = flag.String("config", "", "Path to configuration file")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ver := version.GetInfo()

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// The audit store is the gateway's one external dependency; every
	// connect and probe goes through the circuit breaker.
	storeBreaker := breaker.New("audit-store",
		breaker.WithFailureThreshold(cfg.Security.Breaker.FailureThreshold),
		breaker.WithResetTimeout(cfg.Security.Breaker.ResetTimeout),
	)

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 15*time.Second)
	store, err := storage.Connect(connectCtx, cfg.Storage, storeBreaker)
	cancelConnect()
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Wrap storage with instrumentation if metrics are enabled
	var activeStore storage.Store = store
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStore(store)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		activeStore = instrumented
	}

	// Initialize the sliding window limiter and admission middleware
	limiter := ratelimit.NewSlidingWindow(ratelimit.Config{
		MaxTrackedKeys:          cfg.Security.Admission.MaxTrackedKeys,
		SuspiciousThreshold:     cfg.Security.Admission.SuspiciousThreshold,
		SuspiciousBlockDuration: cfg.Security.Admission.SuspiciousBlockDuration,
		ViolationLimit:          cfg.Security.Admission.ViolationLimit,
		CleanupInterval:         cfg.Security.Admission.CleanupInterval,
		Whitelist:               cfg.Security.Admission.Whitelist,
	})
	defer limiter.Close()

	restoreBlocks(activeStore, limiter)

	handlers := api.NewHandlers(activeStore, limiter, storeBreaker, ver)

	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	if cfg.Security.Admission.Enabled {
		admissionOpts := ratelimit.Options{
			Limiter:  limiter,
			Policies: ratelimit.NewPolicyTable(cfg.Security.Admission.Policies),
			Roles:    api.RoleResolver(&cfg.Security),
			Routes:   api.ClassifyRoute,
			Audit:    auditSink(activeStore, limiter),
		}
		if cfg.Security.Admission.GlobalRPS > 0 {
			admissionOpts.Global = rate.NewLimiter(
				rate.Limit(cfg.Security.Admission.GlobalRPS),
				cfg.Security.Admission.GlobalBurst,
			)
		}
		if cfg.Metrics.Enabled {
			recorder, err := observability.NewAdmissionRecorder()
			if err != nil {
				slog.Error("Failed to create admission recorder", "error", err)
				os.Exit(1)
			}
			admissionOpts.Recorder = recorder
		}
		routeOpts = append(routeOpts, api.WithAdmission(ratelimit.Middleware(admissionOpts)))
	}

	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting server", "addr", server.Addr, "version", ver.Version)

		var err error
		if cfg.Server.TLSEnabled {
			if cfg.Server.TLSCertFile == "" || cfg.Server.TLSKeyFile == "" {
				return fmt.Errorf("TLS is enabled but cert file or key file is not specified")
			}
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("Metrics server forced to shutdown", "error", err)
			}
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Server shutdown complete")
}

// auditSink hands admission events to the store off the request path. The
// middleware contract requires the sink to never block. Block events also
// persist the block record so active blocks survive a restart.
func auditSink(store storage.Store, limiter *ratelimit.SlidingWindow) ratelimit.AuditFunc {
	return func(event *models.AuditEvent) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.RecordEvent(ctx, event); err != nil {
				slog.Error("Failed to record audit event", "type", event.Type, "error", err)
			}
			if event.Type == models.EventIPBlocked {
				if rec, blocked := limiter.IsBlocked(event.IP); blocked {
					err := store.SaveBlock(ctx, models.BlockInfo{
						IP:             rec.IP,
						Reason:         rec.Reason,
						BlockedUntil:   rec.Until,
						ViolationCount: rec.ViolationCount,
					})
					if err != nil {
						slog.Error("Failed to persist block record", "ip", rec.IP, "error", err)
					}
				}
			}
		}()
	}
}

// restoreBlocks re-applies persisted block records that have not yet
// expired, so a restart does not lift active blocks.
func restoreBlocks(store storage.Store, limiter *ratelimit.SlidingWindow) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	blocks, err := store.Blocks(ctx)
	if err != nil {
		slog.Warn("Could not restore persisted blocks", "error", err)
		return
	}

	restored := 0
	for _, b := range blocks {
		if remaining := time.Until(b.BlockedUntil); remaining > 0 {
			limiter.Block(b.IP, b.Reason, remaining)
			restored++
		}
	}
	if restored > 0 {
		slog.Info("Restored persisted blocks", "count", restored)
	}
}
