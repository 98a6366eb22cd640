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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/api"
	"github.com/lalithlochan/taskbell/internal/app"
	"github.com/lalithlochan/taskbell/internal/config"
	"github.com/lalithlochan/taskbell/internal/observ"
	"github.com/lalithlochan/taskbell/internal/redis"
	"github.com/lalithlochan/taskbell/internal/scanner"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting taskbell gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("store", cfg.DBDriver),
		zap.String("instance_id", cfg.InstanceID),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observ.InitTracing(ctx, cfg.OTelEndpoint, cfg.ServiceName, cfg.Env)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.ReportDBConnections(ctx, 15*time.Second)

	var idempotency *redis.IdempotencyService
	var rateLimiter *redis.RateLimiter
	if a.Redis != nil {
		idempotency = redis.NewIdempotencyService(a.Redis, logger)
		rateLimiter = redis.NewRateLimiter(a.Redis, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimit,
			Window: cfg.RateLimitWindow,
		})

		go func() {
			if err := a.Bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("realtime bridge stopped", zap.Error(err))
			}
		}()
	}

	scheduler := scanner.NewScheduler(a.Scanner, a.Sink, logger)
	if cfg.ScanScheduleEnabled {
		if err := scheduler.Schedule(cfg.ScanSchedule); err != nil {
			return fmt.Errorf("failed to schedule overdue scan: %w", err)
		}
	}

	auth := api.NewAuthenticator(cfg.JWTSecret, cfg.PrivilegedRoles)
	if !auth.Enabled() {
		logger.Warn("JWT_SECRET not set, authentication disabled")
	}

	handler := api.NewHandler(logger, api.Deps{
		Notifications: a.Notifications,
		ReadState:     a.ReadState,
		Subscriptions: a.Store,
		Realtime:      a.Bridge,
		Scans:         scheduler,
		Breakers:      a.Breakers,
		Idempotency:   idempotency,
		Auth:          auth,
		TaskResource:  cfg.TaskResource,
		Ready:         a.Ping,
	})
	router := api.NewRouter(handler, rateLimiter, logger)

	// No WriteTimeout: SSE and WebSocket responses stay open. Regular routes
	// are bounded by the router's request timeout.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           otelhttp.NewHandler(router, "taskbell"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Streams only end when their connection is closed.
	a.Bridge.Hub().CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("overdue scan did not stop in time", zap.Error(err))
	}

	logger.Info("server stopped gracefully")
	return nil
}
