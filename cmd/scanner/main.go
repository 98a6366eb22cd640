// Command scanner runs one overdue-task scan pass and exits. It exits 1 when
// the pass fails.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/app"
	"github.com/lalithlochan/taskbell/internal/config"
	"github.com/lalithlochan/taskbell/internal/observ"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observ.InitTracing(ctx, cfg.OTelEndpoint, cfg.ServiceName+"-scanner", cfg.Env)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.WithoutCancel(ctx)) }()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	pass := a.Scanner.Start(ctx)
	logger.Info("overdue scan started", zap.String("pass_id", pass.ID))

	last := scanner.Consume(context.WithoutCancel(ctx), pass, a.Sink, logger)
	if last.Kind == scanner.EventFailed {
		return fmt.Errorf("overdue scan %s failed: %s", pass.ID, last.Error)
	}

	logger.Info("overdue scan completed",
		zap.String("pass_id", pass.ID),
		zap.Int("tasks_processed", last.TasksProcessed),
		zap.Int("notifications_created", last.NotificationsCreated),
		zap.Int("notifications_failed", last.NotificationsFailed),
	)
	return nil
}
