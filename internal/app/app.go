// Package app assembles the store, delivery channels and services shared by
// the gateway and the scanner command.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/api"
	"github.com/lalithlochan/taskbell/internal/channel"
	"github.com/lalithlochan/taskbell/internal/circuitbreaker"
	"github.com/lalithlochan/taskbell/internal/config"
	"github.com/lalithlochan/taskbell/internal/db"
	"github.com/lalithlochan/taskbell/internal/kafka"
	"github.com/lalithlochan/taskbell/internal/litestore"
	"github.com/lalithlochan/taskbell/internal/metrics"
	"github.com/lalithlochan/taskbell/internal/notify"
	"github.com/lalithlochan/taskbell/internal/realtime"
	"github.com/lalithlochan/taskbell/internal/redis"
	"github.com/lalithlochan/taskbell/internal/scanner"
	"github.com/lalithlochan/taskbell/internal/ses"
	"github.com/lalithlochan/taskbell/internal/sns"
	"github.com/lalithlochan/taskbell/internal/sqs"
)

// Store is everything the services need from persistence. Both the
// Postgres repository and the SQLite store implement it.
type Store interface {
	notify.Store
	channel.SubscriptionStore
	channel.ContactDirectory
	api.SubscriptionStore
	scanner.TaskSource
	scanner.RoleDirectory
}

// App holds the wired services. Redis, Sink and DB may be nil.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    Store
	DB       *db.DB
	Redis    *redis.Client
	Bridge   *realtime.Bridge
	Breakers *circuitbreaker.Registry

	Notifications *notify.Service
	ReadState     *notify.ReadState
	Scanner       *scanner.Scanner
	Sink          scanner.Sink

	closers []func()
}

// New connects every backend named by cfg. Optional backends that fail to
// come up are logged and left out.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Breakers: circuitbreaker.NewRegistry(),
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency, rate limiting and realtime relay disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		a.Redis = redisClient
		a.onClose(func() { _ = redisClient.Close() })
	}

	a.Bridge = realtime.NewBridge(realtime.NewHub(logger), a.Redis, cfg.InstanceID, logger)

	channels, err := a.channels(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Notifications = notify.NewService(a.Store, channels, notify.Config{
		DeliveryTimeout: cfg.DeliveryTimeout,
	}, logger)
	a.ReadState = notify.NewReadState(a.Store, logger)

	a.Scanner = scanner.New(a.Store, a.Store, a.Notifications, scanner.Config{
		BatchSize:        cfg.ScanBatchSize,
		SupervisorRole:   cfg.ScanSupervisorRole,
		ExcludedStatuses: cfg.ScanExcludedStatuses,
		Concurrency:      cfg.ScanConcurrency,
		TaskResource:     cfg.TaskResource,
		RoleLookup:       scanner.RoleLookup(cfg.ScanRoleLookup),
	}, logger)

	if err := a.openSink(ctx); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	if cfg.DBDriver == "sqlite" {
		store, err := litestore.Open(cfg.SQLitePath, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to open sqlite store: %w", err)
		}
		a.Store = store
		a.onClose(func() { _ = store.Close() })
		return nil
	}

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	a.Logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	a.DB = database
	a.Store = db.NewRepository(database, a.Logger)
	a.onClose(database.Close)
	return nil
}

// channels builds the delivery channels. Every external channel sits
// behind its own circuit breaker.
func (a *App) channels(ctx context.Context) ([]channel.Channel, error) {
	cfg := a.Config
	channels := []channel.Channel{channel.NewFeed()}

	channels = append(channels, a.protect(channel.NewRealtime(a.Bridge, a.Logger)))

	if cfg.PushEnabled() {
		sender := channel.NewWebPushSender(channel.WebPushConfig{
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
			Subscriber: cfg.VAPIDSubscriber,
			TTL:        cfg.PushTTL,
		}, &http.Client{Timeout: cfg.DeliveryTimeout})
		channels = append(channels, a.protect(channel.NewPush(a.Store, sender, a.Logger)))
	}

	if cfg.SNSTopicARN != "" {
		publisher, err := sns.NewPublisher(ctx, sns.Config{
			TopicARN: cfg.SNSTopicARN,
			Region:   cfg.SNSRegion,
			Endpoint: cfg.AWSEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SNS publisher: %w", err)
		}
		channels = append(channels, a.protect(channel.NewTopic(publisher, a.Logger)))
	}

	if cfg.SESFromEmail != "" && len(cfg.EmailTypes) > 0 {
		sender, err := ses.NewSender(ctx, ses.Config{
			Region:    cfg.AWSRegion,
			Endpoint:  cfg.AWSEndpoint,
			FromEmail: cfg.SESFromEmail,
		}, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES email sender: %w", err)
		}
		channels = append(channels, a.protect(channel.NewEmail(sender, a.Store, cfg.EmailTypes, a.Logger)))
	}

	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name())
	}
	a.Logger.Info("delivery channels configured", zap.Strings("channels", names))

	return channels, nil
}

func (a *App) protect(ch channel.Channel) channel.Channel {
	cb := circuitbreaker.New(circuitbreaker.DefaultConfig(ch.Name()), a.Logger)
	a.Breakers.Add(cb)
	return circuitbreaker.Protect(ch, cb, a.Logger)
}

func (a *App) openSink(ctx context.Context) error {
	cfg := a.Config
	switch cfg.ScanEventsSink {
	case "sqs":
		producer, err := sqs.NewProducer(ctx, sqs.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
			Endpoint: cfg.AWSEndpoint,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create SQS producer: %w", err)
		}
		a.Sink = producer
		a.onClose(func() { _ = producer.Close() })
	case "kafka":
		writer, err := kafka.NewWriter(kafka.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaScanTopic,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create kafka writer: %w", err)
		}
		a.Sink = writer
		a.onClose(func() { _ = writer.Close() })
	}
	return nil
}

// ReportDBConnections publishes pool usage until ctx is done.
func (a *App) ReportDBConnections(ctx context.Context, every time.Duration) {
	if a.DB == nil {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetDBConnections(a.DB.AcquiredConns())
		}
	}
}

// Ping reports whether the required backends answer.
func (a *App) Ping(ctx context.Context) error {
	var errs []error
	if a.DB != nil {
		if err := a.DB.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases backends in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
