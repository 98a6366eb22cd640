// Package notify creates notifications and fans them out to the delivery
// channels, and owns every read-state transition afterwards.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/taskbell/internal/channel"
	"github.com/lalithlochan/taskbell/internal/db"
	"github.com/lalithlochan/taskbell/internal/metrics"
)

// Store is implemented by db.Repository and litestore.Store.
type Store interface {
	CreateNotification(ctx context.Context, notif *db.Notification) error
	GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	ListByRecipient(ctx context.Context, recipient db.Recipient, filter db.ListFilter) ([]*db.Notification, error)
	CountByRecipient(ctx context.Context, recipient db.Recipient, status *db.Status) (int, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to db.Status) (*db.Notification, bool, error)
	MarkAllRead(ctx context.Context, recipient db.Recipient) (int64, error)
	RecordDelivery(ctx context.Context, id uuid.UUID, at time.Time) error
}

type Config struct {
	// DeliveryTimeout bounds every channel call.
	DeliveryTimeout time.Duration
}

// CreateInput is one notification for one recipient.
type CreateInput struct {
	Type      db.NotificationType
	Message   string
	Recipient db.Recipient
	Data      json.RawMessage
}

// Delivery is the result of CreateAndDeliver.
type Delivery struct {
	Notification *db.Notification `json:"notification"`
	Results      []channel.Result `json:"results"`
}

// Outcome is one entry of a CreateEach batch.
type Outcome struct {
	Input    CreateInput
	Delivery *Delivery
	Err      error
}

type Service struct {
	store    Store
	channels []channel.Channel
	cfg      Config
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewService(store Store, channels []channel.Channel, cfg Config, logger *zap.Logger) *Service {
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	return &Service{
		store:    store,
		channels: channels,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("github.com/lalithlochan/taskbell/internal/notify"),
		now:      time.Now,
	}
}

// CreateAndDeliver validates and persists a notification, then hands it to
// every channel. Only validation and persistence errors are returned;
// channel failures end up in Delivery.Results.
func (s *Service) CreateAndDeliver(ctx context.Context, in CreateInput) (*Delivery, error) {
	ctx, span := s.tracer.Start(ctx, "notify.CreateAndDeliver", trace.WithAttributes(
		attribute.String("notification.type", string(in.Type)),
		attribute.String("notification.recipient", in.Recipient.Key()),
	))
	defer span.End()

	notif, err := s.create(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("notification.id", notif.ID.String()))

	results := s.deliver(ctx, notif)
	return &Delivery{Notification: notif, Results: results}, nil
}

// CreateEach runs CreateAndDeliver for every input with at most
// concurrency calls in flight. Each input succeeds or fails on its own;
// outcomes keep the input order.
func (s *Service) CreateEach(ctx context.Context, inputs []CreateInput, concurrency int) []Outcome {
	outcomes := make([]Outcome, len(inputs))
	if concurrency <= 0 {
		concurrency = 1
	}

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, in := range inputs {
		g.Go(func() error {
			d, err := s.CreateAndDeliver(ctx, in)
			outcomes[i] = Outcome{Input: in, Delivery: d, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (s *Service) create(ctx context.Context, in CreateInput) (*db.Notification, error) {
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown notification type %q", ErrValidation, in.Type)
	}
	if err := in.Recipient.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrValidation)
	}
	data, err := ValidatePayload(in.Type, in.Data)
	if err != nil {
		return nil, err
	}

	notif := &db.Notification{
		ID:      uuid.New(),
		Type:    in.Type,
		Message: in.Message,
		Status:  db.StatusUnread,
		Data:    data,
	}
	notif.SetRecipient(in.Recipient)

	if err := s.store.CreateNotification(ctx, notif); err != nil {
		return nil, fmt.Errorf("persisting notification: %w", err)
	}

	metrics.RecordNotificationCreated(string(notif.Type))
	s.logger.Debug("notification created",
		zap.String("notification_id", notif.ID.String()),
		zap.String("type", string(notif.Type)),
		zap.String("recipient", in.Recipient.Key()),
	)
	return notif, nil
}

// deliver runs every channel concurrently on a context that outlives the
// caller, so a client hanging up does not cut deliveries short.
func (s *Service) deliver(ctx context.Context, notif *db.Notification) []channel.Result {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DeliveryTimeout)
	defer cancel()

	results := make([]channel.Result, len(s.channels))
	var g errgroup.Group
	for i, ch := range s.channels {
		g.Go(func() error {
			start := time.Now()
			res := ch.Deliver(dctx, notif)
			if res.Channel == "" {
				res.Channel = ch.Name()
			}
			metrics.RecordDelivery(res.Channel, string(res.Outcome))
			metrics.RecordDeliveryLatency(res.Channel, time.Since(start))
			if res.Outcome == channel.OutcomeFailed {
				s.logger.Warn("channel delivery failed",
					zap.String("notification_id", notif.ID.String()),
					zap.String("channel", res.Channel),
					zap.String("reason", res.Reason),
				)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.Delivered() && res.Channel != channel.NameFeed {
			at := s.now().UTC()
			if err := s.store.RecordDelivery(dctx, notif.ID, at); err != nil {
				s.logger.Warn("failed to record delivery",
					zap.String("notification_id", notif.ID.String()),
					zap.Error(err),
				)
				break
			}
			notif.DeliveredAt = &at
			break
		}
	}

	return results
}
