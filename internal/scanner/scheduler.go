package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/metrics"
)

// ErrPassRunning is returned when a pass is requested while one is running.
var ErrPassRunning = errors.New("overdue scan already running")

// Sink receives every scan event, keyed by pass id.
type Sink interface {
	Publish(ctx context.Context, key string, body []byte) error
}

// Consume drains a pass: every event is logged, recorded in metrics and
// forwarded to sink (which may be nil). It returns the terminal event.
// Sink failures are logged and never stop the drain.
func Consume(ctx context.Context, pass *Pass, sink Sink, logger *zap.Logger) Event {
	var (
		last    Event
		created int
	)
	for ev := range pass.Events {
		last = ev

		switch ev.Kind {
		case EventProgress:
			metrics.SetScanProgress(ev.TasksProcessed, ev.TotalCandidates)
			logger.Info("overdue scan progress",
				zap.String("pass_id", ev.PassID),
				zap.String("progress", ev.Progress),
				zap.Int("notifications_created", ev.NotificationsCreated),
			)
		case EventCompleted, EventFailed:
			metrics.SetScanProgress(ev.TasksProcessed, ev.TotalCandidates)
			metrics.RecordScanPass(string(ev.Kind))
		}
		if d := ev.NotificationsCreated - created; d > 0 {
			metrics.RecordScanNotifications(d)
			created = ev.NotificationsCreated
		}

		if sink == nil {
			continue
		}
		body, err := json.Marshal(ev)
		if err != nil {
			logger.Error("failed to encode scan event", zap.Error(err))
			continue
		}
		if err := sink.Publish(ctx, ev.PassID, body); err != nil {
			logger.Warn("failed to publish scan event",
				zap.String("pass_id", ev.PassID),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err),
			)
		}
	}
	return last
}

// Scheduler runs passes on a cron schedule and on demand, never two at
// once.
type Scheduler struct {
	scanner *Scanner
	sink    Sink
	logger  *zap.Logger
	cron    *cron.Cron

	running atomic.Bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(scanner *Scanner, sink Sink, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scanner: scanner,
		sink:    sink,
		logger:  logger,
		cron:    cron.New(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule registers spec (standard five-field cron) and starts the cron
// runner.
func (s *Scheduler) Schedule(spec string) error {
	if _, err := s.cron.AddFunc(spec, func() {
		if _, err := s.Trigger(); err != nil {
			s.logger.Warn("scheduled overdue scan skipped", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("overdue scan scheduled", zap.String("schedule", spec))
	return nil
}

// Trigger starts a pass in the background and returns its id.
func (s *Scheduler) Trigger() (string, error) {
	if !s.running.CompareAndSwap(false, true) {
		return "", ErrPassRunning
	}
	if s.ctx.Err() != nil {
		s.running.Store(false)
		return "", s.ctx.Err()
	}

	pass := s.scanner.Start(s.ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		// The sink outlives cancellation so the terminal event is published.
		Consume(context.WithoutCancel(s.ctx), pass, s.sink, s.logger)
	}()
	return pass.ID, nil
}

func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Stop stops the cron runner, cancels a running pass at its next page
// boundary and waits for it to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	<-s.cron.Stop().Done()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
