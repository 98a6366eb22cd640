// Package scanner finds tasks whose due date has passed and notifies their
// assignee and every supervisor through the notification service. A pass
// runs in its own goroutine and reports progress on a bounded channel.
package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/db"
	"github.com/lalithlochan/taskbell/internal/notify"
)

// Notifier is the only way the scanner creates notifications.
type Notifier interface {
	CreateEach(ctx context.Context, inputs []notify.CreateInput, concurrency int) []notify.Outcome
}

// TaskSource reads overdue candidates from the task domain.
type TaskSource interface {
	CountOverdueCandidates(ctx context.Context, now time.Time, excluded []string) (int, error)
	FindOverdueCandidates(ctx context.Context, now time.Time, excluded []string, offset, limit int) ([]*db.OverdueTask, error)
}

// RoleDirectory resolves users holding a role.
type RoleDirectory interface {
	FindUsersByRole(ctx context.Context, role string) ([]string, error)
}

// RoleLookup decides how often supervisors are resolved during a pass.
type RoleLookup string

const (
	LookupPerPage RoleLookup = "per_page"
	LookupPerPass RoleLookup = "per_pass"
)

type Config struct {
	BatchSize        int
	SupervisorRole   string
	ExcludedStatuses []string
	// Concurrency bounds in-flight notification creations per page.
	Concurrency  int
	TaskResource string
	RoleLookup   RoleLookup
	EventBuffer  int
}

// DefaultExcludedStatuses are terminal or in-review task states.
var DefaultExcludedStatuses = []string{
	"COMPLETED", "OVERDUE", "APPROVED", "IN_REVIEW", "IN_TESTING", "BLOCKED", "ON_HOLD",
}

func DefaultConfig() Config {
	return Config{
		BatchSize:        50,
		SupervisorRole:   "SUPERVISOR",
		ExcludedStatuses: DefaultExcludedStatuses,
		Concurrency:      8,
		TaskResource:     "tasks",
		RoleLookup:       LookupPerPage,
		EventBuffer:      16,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.SupervisorRole == "" {
		c.SupervisorRole = d.SupervisorRole
	}
	if c.ExcludedStatuses == nil {
		c.ExcludedStatuses = d.ExcludedStatuses
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.TaskResource == "" {
		c.TaskResource = d.TaskResource
	}
	if c.RoleLookup != LookupPerPass {
		c.RoleLookup = LookupPerPage
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}

// Pass is a running scan. Events is closed after the terminal event.
type Pass struct {
	ID     string
	Events <-chan Event
}

type Scanner struct {
	tasks    TaskSource
	roles    RoleDirectory
	notifier Notifier
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func New(tasks TaskSource, roles RoleDirectory, notifier Notifier, cfg Config, logger *zap.Logger) *Scanner {
	return &Scanner{
		tasks:    tasks,
		roles:    roles,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
}

// Start launches one pass. The caller must drain Events until it is
// closed. Cancelling ctx stops the pass before the next page.
func (s *Scanner) Start(ctx context.Context) *Pass {
	events := make(chan Event, s.cfg.EventBuffer)
	pass := &Pass{ID: uuid.NewString(), Events: events}

	go func() {
		defer close(events)
		s.run(ctx, pass.ID, events)
	}()

	return pass
}

type tally struct {
	total    int
	tasks    int
	created  int
	failures int
}

func (s *Scanner) run(ctx context.Context, passID string, events chan<- Event) {
	started := s.now()
	now := started.UTC()
	logger := s.logger.With(zap.String("pass_id", passID))
	var t tally

	fail := func(err error) {
		logger.Error("overdue scan failed", zap.Error(err),
			zap.Int("tasks_processed", t.tasks),
			zap.Int("notifications_created", t.created),
		)
		events <- t.event(passID, EventFailed, err.Error(), s.now())
	}

	total, err := s.tasks.CountOverdueCandidates(ctx, now, s.cfg.ExcludedStatuses)
	if err != nil {
		fail(fmt.Errorf("counting overdue candidates: %w", err))
		return
	}
	t.total = total
	logger.Info("overdue scan started", zap.Int("candidates", total), zap.Time("now", now))

	roles := newRoleResolver(passID, s.roles, s.cfg.SupervisorRole, s.cfg.RoleLookup)
	defer roles.discard()

	for page, offset := 0, 0; offset < total; page, offset = page+1, offset+s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			fail(fmt.Errorf("scan cancelled: %w", err))
			return
		}

		tasks, err := s.tasks.FindOverdueCandidates(ctx, now, s.cfg.ExcludedStatuses, offset, s.cfg.BatchSize)
		if err != nil {
			fail(fmt.Errorf("loading page %d: %w", page, err))
			return
		}
		if len(tasks) == 0 {
			break
		}

		supervisors, err := roles.resolve(ctx, page)
		if err != nil {
			fail(fmt.Errorf("resolving %s users: %w", s.cfg.SupervisorRole, err))
			return
		}

		// A page's fan-out runs to completion once started.
		created, failed, err := s.notifyPage(context.WithoutCancel(ctx), tasks, supervisors)
		if err != nil {
			fail(err)
			return
		}
		t.tasks += len(tasks)
		t.created += created
		t.failures += failed

		select {
		case events <- t.event(passID, EventProgress, "", s.now()):
		case <-ctx.Done():
			fail(fmt.Errorf("scan cancelled: %w", ctx.Err()))
			return
		}
	}

	if err := ctx.Err(); err != nil {
		fail(fmt.Errorf("scan cancelled: %w", err))
		return
	}

	logger.Info("overdue scan completed",
		zap.Int("tasks_processed", t.tasks),
		zap.Int("notifications_created", t.created),
		zap.Int("notifications_failed", t.failures),
		zap.Duration("duration", time.Since(started)),
	)
	events <- t.event(passID, EventCompleted, "", s.now())
}

// notifyPage creates one notification for each task's assignee and one per
// supervisor. Each creation stands alone: failures are logged and counted
// but never abort the page.
func (s *Scanner) notifyPage(ctx context.Context, tasks []*db.OverdueTask, supervisors []string) (created, failed int, err error) {
	var inputs []notify.CreateInput
	for _, task := range tasks {
		data, err := notify.EncodePayload(db.TypeTaskModified, s.payload(task))
		if err != nil {
			return 0, 0, fmt.Errorf("building payload for task %s: %w", task.ID, err)
		}

		if task.AssignedToID != nil && *task.AssignedToID != "" {
			inputs = append(inputs, notify.CreateInput{
				Type:      db.TypeTaskModified,
				Message:   fmt.Sprintf("Your task \"%s\" is overdue", task.Title),
				Recipient: db.UserRecipient(*task.AssignedToID),
				Data:      data,
			})
		}
		for _, id := range supervisors {
			inputs = append(inputs, notify.CreateInput{
				Type:      db.TypeTaskModified,
				Message:   fmt.Sprintf("Task \"%s\" is overdue", task.Title),
				Recipient: db.UserRecipient(id),
				Data:      data,
			})
		}
	}

	for _, o := range s.notifier.CreateEach(ctx, inputs, s.cfg.Concurrency) {
		if o.Err != nil {
			failed++
			s.logger.Warn("overdue notification failed",
				zap.String("recipient", o.Input.Recipient.Key()),
				zap.Error(o.Err),
			)
			continue
		}
		created++
	}
	return created, failed, nil
}

func (s *Scanner) payload(task *db.OverdueTask) notify.TaskModifiedData {
	due := task.DueDate.UTC()
	return notify.TaskModifiedData{
		TaskID:    task.ID,
		TaskTitle: task.Title,
		Event:     notify.TaskEventOverdue,
		Status:    task.Status,
		DueDate:   &due,
		Link:      fmt.Sprintf("/%s/%s", s.cfg.TaskResource, task.ID),
		Push: &notify.PushContent{
			Title: "Task overdue",
			Body:  fmt.Sprintf("%s was due %s", task.Title, due.Format("Jan 2")),
		},
	}
}
