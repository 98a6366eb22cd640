package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/db"
	"github.com/lalithlochan/taskbell/internal/metrics"
)

// StatusView is the response of a single status change.
type StatusView struct {
	ID     uuid.UUID `json:"id"`
	Status db.Status `json:"status"`
}

// Feed is one page of a recipient's in-app feed.
type Feed struct {
	Notifications []*db.Notification `json:"notifications"`
	Total         int                `json:"total"`
	UnreadCount   int                `json:"unread_count"`
	Limit         int                `json:"limit"`
	Offset        int                `json:"offset"`
}

// ReadState moves notifications along unread -> read -> archived. Every
// write is a conditional update, so concurrent callers cannot regress a
// status.
type ReadState struct {
	store  Store
	logger *zap.Logger
}

func NewReadState(store Store, logger *zap.Logger) *ReadState {
	return &ReadState{store: store, logger: logger}
}

// Get returns a notification by id.
func (r *ReadState) Get(ctx context.Context, id uuid.UUID) (*db.Notification, error) {
	return r.store.GetNotification(ctx, id)
}

// MarkAsRead is idempotent: a notification that is no longer unread is
// returned as is without a write.
func (r *ReadState) MarkAsRead(ctx context.Context, id uuid.UUID) (*StatusView, error) {
	current, err := r.store.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != db.StatusUnread {
		return &StatusView{ID: current.ID, Status: current.Status}, nil
	}

	updated, changed, err := r.store.TransitionStatus(ctx, id, db.StatusUnread, db.StatusRead)
	if err != nil {
		return nil, fmt.Errorf("marking %s read: %w", id, err)
	}
	if changed {
		metrics.RecordReadTransitions(string(db.StatusRead), 1)
	}
	// A lost race returns the winner's state.
	return &StatusView{ID: updated.ID, Status: updated.Status}, nil
}

// Archive moves a read notification to archived. Archiving twice is a
// no-op; archiving an unread notification is ErrInvalidTransition.
func (r *ReadState) Archive(ctx context.Context, id uuid.UUID) (*StatusView, error) {
	current, err := r.store.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == db.StatusArchived {
		return &StatusView{ID: current.ID, Status: current.Status}, nil
	}
	if !current.Status.CanTransitionTo(db.StatusArchived) {
		return nil, fmt.Errorf("%w: %s -> %s", db.ErrInvalidTransition, current.Status, db.StatusArchived)
	}

	updated, changed, err := r.store.TransitionStatus(ctx, id, current.Status, db.StatusArchived)
	if err != nil {
		return nil, fmt.Errorf("archiving %s: %w", id, err)
	}
	if changed {
		metrics.RecordReadTransitions(string(db.StatusArchived), 1)
	}
	return &StatusView{ID: updated.ID, Status: updated.Status}, nil
}

// MarkAllAsRead flips every unread notification of recipient in one
// statement and returns how many changed.
func (r *ReadState) MarkAllAsRead(ctx context.Context, recipient db.Recipient) (int64, error) {
	if err := recipient.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	updated, err := r.store.MarkAllRead(ctx, recipient)
	if err != nil {
		return 0, fmt.Errorf("marking all read for %s: %w", recipient.Key(), err)
	}

	metrics.RecordReadTransitions(string(db.StatusRead), int(updated))
	r.logger.Debug("marked all notifications read",
		zap.String("recipient", recipient.Key()),
		zap.Int64("updated", updated),
	)
	return updated, nil
}

// UnreadCount is always computed from the store.
func (r *ReadState) UnreadCount(ctx context.Context, recipient db.Recipient) (int, error) {
	if err := recipient.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	unread := db.StatusUnread
	return r.store.CountByRecipient(ctx, recipient, &unread)
}

const (
	DefaultFeedLimit = 20
	MaxFeedLimit     = 100
)

// Feed returns a page of the recipient's notifications, newest first.
func (r *ReadState) Feed(ctx context.Context, recipient db.Recipient, filter db.ListFilter) (*Feed, error) {
	if err := recipient.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, *filter.Status)
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultFeedLimit
	}
	if filter.Limit > MaxFeedLimit {
		filter.Limit = MaxFeedLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	notifications, err := r.store.ListByRecipient(ctx, recipient, filter)
	if err != nil {
		return nil, fmt.Errorf("listing feed: %w", err)
	}
	total, err := r.store.CountByRecipient(ctx, recipient, filter.Status)
	if err != nil {
		return nil, fmt.Errorf("counting feed: %w", err)
	}
	unread, err := r.UnreadCount(ctx, recipient)
	if err != nil {
		return nil, fmt.Errorf("counting unread: %w", err)
	}

	if notifications == nil {
		notifications = []*db.Notification{}
	}
	return &Feed{
		Notifications: notifications,
		Total:         total,
		UnreadCount:   unread,
		Limit:         filter.Limit,
		Offset:        filter.Offset,
	}, nil
}
