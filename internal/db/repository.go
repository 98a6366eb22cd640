package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles Postgres operations for notifications, push
// subscriptions and the task/user read models.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new notification repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const notificationColumns = `
	id, type, message, status, data,
	recipient_user_id, recipient_client_id,
	delivered_at, created_at, updated_at`

// recipientColumn maps a recipient kind to its column. Kinds are a closed
// set, so the result is safe to splice into SQL.
func recipientColumn(r Recipient) string {
	if r.Kind == RecipientClient {
		return "recipient_client_id"
	}
	return "recipient_user_id"
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var notif Notification
	err := row.Scan(
		&notif.ID,
		&notif.Type,
		&notif.Message,
		&notif.Status,
		&notif.Data,
		&notif.RecipientUserID,
		&notif.RecipientClientID,
		&notif.DeliveredAt,
		&notif.CreatedAt,
		&notif.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &notif, nil
}

// CreateNotification inserts a new notification into the database
func (r *Repository) CreateNotification(ctx context.Context, notif *Notification) error {
	query := `
		INSERT INTO notifications (
			id, type, message, status, data,
			recipient_user_id, recipient_client_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		RETURNING created_at, updated_at
	`

	data := notif.Data
	if len(data) == 0 {
		data = []byte("{}")
	}

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		notif.ID,
		notif.Type,
		notif.Message,
		notif.Status,
		data,
		notif.RecipientUserID,
		notif.RecipientClientID,
	).Scan(&notif.CreatedAt, &notif.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", notif.ID.String()),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	return nil
}

// GetNotification retrieves a notification by ID
func (r *Repository) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	notif, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get notification",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return nil, fmt.Errorf("query notification: %w", err)
	}

	return notif, nil
}

// ListByRecipient returns a recipient's feed, newest first.
func (r *Repository) ListByRecipient(ctx context.Context, recipient Recipient, filter ListFilter) ([]*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE ` + recipientColumn(recipient) + ` = $1
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`

	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	rows, err := r.db.Pool().Query(ctx, query, recipient.ID, status, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, notif)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return notifications, nil
}

// CountByRecipient counts a recipient's notifications, optionally by status.
func (r *Repository) CountByRecipient(ctx context.Context, recipient Recipient, status *Status) (int, error) {
	query := `SELECT COUNT(*) FROM notifications
		WHERE ` + recipientColumn(recipient) + ` = $1
		  AND ($2::text IS NULL OR status = $2)`

	var s *string
	if status != nil {
		v := string(*status)
		s = &v
	}

	var count int
	if err := r.db.Pool().QueryRow(ctx, query, recipient.ID, s).Scan(&count); err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return count, nil
}

// TransitionStatus moves a notification from one status to another only if
// it is still in the expected status. When the row has already moved on the
// current row is returned with changed=false. Pairs outside the transition
// table are rejected with ErrInvalidTransition.
func (r *Repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Notification, bool, error) {
	if !from.CanTransitionTo(to) {
		return nil, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	query := `
		UPDATE notifications
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + notificationColumns

	notif, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id, from, to))
	if err == nil {
		return notif, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("transition notification status: %w", err)
	}

	current, err := r.GetNotification(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// MarkAllRead flips every unread notification of the recipient to read in
// a single statement and returns how many rows changed.
func (r *Repository) MarkAllRead(ctx context.Context, recipient Recipient) (int64, error) {
	query := `
		UPDATE notifications
		SET status = $2, updated_at = NOW()
		WHERE ` + recipientColumn(recipient) + ` = $1 AND status = $3`

	result, err := r.db.Pool().Exec(ctx, query, recipient.ID, StatusRead, StatusUnread)
	if err != nil {
		r.logger.Error("failed to mark notifications read",
			zap.Error(err),
			zap.String("recipient", recipient.Key()),
		)
		return 0, fmt.Errorf("mark all read: %w", err)
	}

	return result.RowsAffected(), nil
}

// RecordDelivery stamps delivered_at. updated_at tracks read-state changes
// only and is left alone.
func (r *Repository) RecordDelivery(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE notifications SET delivered_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}

	return nil
}
