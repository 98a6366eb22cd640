package litestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/db"
)

const notificationColumns = `id, type, message, status, data,
	recipient_user_id, recipient_client_id, delivered_at, created_at, updated_at`

func recipientColumn(r db.Recipient) string {
	if r.Kind == db.RecipientClient {
		return "recipient_client_id"
	}
	return "recipient_user_id"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*db.Notification, error) {
	var (
		n           db.Notification
		data        string
		deliveredAt nullTime
		createdAt   nullTime
		updatedAt   nullTime
	)

	err := row.Scan(
		&n.ID, &n.Type, &n.Message, &n.Status, &data,
		&n.RecipientUserID, &n.RecipientClientID,
		&deliveredAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Data = json.RawMessage(data)
	n.DeliveredAt = deliveredAt.ptr()
	n.CreatedAt = createdAt.Time
	n.UpdatedAt = updatedAt.Time
	return &n, nil
}

// CreateNotification inserts a new notification record.
func (s *Store) CreateNotification(ctx context.Context, n *db.Notification) error {
	now := time.Now().UTC()
	n.CreatedAt, n.UpdatedAt = now, now
	if len(n.Data) == 0 {
		n.Data = json.RawMessage("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, type, message, status, data,
			recipient_user_id, recipient_client_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID.String(), string(n.Type), n.Message, string(n.Status), string(n.Data),
		n.RecipientUserID, n.RecipientClientID, formatTime(now), formatTime(now),
	)
	if err != nil {
		s.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
		)
		return fmt.Errorf("creating notification: %w", err)
	}

	return nil
}

// GetNotification retrieves a notification by ID.
func (s *Store) GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE id = ?", id.String())

	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification %s: %w", id, err)
	}
	return n, nil
}

// ListByRecipient returns the recipient's feed, newest first.
func (s *Store) ListByRecipient(ctx context.Context, recipient db.Recipient, filter db.ListFilter) ([]*db.Notification, error) {
	query := "SELECT " + notificationColumns + " FROM notifications WHERE " + recipientColumn(recipient) + " = ?"
	args := []any{recipient.ID}

	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var out []*db.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning notification row: %w", err)
		}
		out = append(out, n)
	}

	return out, rows.Err()
}

// CountByRecipient counts the recipient's notifications, optionally by status.
func (s *Store) CountByRecipient(ctx context.Context, recipient db.Recipient, status *db.Status) (int, error) {
	query := "SELECT COUNT(*) FROM notifications WHERE " + recipientColumn(recipient) + " = ?"
	args := []any{recipient.ID}
	if status != nil {
		query += " AND status = ?"
		args = append(args, string(*status))
	}

	var count int
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("counting notifications: %w", err)
	}
	return count, nil
}

// TransitionStatus is a compare-and-set on status. A lost race returns the
// current row with changed=false. Pairs outside the transition table are
// rejected with db.ErrInvalidTransition.
func (s *Store) TransitionStatus(ctx context.Context, id uuid.UUID, from, to db.Status) (*db.Notification, bool, error) {
	if !from.CanTransitionTo(to) {
		return nil, false, fmt.Errorf("%w: %s -> %s", db.ErrInvalidTransition, from, to)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), formatTime(time.Now()), id.String(), string(from),
	)
	if err != nil {
		return nil, false, fmt.Errorf("transitioning notification %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("transitioning notification %s: %w", id, err)
	}

	n, err := s.GetNotification(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return n, affected > 0, nil
}

// MarkAllRead flips all unread notifications of the recipient in one statement.
func (s *Store) MarkAllRead(ctx context.Context, recipient db.Recipient) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET status = ?, updated_at = ? WHERE "+recipientColumn(recipient)+" = ? AND status = ?",
		string(db.StatusRead), formatTime(time.Now()), recipient.ID, string(db.StatusUnread),
	)
	if err != nil {
		return 0, fmt.Errorf("marking notifications read: %w", err)
	}
	return result.RowsAffected()
}

// RecordDelivery stamps delivered_at without touching updated_at.
func (s *Store) RecordDelivery(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET delivered_at = ? WHERE id = ?", formatTime(at), id.String())
	if err != nil {
		return fmt.Errorf("recording delivery for %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %s: %w", id, db.ErrNotFound)
	}
	return nil
}
