package litestore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/taskbell/internal/db"
)

// UpsertPushSubscription stores a subscription keyed by endpoint; the last
// write for an endpoint wins.
func (s *Store) UpsertPushSubscription(ctx context.Context, sub *db.PushSubscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh, auth, user_agent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (endpoint) DO UPDATE SET
			user_id = excluded.user_id,
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			user_agent = excluded.user_agent,
			updated_at = excluded.updated_at`,
		sub.ID.String(), sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth, sub.UserAgent,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("upserting push subscription: %w", err)
	}

	// The row may predate this call; reload the stored id and timestamps.
	stored, err := s.pushSubscriptionByEndpoint(ctx, sub.Endpoint)
	if err != nil {
		return err
	}
	*sub = *stored
	return nil
}

// ListPushSubscriptions returns every subscription of a user.
func (s *Store) ListPushSubscriptions(ctx context.Context, userID string) ([]*db.PushSubscription, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, user_id, endpoint, p256dh, auth, user_agent, created_at, updated_at
		FROM push_subscriptions WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*db.PushSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// DeletePushSubscription removes a subscription by id.
func (s *Store) DeletePushSubscription(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM push_subscriptions WHERE id = ?", id.String()); err != nil {
		return fmt.Errorf("deleting push subscription %s: %w", id, err)
	}
	return nil
}

// DeletePushSubscriptionByEndpoint handles an explicit unsubscribe.
func (s *Store) DeletePushSubscriptionByEndpoint(ctx context.Context, userID, endpoint string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM push_subscriptions WHERE user_id = ? AND endpoint = ?", userID, endpoint)
	if err != nil {
		return fmt.Errorf("deleting push subscription: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("push subscription: %w", db.ErrNotFound)
	}
	return nil
}

func (s *Store) pushSubscriptionByEndpoint(ctx context.Context, endpoint string) (*db.PushSubscription, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, user_id, endpoint, p256dh, auth, user_agent, created_at, updated_at
		FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	return scanSubscription(row)
}

func scanSubscription(row rowScanner) (*db.PushSubscription, error) {
	var (
		sub       db.PushSubscription
		createdAt nullTime
		updatedAt nullTime
	)
	if err := row.Scan(
		&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth,
		&sub.UserAgent, &createdAt, &updatedAt,
	); err != nil {
		return nil, fmt.Errorf("scanning push subscription: %w", err)
	}
	sub.CreatedAt = createdAt.Time
	sub.UpdatedAt = updatedAt.Time
	return &sub, nil
}
