package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UpsertPushSubscription stores a subscription keyed by endpoint. A browser
// that re-subscribes (or moves to another user) overwrites the previous row.
func (r *Repository) UpsertPushSubscription(ctx context.Context, sub *PushSubscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}

	query := `
		INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh, auth, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (endpoint) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			p256dh = EXCLUDED.p256dh,
			auth = EXCLUDED.auth,
			user_agent = EXCLUDED.user_agent,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		sub.ID, sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth, sub.UserAgent,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert push subscription: %w", err)
	}

	r.logger.Info("push subscription stored",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("user_id", sub.UserID),
	)
	return nil
}

// ListPushSubscriptions returns every subscription of a user.
func (r *Repository) ListPushSubscriptions(ctx context.Context, userID string) ([]*PushSubscription, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, user_id, endpoint, p256dh, auth, user_agent, created_at, updated_at
		FROM push_subscriptions
		WHERE user_id = $1
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("query push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*PushSubscription
	for rows.Next() {
		var sub PushSubscription
		if err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth,
			&sub.UserAgent, &sub.CreatedAt, &sub.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, &sub)
	}

	return subs, rows.Err()
}

// DeletePushSubscription removes a subscription the push service reported gone.
func (r *Repository) DeletePushSubscription(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Pool().Exec(ctx, `DELETE FROM push_subscriptions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

// DeletePushSubscriptionByEndpoint handles an explicit unsubscribe.
func (r *Repository) DeletePushSubscriptionByEndpoint(ctx context.Context, userID, endpoint string) error {
	result, err := r.db.Pool().Exec(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`, userID, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("push subscription: %w", ErrNotFound)
	}
	return nil
}
