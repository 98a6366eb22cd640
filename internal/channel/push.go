package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/db"
)

// ErrSubscriptionGone means the push service no longer knows the endpoint.
var ErrSubscriptionGone = errors.New("push subscription gone")

// SubscriptionStore is the part of the store the push channel needs.
type SubscriptionStore interface {
	ListPushSubscriptions(ctx context.Context, userID string) ([]*db.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, id uuid.UUID) error
}

// PushSender encrypts and sends one payload to one subscription.
type PushSender interface {
	Send(ctx context.Context, sub *db.PushSubscription, payload []byte) error
}

// PushMessage is the JSON the service worker receives.
type PushMessage struct {
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	URL            string     `json:"url,omitempty"`
	Actor          *PushActor `json:"actor,omitempty"`
	NotificationID string     `json:"notification_id"`
	Type           string     `json:"type"`
}

type PushActor struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Push delivers Web Push messages to every subscription of a user.
type Push struct {
	subs   SubscriptionStore
	sender PushSender
	logger *zap.Logger
}

func NewPush(subs SubscriptionStore, sender PushSender, logger *zap.Logger) *Push {
	return &Push{subs: subs, sender: sender, logger: logger}
}

func (*Push) Name() string { return NamePush }

func (c *Push) Deliver(ctx context.Context, notif *db.Notification) Result {
	recipient := notif.Recipient()
	if recipient.Kind != db.RecipientUser {
		return Skip(NamePush, "push targets users only")
	}

	subs, err := c.subs.ListPushSubscriptions(ctx, recipient.ID)
	if err != nil {
		return Fail(NamePush, fmt.Errorf("loading subscriptions: %w", err))
	}
	if len(subs) == 0 {
		return Skip(NamePush, "no subscriptions")
	}

	payload, err := json.Marshal(buildPushMessage(notif))
	if err != nil {
		return Fail(NamePush, fmt.Errorf("encoding push message: %w", err))
	}

	var (
		delivered int
		lastErr   error
	)
	for _, sub := range subs {
		err := c.sender.Send(ctx, sub, payload)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrSubscriptionGone):
			c.logger.Info("removing expired push subscription",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("user_id", sub.UserID),
			)
			if derr := c.subs.DeletePushSubscription(ctx, sub.ID); derr != nil {
				c.logger.Warn("failed to delete push subscription",
					zap.String("subscription_id", sub.ID.String()),
					zap.Error(derr),
				)
			}
		default:
			lastErr = err
			c.logger.Warn("push send failed",
				zap.String("notification_id", notif.ID.String()),
				zap.String("subscription_id", sub.ID.String()),
				zap.Error(err),
			)
		}
	}

	switch {
	case delivered > 0:
		return Ok(NamePush)
	case lastErr != nil:
		return Fail(NamePush, lastErr)
	}
	return Skip(NamePush, "all subscriptions expired")
}

func buildPushMessage(notif *db.Notification) PushMessage {
	v := payloadView(notif)
	msg := PushMessage{
		Title:          v.headline(notif),
		Body:           v.body(notif),
		URL:            v.Link,
		NotificationID: notif.ID.String(),
		Type:           string(notif.Type),
	}
	if v.Actor != nil && v.Actor.Name != "" {
		msg.Actor = &PushActor{ID: v.Actor.ID, Name: v.Actor.Name, AvatarURL: v.Actor.AvatarURL}
	}
	return msg
}

// WebPushConfig holds the VAPID identity of this server.
type WebPushConfig struct {
	PublicKey  string
	PrivateKey string
	Subscriber string
	TTL        int
}

// WebPushSender sends RFC 8291 encrypted messages with VAPID auth.
type WebPushSender struct {
	cfg    WebPushConfig
	client *http.Client
}

func NewWebPushSender(cfg WebPushConfig, client *http.Client) *WebPushSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebPushSender{cfg: cfg, client: client}
}

func (s *WebPushSender) Send(ctx context.Context, sub *db.PushSubscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload,
		&webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{Auth: sub.Auth, P256dh: sub.P256dh},
		},
		&webpush.Options{
			HTTPClient:      s.client,
			Subscriber:      s.cfg.Subscriber,
			VAPIDPublicKey:  s.cfg.PublicKey,
			VAPIDPrivateKey: s.cfg.PrivateKey,
			TTL:             s.cfg.TTL,
		},
	)
	if err != nil {
		return fmt.Errorf("sending web push: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: status %d", ErrSubscriptionGone, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("push service returned status %d", resp.StatusCode)
	}
	return nil
}
