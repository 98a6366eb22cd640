package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/db"
)

// Broadcaster pushes a payload to the live connection of a recipient key.
// It returns false when nobody is connected.
type Broadcaster interface {
	Broadcast(ctx context.Context, key string, payload []byte) (bool, error)
}

// Realtime pushes the created notification to a connected recipient.
// There is no queue: an offline recipient never sees the event.
type Realtime struct {
	hub    Broadcaster
	logger *zap.Logger
}

func NewRealtime(hub Broadcaster, logger *zap.Logger) *Realtime {
	return &Realtime{hub: hub, logger: logger}
}

func (*Realtime) Name() string { return NameRealtime }

func (c *Realtime) Deliver(ctx context.Context, notif *db.Notification) Result {
	payload, err := json.Marshal(notif)
	if err != nil {
		return Fail(NameRealtime, fmt.Errorf("encoding notification: %w", err))
	}

	key := notif.Recipient().Key()
	sent, err := c.hub.Broadcast(ctx, key, payload)
	if err != nil {
		c.logger.Warn("realtime broadcast failed",
			zap.String("notification_id", notif.ID.String()),
			zap.String("recipient", key),
			zap.Error(err),
		)
		return Fail(NameRealtime, err)
	}
	if !sent {
		return Skip(NameRealtime, "recipient not connected")
	}
	return Ok(NameRealtime)
}
