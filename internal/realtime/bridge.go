package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/redis"
)

const (
	// RelayChannel carries envelopes between gateway instances.
	RelayChannel = "taskbell:realtime:relay"

	// PresenceTTL is how long a presence mark lives without a refresh.
	PresenceTTL = 2 * time.Minute
)

type envelope struct {
	Origin  string          `json:"origin"`
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// Evict asks every other instance to drop its slot for Key.
	Evict bool `json:"evict,omitempty"`
}

// Bridge makes the hub cluster-aware. Presence marks in Redis record which
// instance holds a recipient's connection; events for recipients connected
// elsewhere are relayed over Redis pub/sub. A nil client keeps the bridge
// local to this process.
type Bridge struct {
	hub        *Hub
	rdb        *redis.Client
	instanceID string
	logger     *zap.Logger
}

func NewBridge(hub *Hub, rdb *redis.Client, instanceID string, logger *zap.Logger) *Bridge {
	return &Bridge{
		hub:        hub,
		rdb:        rdb,
		instanceID: instanceID,
		logger:     logger,
	}
}

func (b *Bridge) Hub() *Hub { return b.hub }

// Register opens the local slot for key, claims its presence mark and tells
// the other instances to drop any connection they still hold for key.
func (b *Bridge) Register(ctx context.Context, key string) *Conn {
	c := b.hub.Register(key)
	if b.rdb == nil {
		return c
	}
	if err := b.rdb.Track(ctx, key, b.instanceID, PresenceTTL); err != nil {
		b.logger.Warn("failed to track presence", zap.String("recipient", key), zap.Error(err))
	}
	env, err := json.Marshal(envelope{Origin: b.instanceID, Key: key, Evict: true})
	if err == nil {
		err = b.rdb.Publish(ctx, RelayChannel, env)
	}
	if err != nil {
		b.logger.Warn("failed to announce connection", zap.String("recipient", key), zap.Error(err))
	}
	return c
}

// Unregister frees the local slot and releases the presence mark if this
// connection still held it.
func (b *Bridge) Unregister(ctx context.Context, c *Conn) {
	if !b.hub.Unregister(c) || b.rdb == nil {
		return
	}
	if err := b.rdb.Untrack(ctx, c.Key(), b.instanceID); err != nil {
		b.logger.Warn("failed to clear presence", zap.String("recipient", c.Key()), zap.Error(err))
	}
}

// Broadcast delivers to the instance holding the recipient's presence mark:
// locally when that is this instance, over the relay otherwise. A local
// slot whose mark moved elsewhere is stale and gets dropped. Without Redis,
// or when the mark is missing or unreadable, the local hub is used. It
// returns false when the recipient is not connected anywhere.
func (b *Bridge) Broadcast(ctx context.Context, key string, payload []byte) (bool, error) {
	if b.rdb == nil {
		return b.hub.Broadcast(ctx, key, payload)
	}

	owner, ok, err := b.rdb.Present(ctx, key)
	if err != nil {
		b.logger.Warn("presence lookup failed, delivering locally", zap.String("recipient", key), zap.Error(err))
		return b.hub.Broadcast(ctx, key, payload)
	}
	if !ok || owner == b.instanceID {
		return b.hub.Broadcast(ctx, key, payload)
	}

	if b.hub.Evict(key) {
		b.logger.Debug("dropped stale realtime connection", zap.String("recipient", key), zap.String("owner", owner))
	}

	env, err := json.Marshal(envelope{Origin: b.instanceID, Key: key, Payload: payload})
	if err != nil {
		return false, fmt.Errorf("encoding relay envelope: %w", err)
	}
	if err := b.rdb.Publish(ctx, RelayChannel, env); err != nil {
		return false, err
	}
	return true, nil
}

// Run relays envelopes from other instances into the local hub and keeps
// local presence marks fresh until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	if b.rdb == nil {
		<-ctx.Done()
		return nil
	}

	sub, err := b.rdb.Subscribe(ctx, RelayChannel)
	if err != nil {
		return err
	}
	defer sub.Close()

	b.logger.Info("realtime bridge started",
		zap.String("channel", RelayChannel),
		zap.String("instance_id", b.instanceID),
	)

	refresh := time.NewTicker(PresenceTTL / 2)
	defer refresh.Stop()

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh.C:
			b.refreshPresence(ctx)
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			b.relay(ctx, []byte(msg.Payload))
		}
	}
}

func (b *Bridge) relay(ctx context.Context, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.logger.Warn("dropping malformed relay envelope", zap.Error(err))
		return
	}
	if env.Origin == b.instanceID {
		return
	}
	if env.Evict {
		b.evict(ctx, env)
		return
	}
	if _, err := b.hub.Broadcast(ctx, env.Key, env.Payload); err != nil {
		b.logger.Debug("relay delivery failed", zap.String("recipient", env.Key), zap.Error(err))
	}
}

// evict drops the local slot of a recipient that connected through another
// instance. An announcement overtaken by a newer local claim is ignored.
func (b *Bridge) evict(ctx context.Context, env envelope) {
	owner, ok, err := b.rdb.Present(ctx, env.Key)
	if err != nil {
		b.logger.Warn("presence lookup failed, keeping connection", zap.String("recipient", env.Key), zap.Error(err))
		return
	}
	if ok && owner == b.instanceID {
		return
	}
	if b.hub.Evict(env.Key) {
		b.logger.Debug("recipient reconnected elsewhere", zap.String("recipient", env.Key), zap.String("owner", env.Origin))
	}
}

func (b *Bridge) refreshPresence(ctx context.Context) {
	for _, key := range b.hub.Keys() {
		if err := b.rdb.Track(ctx, key, b.instanceID, PresenceTTL); err != nil {
			b.logger.Warn("failed to refresh presence", zap.String("recipient", key), zap.Error(err))
		}
	}
}
