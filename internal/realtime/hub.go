// Package realtime keeps one live connection per recipient and pushes new
// notifications to it. Nothing is queued for offline recipients.
package realtime

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/metrics"
)

// SendBuffer is the number of undelivered events a connection may hold
// before it is dropped as too slow.
const SendBuffer = 64

// ErrSlowConsumer is returned by Broadcast when the connection's buffer was
// full and the connection was dropped.
var ErrSlowConsumer = errors.New("realtime connection too slow, dropped")

// Conn is the hub side of one streaming connection.
type Conn struct {
	key       string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(key string) *Conn {
	return &Conn{
		key:  key,
		send: make(chan []byte, SendBuffer),
		done: make(chan struct{}),
	}
}

func (c *Conn) Key() string { return c.key }

// Send yields the payloads to write to the client.
func (c *Conn) Send() <-chan []byte { return c.send }

// Done is closed when the hub dropped or replaced the connection.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub holds the connection slot of every locally connected recipient.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]*Conn),
		logger: logger,
	}
}

// Register opens the slot for key. An existing connection for the same key
// is closed and replaced.
func (h *Hub) Register(key string) *Conn {
	c := newConn(key)

	h.mu.Lock()
	old := h.conns[key]
	h.conns[key] = c
	n := len(h.conns)
	h.mu.Unlock()

	if old != nil {
		old.Close()
		h.logger.Debug("realtime connection replaced", zap.String("recipient", key))
	}
	metrics.SetRealtimeConnections(n)
	return c
}

// Unregister closes c and frees its slot. A connection that has already
// been replaced leaves the newer one alone. It reports whether c still held
// the slot.
func (h *Hub) Unregister(c *Conn) bool {
	if c == nil {
		return false
	}

	h.mu.Lock()
	current := h.conns[c.key] == c
	if current {
		delete(h.conns, c.key)
	}
	n := len(h.conns)
	h.mu.Unlock()

	c.Close()
	metrics.SetRealtimeConnections(n)
	return current
}

// Evict closes and frees the slot of key, if any. It reports whether a
// connection was dropped.
func (h *Hub) Evict(key string) bool {
	h.mu.Lock()
	c := h.conns[key]
	delete(h.conns, key)
	n := len(h.conns)
	h.mu.Unlock()

	if c == nil {
		return false
	}
	c.Close()
	metrics.SetRealtimeConnections(n)
	return true
}

// Broadcast hands payload to the connection of key without blocking. It
// returns false when key has no local connection.
func (h *Hub) Broadcast(_ context.Context, key string, payload []byte) (bool, error) {
	h.mu.RLock()
	c := h.conns[key]
	h.mu.RUnlock()
	if c == nil {
		return false, nil
	}

	select {
	case <-c.done:
		return false, nil
	default:
	}

	select {
	case c.send <- payload:
		return true, nil
	default:
		h.logger.Warn("dropping slow realtime connection", zap.String("recipient", key))
		h.Unregister(c)
		return false, ErrSlowConsumer
	}
}

// Connected reports whether key has a local connection.
func (h *Hub) Connected(key string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[key]
	return ok
}

// Keys returns every locally connected recipient key.
func (h *Hub) Keys() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	keys := make([]string, 0, len(h.conns))
	for k := range h.conns {
		keys = append(keys, k)
	}
	return keys
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll drops every connection. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*Conn)
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	metrics.SetRealtimeConnections(0)
}
