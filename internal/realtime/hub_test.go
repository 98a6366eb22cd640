package realtime

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestHub_RegisterReplacesOldConnection(t *testing.T) {
	hub := NewHub(zap.NewNop())

	first := hub.Register("user:1")
	second := hub.Register("user:1")

	select {
	case <-first.Done():
	default:
		t.Fatal("replaced connection should be closed")
	}
	if hub.Count() != 1 {
		t.Errorf("expected one slot, got %d", hub.Count())
	}

	// The stale connection going away must not free the new slot.
	if hub.Unregister(first) {
		t.Error("stale connection should not hold the slot")
	}
	if !hub.Connected("user:1") {
		t.Fatal("new connection lost its slot")
	}

	ok, err := hub.Broadcast(context.Background(), "user:1", []byte(`{}`))
	if !ok || err != nil {
		t.Fatalf("broadcast: ok=%v err=%v", ok, err)
	}
	if got := <-second.Send(); string(got) != `{}` {
		t.Errorf("unexpected payload %s", got)
	}
}

func TestHub_BroadcastNotConnected(t *testing.T) {
	hub := NewHub(zap.NewNop())

	ok, err := hub.Broadcast(context.Background(), "client:9", []byte(`{}`))
	if ok || err != nil {
		t.Fatalf("expected nobody home, ok=%v err=%v", ok, err)
	}
}

func TestHub_SlowConsumerIsDropped(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := hub.Register("user:1")

	for i := 0; i < SendBuffer; i++ {
		if ok, err := hub.Broadcast(context.Background(), "user:1", []byte(`{}`)); !ok || err != nil {
			t.Fatalf("broadcast %d: ok=%v err=%v", i, ok, err)
		}
	}

	ok, err := hub.Broadcast(context.Background(), "user:1", []byte(`{}`))
	if ok || !errors.Is(err, ErrSlowConsumer) {
		t.Fatalf("expected ErrSlowConsumer, ok=%v err=%v", ok, err)
	}
	if hub.Connected("user:1") {
		t.Error("slow connection should be dropped")
	}
	select {
	case <-c.Done():
	default:
		t.Error("dropped connection should be closed")
	}
}

func TestHub_CloseAll(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a := hub.Register("user:1")
	b := hub.Register("client:1")

	hub.CloseAll()

	for _, c := range []*Conn{a, b} {
		select {
		case <-c.Done():
		default:
			t.Errorf("%s still open", c.Key())
		}
	}
	if hub.Count() != 0 {
		t.Errorf("expected empty hub, got %d", hub.Count())
	}
}

func TestHub_Evict(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := hub.Register("user:1")

	if !hub.Evict("user:1") {
		t.Fatal("expected a connection to be dropped")
	}
	select {
	case <-conn.Done():
	default:
		t.Fatal("evicted connection should be closed")
	}
	if hub.Connected("user:1") || hub.Evict("user:1") {
		t.Error("slot should be empty after eviction")
	}
	if hub.Unregister(conn) {
		t.Error("evicted connection no longer holds the slot")
	}
}
