package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRateLimiter(t *testing.T, limit int, window time.Duration) (*RateLimiter, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := &Client{rdb: rdb, logger: zap.NewNop()}

	limiter := NewRateLimiter(client, zap.NewNop(), RateLimitConfig{
		Limit:  limit,
		Window: window,
	})

	return limiter, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t, 5, time.Minute)
	defer cleanup()

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, "test-key")
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if result.Remaining != 4-i {
			t.Errorf("request %d: expected remaining %d, got %d", i, 4-i, result.Remaining)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t, 3, time.Minute)
	defer cleanup()

	ctx := context.Background()

	// Use up the limit
	for i := 0; i < 3; i++ {
		result, _ := limiter.Allow(ctx, "test-key")
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	// Next request should be blocked
	result, err := limiter.Allow(ctx, "test-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("request should be blocked")
	}
	if result.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", result.Remaining)
	}
}

func TestRateLimiter_SeparateKeys(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t, 2, time.Minute)
	defer cleanup()

	ctx := context.Background()

	// Key A uses its limit
	for i := 0; i < 2; i++ {
		limiter.Allow(ctx, "key-a")
	}

	// Key B should still have full limit
	result, _ := limiter.Allow(ctx, "key-b")
	if !result.Allowed {
		t.Fatal("key-b should be allowed")
	}
	if result.Remaining != 1 {
		t.Errorf("expected remaining 1, got %d", result.Remaining)
	}
}

func TestRateLimiter_AllowN(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t, 10, time.Minute)
	defer cleanup()

	ctx := context.Background()

	// Request 5 at once
	result, err := limiter.AllowN(ctx, "test-key", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Fatal("should be allowed")
	}
	if result.Remaining != 5 {
		t.Errorf("expected remaining 5, got %d", result.Remaining)
	}

	// Request 6 more should fail
	result, _ = limiter.AllowN(ctx, "test-key", 6)
	if result.Allowed {
		t.Fatal("should be blocked")
	}
}

func TestRateLimiter_Limit(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t, 42, time.Minute)
	defer cleanup()

	if limiter.Limit() != 42 {
		t.Errorf("expected limit 42, got %d", limiter.Limit())
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	limiter := NewRateLimiter(&Client{rdb: rdb, logger: zap.NewNop()}, zap.NewNop(), RateLimitConfig{
		Limit:  2,
		Window: 50 * time.Millisecond,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if result, err := limiter.Allow(ctx, "principal:user:1"); err != nil || !result.Allowed {
			t.Fatalf("request %d should be allowed: %v", i, err)
		}
	}
	if result, _ := limiter.Allow(ctx, "principal:user:1"); result.Allowed {
		t.Fatal("third request should be blocked")
	}

	// Rejected requests are not recorded and the key expires with the window.
	members, err := mr.ZMembers("ratelimit:principal:user:1")
	if err != nil {
		t.Fatalf("reading window: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("expected 2 recorded requests, got %d", len(members))
	}
	if ttl := mr.TTL("ratelimit:principal:user:1"); ttl <= 0 || ttl > 50*time.Millisecond+time.Second {
		t.Errorf("unexpected ttl %v", ttl)
	}

	time.Sleep(80 * time.Millisecond)

	result, err := limiter.Allow(ctx, "principal:user:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed || result.Remaining != 1 {
		t.Fatalf("expired entries should be trimmed, got %+v", result)
	}
}
