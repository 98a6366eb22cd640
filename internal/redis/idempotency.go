package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/metrics"
)

const (
	// IdempotencyTTL applies to keys derived by the server.
	IdempotencyTTL = 5 * time.Minute
	// IdempotencyTTLExact applies to client-provided Idempotency-Key headers.
	IdempotencyTTLExact = 24 * time.Hour

	// processingTTL is the lock duration while a request is being processed.
	processingTTL = 5 * time.Minute

	processingMarker = "processing"
)

// ErrDuplicateRequest indicates an idempotency key that is still being processed.
var ErrDuplicateRequest = errors.New("duplicate request: idempotency key already exists")

// IdempotencyResult stores the outcome of an idempotent create.
type IdempotencyResult struct {
	NotificationID string `json:"notification_id"`
	StatusCode     int    `json:"status_code"`
	CreatedAt      int64  `json:"created_at"`
}

// IdempotencyService provides idempotency guarantees using Redis.
// Keys are namespaced by a scope, normally the calling principal.
type IdempotencyService struct {
	client *Client
	logger *zap.Logger
}

// NewIdempotencyService creates a new idempotency service.
func NewIdempotencyService(client *Client, logger *zap.Logger) *IdempotencyService {
	return &IdempotencyService{
		client: client,
		logger: logger,
	}
}

func (s *IdempotencyService) buildKey(scope, idempotencyKey string) string {
	return fmt.Sprintf("idempotency:%s:%s", scope, idempotencyKey)
}

// Check retrieves a cached result for an idempotency key.
// Returns (nil, nil) if the key doesn't exist, or ErrDuplicateRequest if
// the key is currently being processed.
func (s *IdempotencyService) Check(ctx context.Context, scope, idempotencyKey string) (*IdempotencyResult, error) {
	val, err := s.client.rdb.Get(ctx, s.buildKey(scope, idempotencyKey)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	if val == processingMarker {
		return nil, ErrDuplicateRequest
	}

	var result IdempotencyResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		s.logger.Error("failed to unmarshal idempotency result", zap.Error(err))
		return nil, fmt.Errorf("invalid cached result: %w", err)
	}

	metrics.RecordIdempotencyHit()
	s.logger.Debug("idempotency cache hit",
		zap.String("scope", scope),
		zap.String("notification_id", result.NotificationID),
	)

	return &result, nil
}

// Store saves the result of a successfully processed request.
func (s *IdempotencyService) Store(ctx context.Context, scope, idempotencyKey string, result *IdempotencyResult, ttl time.Duration) error {
	if result.CreatedAt == 0 {
		result.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := s.client.rdb.Set(ctx, s.buildKey(scope, idempotencyKey), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

// Reserve acquires an idempotency lock using SET NX.
// Returns true if the lock was acquired.
func (s *IdempotencyService) Reserve(ctx context.Context, scope, idempotencyKey string) (bool, error) {
	set, err := s.client.rdb.SetNX(ctx, s.buildKey(scope, idempotencyKey), processingMarker, processingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	return set, nil
}

// Release drops a reservation after a failed create so the caller can retry
// with the same key.
func (s *IdempotencyService) Release(ctx context.Context, scope, idempotencyKey string) error {
	if err := s.client.rdb.Del(ctx, s.buildKey(scope, idempotencyKey)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// CheckOrReserve returns the cached result if one exists, otherwise
// reserves the key and returns (nil, nil).
func (s *IdempotencyService) CheckOrReserve(ctx context.Context, scope, idempotencyKey string) (*IdempotencyResult, error) {
	result, err := s.Check(ctx, scope, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	reserved, err := s.Reserve(ctx, scope, idempotencyKey)
	if err != nil {
		return nil, err
	}

	if !reserved {
		return nil, ErrDuplicateRequest
	}

	return nil, nil
}
