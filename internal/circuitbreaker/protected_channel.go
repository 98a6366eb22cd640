package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/channel"
	"github.com/lalithlochan/taskbell/internal/db"
)

// ProtectedChannel wraps a delivery channel with a CircuitBreaker.
// A failed result counts as a provider failure; delivered and skipped
// results count as success.
type ProtectedChannel struct {
	ch      channel.Channel
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// Protect wraps ch with breaker.
func Protect(ch channel.Channel, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedChannel {
	return &ProtectedChannel{
		ch:      ch,
		breaker: breaker,
		logger:  logger,
	}
}

func (p *ProtectedChannel) Name() string {
	return p.ch.Name()
}

// Deliver fails fast while the circuit is open.
func (p *ProtectedChannel) Deliver(ctx context.Context, notif *db.Notification) channel.Result {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected delivery",
			zap.String("breaker", p.breaker.Name()),
			zap.String("notification_id", notif.ID.String()),
			zap.String("state", p.breaker.GetState().String()),
		)
		return channel.Fail(p.ch.Name(), fmt.Errorf("%w: %s unavailable", ErrCircuitOpen, p.breaker.Name()))
	}

	res := p.ch.Deliver(ctx, notif)
	if res.Outcome == channel.OutcomeFailed {
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.Name()),
			zap.String("reason", res.Reason),
		)
		return res
	}

	p.breaker.RecordSuccess()
	return res
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedChannel) Breaker() *CircuitBreaker {
	return p.breaker
}
