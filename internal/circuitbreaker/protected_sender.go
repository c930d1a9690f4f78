package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/shiomiya/notihub/internal/db"
	"github.com/shiomiya/notihub/internal/dispatch"
)

// ProtectedSender decorates a dispatch.Sender with a CircuitBreaker.
// An open circuit is reported as a failed outcome, so from the
// recorder's point of view it is just another transient provider
// failure and the dispatch contract (never error, never panic) holds.
type ProtectedSender struct {
	sender  dispatch.Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender dispatch.Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts the provider call through the circuit breaker.
func (p *ProtectedSender) Send(ctx context.Context, msg *db.Message, ch *db.Channel, recipients []string) dispatch.Outcome {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.Name()),
			zap.String("message_id", msg.ID.String()),
			zap.String("channel_id", ch.ID.String()),
			zap.String("state", p.breaker.GetState().String()),
		)
		return dispatch.Failure(
			fmt.Errorf("%w: %s provider unavailable", ErrCircuitOpen, p.breaker.Name()), 0, 0)
	}

	outcome := p.sender.Send(ctx, msg, ch, recipients)
	if outcome.Success {
		p.breaker.RecordSuccess()
	} else {
		p.breaker.RecordFailure()
	}
	return outcome
}

// SupportsType delegates to the underlying sender.
func (p *ProtectedSender) SupportsType(t db.ChannelType) bool {
	return p.sender.SupportsType(t)
}

// Breaker exposes the underlying breaker for status reporting.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
