// Package dispatch performs provider-specific delivery of messages to
// outbound channels. A sender makes exactly one provider call per
// channel and converts every provider or transport error into a failed
// Outcome; nothing escapes its boundary as an error or panic.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/shiomiya/notihub/internal/db"
)

// Outcome is the structured result of one provider call. It carries
// everything the delivery recorder needs to persist a DeliveryResult.
type Outcome struct {
	Success    bool
	StatusCode int
	Duration   time.Duration
	Response   string // truncated provider response body, for diagnostics
	Error      string // empty on success
}

// Failure builds a failed outcome from an error.
func Failure(err error, code int, elapsed time.Duration) Outcome {
	return Outcome{
		Success:    false,
		StatusCode: code,
		Duration:   elapsed,
		Error:      err.Error(),
	}
}

// Sender is the capability interface implemented per channel type.
// recipients optionally narrows delivery (LINE user ids); an empty
// list means the channel's default audience.
type Sender interface {
	Send(ctx context.Context, msg *db.Message, ch *db.Channel, recipients []string) Outcome
	SupportsType(t db.ChannelType) bool
}

// MultiSender routes a channel to the sender that supports its type.
type MultiSender struct {
	senders []Sender
}

// NewMultiSender creates a router over the given senders.
func NewMultiSender(senders ...Sender) *MultiSender {
	return &MultiSender{senders: senders}
}

// Send routes to the first sender supporting the channel's type. An
// unroutable type is a configuration failure, reported as an outcome.
func (m *MultiSender) Send(ctx context.Context, msg *db.Message, ch *db.Channel, recipients []string) Outcome {
	for _, s := range m.senders {
		if s.SupportsType(ch.Type) {
			return s.Send(ctx, msg, ch, recipients)
		}
	}
	return Failure(fmt.Errorf("no sender for channel type: %s", ch.Type), 0, 0)
}

// SupportsType reports whether any underlying sender handles t.
func (m *MultiSender) SupportsType(t db.ChannelType) bool {
	for _, s := range m.senders {
		if s.SupportsType(t) {
			return true
		}
	}
	return false
}
