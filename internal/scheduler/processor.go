package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/shiomiya/notihub/internal/db"
	"github.com/shiomiya/notihub/internal/dispatch"
)

// Processor drives one message through claim, channel resolution,
// per-channel dispatch, result recording, and finalization. It is
// shared by the daemon's task-check pass (deferred messages) and the
// API's inline send path (immediate messages).
type Processor struct {
	messages MessageStore
	channels ChannelResolver
	recorder *Recorder
	sender   dispatch.Sender
	logger   *zap.Logger
}

// NewProcessor creates a message processor.
func NewProcessor(messages MessageStore, channels ChannelResolver, recorder *Recorder, sender dispatch.Sender, logger *zap.Logger) *Processor {
	return &Processor{
		messages: messages,
		channels: channels,
		recorder: recorder,
		sender:   sender,
		logger:   logger,
	}
}

// Process runs the full dispatch flow for one message whose current
// status is claimable (scheduled or pending).
//
// Channels are attempted sequentially; every outcome is durably
// recorded before the next channel is tried, so a crash can lose at
// most the in-flight call and reclamation will retry. A retried pass
// skips channels that already hold a result, resuming at the first
// unrecorded one. Finalize only runs after all channels were
// attempted, never racing a record.
//
// A lost claim race is a silent no-op. A store failure mid-flow leaves
// the message in sending for reclamation and is returned to the caller
// for logging only — the caller must continue with its next message.
func (p *Processor) Process(ctx context.Context, msg *db.Message) error {
	claimed, err := p.messages.Claim(ctx, msg.ID, msg.Status)
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		p.logger.Debug("message already claimed elsewhere",
			zap.String("message_id", msg.ID.String()),
		)
		return nil
	}

	channels, err := p.channels.ResolveTargets(ctx, msg)
	if err != nil {
		return fmt.Errorf("resolve channels: %w", err)
	}

	if len(channels) == 0 {
		reason := "no enabled channels matched the message's target selection"
		p.logger.Warn("message has no viable channels",
			zap.String("message_id", msg.ID.String()),
		)
		if err := p.recorder.RecordUnroutable(ctx, msg, reason); err != nil {
			return err
		}
		if _, err := p.recorder.Finalize(ctx, msg.ID); err != nil {
			return err
		}
		return nil
	}

	recorded, err := p.recorder.RecordedChannels(ctx, msg.ID)
	if err != nil {
		return err
	}

	for _, ch := range channels {
		if recorded[ch.ID] {
			p.logger.Info("channel already delivered in an earlier pass",
				zap.String("message_id", msg.ID.String()),
				zap.String("channel", ch.Name),
			)
			continue
		}
		outcome := p.sender.Send(ctx, msg, ch, msg.Recipients[ch.ID])
		if err := p.recorder.Record(ctx, msg, ch, outcome); err != nil {
			// Leave the message in sending; reclamation retries it.
			return err
		}
	}

	if _, err := p.recorder.Finalize(ctx, msg.ID); err != nil {
		return err
	}
	return nil
}
