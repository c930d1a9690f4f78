package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shiomiya/notihub/internal/db"
	"github.com/shiomiya/notihub/internal/dispatch"
	"github.com/shiomiya/notihub/internal/metrics"
)

// MessageStore is the slice of the message repository the scheduler
// needs. Satisfied by db.MessageRepository.
type MessageStore interface {
	Due(ctx context.Context, now time.Time, limit int) ([]*db.Message, error)
	CountDue(ctx context.Context, now time.Time) (int, error)
	Claim(ctx context.Context, id uuid.UUID, from db.MessageStatus) (bool, error)
	Finalize(ctx context.Context, id uuid.UUID, status db.MessageStatus, sentAt time.Time) error
	ReclaimStuck(ctx context.Context, grace time.Duration) (int64, error)
}

// ResultStore is the slice of the delivery result repository the
// recorder needs. Satisfied by db.DeliveryResultRepository.
type ResultStore interface {
	Insert(ctx context.Context, res *db.DeliveryResult) error
	ListByMessage(ctx context.Context, messageID uuid.UUID) ([]*db.DeliveryResult, error)
}

// ChannelResolver expands a message's target selection into enabled
// channels. Satisfied by db.ChannelRepository.
type ChannelResolver interface {
	ResolveTargets(ctx context.Context, msg *db.Message) ([]*db.Channel, error)
}

// Recorder is the append-only writer of delivery results and the single
// authority for computing a message's aggregate status.
type Recorder struct {
	messages MessageStore
	results  ResultStore
	logger   *zap.Logger
}

// NewRecorder creates a delivery recorder.
func NewRecorder(messages MessageStore, results ResultStore, logger *zap.Logger) *Recorder {
	return &Recorder{messages: messages, results: results, logger: logger}
}

// Record persists one provider outcome as a delivery result, caching
// the channel's name and type so later channel deletion cannot corrupt
// history. A store failure here is fatal for the message's current
// pass: the caller must stop and leave the message in sending for
// reclamation.
func (r *Recorder) Record(ctx context.Context, msg *db.Message, ch *db.Channel, outcome dispatch.Outcome) error {
	res := &db.DeliveryResult{
		ID:           uuid.New(),
		MessageID:    msg.ID,
		ChannelID:    ch.ID,
		ChannelName:  ch.Name,
		ChannelType:  ch.Type,
		Success:      outcome.Success,
		StatusCode:   outcome.StatusCode,
		ResponseTime: outcome.Duration.Milliseconds(),
		SentAt:       time.Now(),
	}
	if outcome.Error != "" {
		errMsg := outcome.Error
		res.ErrorMessage = &errMsg
	}

	if err := r.results.Insert(ctx, res); err != nil {
		return fmt.Errorf("record delivery result: %w", err)
	}

	metrics.RecordDispatch(string(ch.Type), outcome.Success, outcome.Duration)
	r.logger.Info("delivery result recorded",
		zap.String("message_id", msg.ID.String()),
		zap.String("channel", ch.Name),
		zap.Bool("success", outcome.Success),
		zap.Int("status_code", outcome.StatusCode),
		zap.Int64("response_time_ms", res.ResponseTime),
	)
	return nil
}

// RecordedChannels returns the channel ids that already hold a durable
// result for the message. A reclaimed message resumes from this set,
// so channels delivered before a crash are never contacted twice and
// their first-generation outcome stays authoritative.
func (r *Recorder) RecordedChannels(ctx context.Context, messageID uuid.UUID) (map[uuid.UUID]bool, error) {
	results, err := r.results.ListByMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("load recorded results: %w", err)
	}
	recorded := make(map[uuid.UUID]bool, len(results))
	for _, res := range results {
		recorded[res.ChannelID] = true
	}
	return recorded, nil
}

// RecordUnroutable writes the explanatory synthetic result for a
// message that resolved to zero viable channels, so the failure is
// visible instead of the message silently finalizing with no trace.
func (r *Recorder) RecordUnroutable(ctx context.Context, msg *db.Message, reason string) error {
	res := &db.DeliveryResult{
		ID:           uuid.New(),
		MessageID:    msg.ID,
		ChannelID:    uuid.Nil,
		ChannelName:  "unresolved",
		Success:      false,
		ErrorMessage: &reason,
		SentAt:       time.Now(),
	}
	if err := r.results.Insert(ctx, res); err != nil {
		return fmt.Errorf("record synthetic result: %w", err)
	}
	return nil
}

// Finalize derives the message's aggregate status from its recorded
// results and persists it with sent_at = now. Idempotent over the same
// result set: the derivation is deterministic, and re-finalizing an
// already-terminal message is a no-op error the caller may ignore.
func (r *Recorder) Finalize(ctx context.Context, messageID uuid.UUID) (db.MessageStatus, error) {
	results, err := r.results.ListByMessage(ctx, messageID)
	if err != nil {
		return "", fmt.Errorf("load results for finalize: %w", err)
	}

	status := db.DeriveStatus(results)
	if err := r.messages.Finalize(ctx, messageID, status, time.Now()); err != nil {
		return status, fmt.Errorf("finalize message: %w", err)
	}

	metrics.RecordMessageFinalized(string(status))
	r.logger.Info("message finalized",
		zap.String("message_id", messageID.String()),
		zap.String("status", string(status)),
		zap.Int("results", len(results)),
	)
	return status, nil
}
