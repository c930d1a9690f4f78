package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrMessageNotFound is returned when a message id does not exist.
var ErrMessageNotFound = errors.New("message not found")

// MessageRepository handles persistence of messages. It is the only
// writer of message status transitions.
type MessageRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewMessageRepository creates a message repository.
func NewMessageRepository(db *DB, logger *zap.Logger) *MessageRepository {
	return &MessageRepository{db: db, logger: logger}
}

const messageColumns = `
	id, user_id, title, content, status, scheduled_at, sent_at,
	channel_ids, channel_type, recipients, created_at, updated_at
`

// Create inserts a new message. Status is derived from the scheduling
// intent: a future scheduled_at means "scheduled", otherwise "pending"
// for immediate dispatch.
func (r *MessageRepository) Create(ctx context.Context, msg *Message) error {
	if msg.ScheduledAt != nil {
		msg.Status = StatusScheduled
	} else {
		msg.Status = StatusPending
	}

	recipients, err := json.Marshal(msg.Recipients)
	if err != nil {
		return fmt.Errorf("marshal recipients: %w", err)
	}

	query := `
		INSERT INTO messages (
			id, user_id, title, content, status, scheduled_at,
			channel_ids, channel_type, recipients
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err = r.db.Pool().QueryRow(ctx, query,
		msg.ID, msg.UserID, msg.Title, msg.Content, msg.Status,
		msg.ScheduledAt, channelIDStrings(msg.ChannelIDs), nullableType(msg.ChannelType), recipients,
	).Scan(&msg.CreatedAt, &msg.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create message",
			zap.Error(err),
			zap.String("message_id", msg.ID.String()),
		)
		return fmt.Errorf("insert message: %w", err)
	}

	r.logger.Info("message created",
		zap.String("message_id", msg.ID.String()),
		zap.String("status", string(msg.Status)),
	)
	return nil
}

// Get retrieves a message by id.
func (r *MessageRepository) Get(ctx context.Context, id uuid.UUID) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	msg, err := scanMessage(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// ListByUser retrieves a user's messages, newest first.
func (r *MessageRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Pool().Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// Due retrieves scheduled messages whose scheduled_at has passed.
func (r *MessageRepository) Due(ctx context.Context, now time.Time, limit int) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at ASC
		LIMIT $3
	`
	rows, err := r.db.Pool().Query(ctx, query, StatusScheduled, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// CountDue returns the backlog: due messages not yet claimed.
func (r *MessageRepository) CountDue(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE status = $1 AND scheduled_at <= $2`,
		StatusScheduled, now,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count due messages: %w", err)
	}
	return n, nil
}

// Claim atomically transitions one message from its current claimable
// status (scheduled or pending) to sending. It is the cross-process
// mutual-exclusion primitive: when two daemons race on the same row,
// exactly one sees claimed=true and the other a silent no-op.
func (r *MessageRepository) Claim(ctx context.Context, id uuid.UUID, from MessageStatus) (bool, error) {
	if !ValidTransition(from, StatusSending) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, StatusSending)
	}

	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE messages SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		StatusSending, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("claim message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Finalize writes a terminal status and sent_at, guarded so a message
// can only be finalized out of sending and never leaves a terminal state.
func (r *MessageRepository) Finalize(ctx context.Context, id uuid.UUID, status MessageStatus, sentAt time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("finalize requires a terminal status, got %s", status)
	}

	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE messages SET status = $1, sent_at = $2, updated_at = NOW() WHERE id = $3 AND status = $4`,
		status, sentAt, id, StatusSending,
	)
	if err != nil {
		return fmt.Errorf("finalize message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s not in %s state", id, StatusSending)
	}
	return nil
}

// ReclaimStuck returns messages stuck in sending longer than the grace
// period back to scheduled so a later pass can retry them. Routine
// crash recovery, not an error path.
func (r *MessageRepository) ReclaimStuck(ctx context.Context, grace time.Duration) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE messages
		 SET status = $1, updated_at = NOW()
		 WHERE status = $2 AND updated_at < NOW() - $3::interval`,
		StatusScheduled, StatusSending, fmt.Sprintf("%d seconds", int(grace.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stuck messages: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		r.logger.Warn("reclaimed messages stuck in sending",
			zap.Int64("count", n),
			zap.Duration("grace", grace),
		)
		return n, nil
	}
	return 0, nil
}

// Delete removes a message; delivery results cascade at the schema level.
func (r *MessageRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	r.logger.Info("message deleted", zap.String("message_id", id.String()))
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		msg         Message
		channelIDs  []string
		channelType *string
		recipients  []byte
	)
	err := row.Scan(
		&msg.ID, &msg.UserID, &msg.Title, &msg.Content, &msg.Status,
		&msg.ScheduledAt, &msg.SentAt, &channelIDs, &channelType,
		&recipients, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, s := range channelIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse channel id %q: %w", s, err)
		}
		msg.ChannelIDs = append(msg.ChannelIDs, id)
	}
	if channelType != nil {
		msg.ChannelType = ChannelType(*channelType)
	}
	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &msg.Recipients); err != nil {
			return nil, fmt.Errorf("unmarshal recipients: %w", err)
		}
	}
	return &msg, nil
}

func collectMessages(rows pgx.Rows) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return messages, nil
}

func channelIDStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func nullableType(t ChannelType) *string {
	if t == "" {
		return nil
	}
	s := string(t)
	return &s
}
