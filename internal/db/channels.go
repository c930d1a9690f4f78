package db

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrChannelNotFound is returned when a channel id does not exist.
var ErrChannelNotFound = errors.New("channel not found")

// ChannelRepository handles persistence of outbound channels.
type ChannelRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewChannelRepository creates a channel repository.
func NewChannelRepository(db *DB, logger *zap.Logger) *ChannelRepository {
	return &ChannelRepository{db: db, logger: logger}
}

const channelColumns = `
	id, user_id, type, name, enabled, config, webhook_key, created_at, updated_at
`

// Create inserts a new channel. LINE channels are issued a webhook key
// at creation; the key never changes afterwards.
func (r *ChannelRepository) Create(ctx context.Context, ch *Channel) error {
	if err := ch.Validate(); err != nil {
		return err
	}
	if ch.Type == ChannelLine && ch.WebhookKey == "" {
		key, err := newWebhookKey()
		if err != nil {
			return err
		}
		ch.WebhookKey = key
	}

	config, err := json.Marshal(ch.Config)
	if err != nil {
		return fmt.Errorf("marshal channel config: %w", err)
	}

	query := `
		INSERT INTO channels (id, user_id, type, name, enabled, config, webhook_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err = r.db.Pool().QueryRow(ctx, query,
		ch.ID, ch.UserID, ch.Type, ch.Name, ch.Enabled, config, nullableString(ch.WebhookKey),
	).Scan(&ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create channel",
			zap.Error(err),
			zap.String("channel_id", ch.ID.String()),
		)
		return fmt.Errorf("insert channel: %w", err)
	}

	r.logger.Info("channel created",
		zap.String("channel_id", ch.ID.String()),
		zap.String("type", string(ch.Type)),
		zap.String("name", ch.Name),
	)
	return nil
}

// Get retrieves a channel by id.
func (r *ChannelRepository) Get(ctx context.Context, id uuid.UUID) (*Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE id = $1`

	ch, err := scanChannel(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query channel: %w", err)
	}
	return ch, nil
}

// ListByUser retrieves a user's channels.
func (r *ChannelRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	return collectChannels(rows)
}

// SetEnabled flips the enabled flag. Disabled channels are never
// selected by the dispatcher even when explicitly targeted.
func (r *ChannelRepository) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE channels SET enabled = $1, updated_at = NOW() WHERE id = $2`, enabled, id)
	if err != nil {
		return fmt.Errorf("update channel enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// Delete removes a channel. Historical delivery results keep their
// cached channel name/type and are untouched.
func (r *ChannelRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChannelNotFound
	}
	r.logger.Info("channel deleted", zap.String("channel_id", id.String()))
	return nil
}

// ResolveTargets expands a message's target selection into concrete
// enabled channels owned by the message's user: the union of the
// explicit id list and the type filter, deduplicated. The selection
// itself happens in selectTargets over the user's channel rows.
func (r *ChannelRepository) ResolveTargets(ctx context.Context, msg *Message) ([]*Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE user_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Pool().Query(ctx, query, msg.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve target channels: %w", err)
	}
	defer rows.Close()

	channels, err := collectChannels(rows)
	if err != nil {
		return nil, err
	}
	return selectTargets(msg, channels), nil
}

// selectTargets filters a user's channels down to the message's
// targets. Each channel is evaluated once, so a channel named by both
// the id list and the type filter appears once in the output.
func selectTargets(msg *Message, channels []*Channel) []*Channel {
	var out []*Channel
	for _, ch := range channels {
		if targetsChannel(msg, ch) {
			out = append(out, ch)
		}
	}
	return out
}

// targetsChannel reports whether the message's target selection names
// the channel. Disabled channels never match, even when listed
// explicitly.
func targetsChannel(msg *Message, ch *Channel) bool {
	if !ch.Enabled || ch.UserID != msg.UserID {
		return false
	}
	for _, id := range msg.ChannelIDs {
		if id == ch.ID {
			return true
		}
	}
	return msg.ChannelType != "" && msg.ChannelType == ch.Type
}

func scanChannel(row rowScanner) (*Channel, error) {
	var (
		ch         Channel
		config     []byte
		webhookKey *string
	)
	err := row.Scan(
		&ch.ID, &ch.UserID, &ch.Type, &ch.Name, &ch.Enabled,
		&config, &webhookKey, &ch.CreatedAt, &ch.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(config, &ch.Config); err != nil {
		return nil, fmt.Errorf("unmarshal channel config: %w", err)
	}
	if webhookKey != nil {
		ch.WebhookKey = *webhookKey
	}
	return &ch, nil
}

func collectChannels(rows pgx.Rows) ([]*Channel, error) {
	var channels []*Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return channels, nil
}

func newWebhookKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate webhook key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
