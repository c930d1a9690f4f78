package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DeliveryResultRepository is the append-only store of per-channel
// delivery outcomes. Rows are inserted once and never updated.
type DeliveryResultRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDeliveryResultRepository creates a delivery result repository.
func NewDeliveryResultRepository(db *DB, logger *zap.Logger) *DeliveryResultRepository {
	return &DeliveryResultRepository{db: db, logger: logger}
}

// Insert writes one delivery result. The (message_id, channel_id)
// unique constraint makes the write idempotent per dispatch attempt:
// a duplicate insert is treated as already-recorded, not an error.
func (r *DeliveryResultRepository) Insert(ctx context.Context, res *DeliveryResult) error {
	query := `
		INSERT INTO delivery_results (
			id, message_id, channel_id, channel_name, channel_type,
			success, status_code, response_time_ms, error_message, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (message_id, channel_id) DO NOTHING
	`
	tag, err := r.db.Pool().Exec(ctx, query,
		res.ID, res.MessageID, res.ChannelID, res.ChannelName, res.ChannelType,
		res.Success, res.StatusCode, res.ResponseTime, res.ErrorMessage, res.SentAt,
	)
	if err != nil {
		r.logger.Error("failed to insert delivery result",
			zap.Error(err),
			zap.String("message_id", res.MessageID.String()),
			zap.String("channel_id", res.ChannelID.String()),
		)
		return fmt.Errorf("insert delivery result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Debug("delivery result already recorded",
			zap.String("message_id", res.MessageID.String()),
			zap.String("channel_id", res.ChannelID.String()),
		)
	}
	return nil
}

// ListByMessage retrieves all results for one message, oldest first.
func (r *DeliveryResultRepository) ListByMessage(ctx context.Context, messageID uuid.UUID) ([]*DeliveryResult, error) {
	query := `
		SELECT id, message_id, channel_id, channel_name, channel_type,
		       success, status_code, response_time_ms, error_message, sent_at
		FROM delivery_results
		WHERE message_id = $1
		ORDER BY sent_at ASC
	`
	rows, err := r.db.Pool().Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("query delivery results: %w", err)
	}
	defer rows.Close()

	var results []*DeliveryResult
	for rows.Next() {
		var res DeliveryResult
		err := rows.Scan(
			&res.ID, &res.MessageID, &res.ChannelID, &res.ChannelName, &res.ChannelType,
			&res.Success, &res.StatusCode, &res.ResponseTime, &res.ErrorMessage, &res.SentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan delivery result: %w", err)
		}
		results = append(results, &res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return results, nil
}
