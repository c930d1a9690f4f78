package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shiomiya/notihub/internal/db"
)

// MessageStore is the message persistence slice the API needs.
type MessageStore interface {
	Create(ctx context.Context, msg *db.Message) error
	Get(ctx context.Context, id uuid.UUID) (*db.Message, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*db.Message, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ResultStore reads delivery results for the message detail view.
type ResultStore interface {
	ListByMessage(ctx context.Context, messageID uuid.UUID) ([]*db.DeliveryResult, error)
}

// ChannelStore is the channel persistence slice the API needs.
type ChannelStore interface {
	Create(ctx context.Context, ch *db.Channel) error
	Get(ctx context.Context, id uuid.UUID) (*db.Channel, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*db.Channel, error)
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// MessageProcessor runs the inline send path for immediate messages.
type MessageProcessor interface {
	Process(ctx context.Context, msg *db.Message) error
}

// MessageRequest is the create/schedule request body.
type MessageRequest struct {
	UserID      string              `json:"user_id"`
	Title       string              `json:"title"`
	Content     string              `json:"content"`
	ChannelIDs  []string            `json:"channel_ids,omitempty"`
	ChannelType string              `json:"channel_type,omitempty"`
	Recipients  map[string][]string `json:"recipients,omitempty"`
	ScheduledAt *time.Time          `json:"scheduled_at,omitempty"` // schedule endpoint only
}

func (h *Handler) buildMessage(req *MessageRequest) (*db.Message, string) {
	if req.UserID == "" || req.Content == "" {
		return nil, "user_id and content are required"
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, "user_id must be a UUID"
	}
	if len(req.ChannelIDs) == 0 && req.ChannelType == "" {
		return nil, "at least one of channel_ids or channel_type is required"
	}
	if req.ChannelType != "" && !db.KnownChannelType(db.ChannelType(req.ChannelType)) {
		return nil, "channel_type must be line or telegram"
	}

	msg := &db.Message{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       req.Title,
		Content:     req.Content,
		ChannelType: db.ChannelType(req.ChannelType),
		ScheduledAt: req.ScheduledAt,
	}
	for _, s := range req.ChannelIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, "channel_ids must be UUIDs"
		}
		msg.ChannelIDs = append(msg.ChannelIDs, id)
	}
	if len(req.Recipients) > 0 {
		msg.Recipients = make(map[uuid.UUID][]string, len(req.Recipients))
		for s, targets := range req.Recipients {
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, "recipients keys must be channel UUIDs"
			}
			msg.Recipients[id] = targets
		}
	}
	return msg, ""
}

// CreateMessage handles POST /v1/messages: create and dispatch
// immediately through the inline send path.
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	req.ScheduledAt = nil // immediate path never schedules

	msg, problem := h.buildMessage(&req)
	if problem != "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid message", problem)
		return
	}

	if err := h.messages.Create(ctx, msg); err != nil {
		h.logger.Error("failed to create message", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to create message", err.Error())
		return
	}

	if err := h.processor.Process(ctx, msg); err != nil {
		h.logger.Error("inline dispatch failed",
			zap.String("message_id", msg.ID.String()),
			zap.Error(err),
		)
	}

	// Re-read for the post-dispatch status.
	final, err := h.messages.Get(ctx, msg.ID)
	if err != nil {
		final = msg
	}
	h.writeJSON(w, http.StatusCreated, final)
}

// ScheduleMessage handles POST /v1/messages/schedule: create a message
// for the daemon to dispatch once scheduled_at passes.
func (h *Handler) ScheduleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.ScheduledAt == nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing scheduled_at", "scheduled_at is required for scheduling")
		return
	}

	msg, problem := h.buildMessage(&req)
	if problem != "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid message", problem)
		return
	}

	if err := h.messages.Create(ctx, msg); err != nil {
		h.logger.Error("failed to schedule message", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to schedule message", err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, msg)
}

// ListMessages handles GET /v1/messages?user_id=&limit=&offset=.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id query parameter must be a UUID")
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	messages, err := h.messages.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list messages", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"count":    len(messages),
	})
}

// GetMessage handles GET /v1/messages/{id}, including delivery results.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid message id", "id must be a UUID")
		return
	}

	msg, err := h.messages.Get(ctx, id)
	if errors.Is(err, db.ErrMessageNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Message not found", "")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load message", err.Error())
		return
	}

	results, err := h.results.ListByMessage(ctx, id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load delivery results", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": msg,
		"results": results,
	})
}

// DeleteMessage handles DELETE /v1/messages/{id}.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid message id", "id must be a UUID")
		return
	}

	err = h.messages.Delete(r.Context(), id)
	if errors.Is(err, db.ErrMessageNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Message not found", "")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to delete message", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
