package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shiomiya/notihub/internal/db"
)

// ChannelRequest is the channel creation body.
type ChannelRequest struct {
	UserID  string           `json:"user_id"`
	Type    string           `json:"type"`
	Name    string           `json:"name"`
	Enabled *bool            `json:"enabled,omitempty"`
	Config  db.ChannelConfig `json:"config"`
}

// CreateChannel handles POST /v1/channels.
func (h *Handler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a UUID")
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing name", "name is required")
		return
	}
	if !db.KnownChannelType(db.ChannelType(req.Type)) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid type", "type must be line or telegram")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	ch := &db.Channel{
		ID:      uuid.New(),
		UserID:  userID,
		Type:    db.ChannelType(req.Type),
		Name:    req.Name,
		Enabled: enabled,
		Config:  req.Config,
	}
	if err := ch.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel config", err.Error())
		return
	}

	if err := h.channels.Create(ctx, ch); err != nil {
		h.logger.Error("failed to create channel", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to create channel", err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, ch)
}

// ListChannels handles GET /v1/channels?user_id=.
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id query parameter must be a UUID")
		return
	}

	channels, err := h.channels.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list channels", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list channels", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"channels": channels,
		"count":    len(channels),
	})
}

// PatchChannel handles PATCH /v1/channels/{id} (enable/disable only).
func (h *Handler) PatchChannel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel id", "id must be a UUID")
		return
	}

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing enabled flag", "body must carry an enabled boolean")
		return
	}

	err = h.channels.SetEnabled(r.Context(), id, *body.Enabled)
	if errors.Is(err, db.ErrChannelNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Channel not found", "")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to update channel", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteChannel handles DELETE /v1/channels/{id}.
func (h *Handler) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel id", "id must be a UUID")
		return
	}

	err = h.channels.Delete(r.Context(), id)
	if errors.Is(err, db.ErrChannelNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Channel not found", "")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to delete channel", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
