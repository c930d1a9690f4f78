package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/shiomiya/notihub/internal/settings"
	"github.com/shiomiya/notihub/internal/supervisor"
)

// Lifecycle is the process-control slice of the supervisor.
type Lifecycle interface {
	Start() (int, error)
	Stop() (int, error)
	Restart() (oldPID, newPID int, err error)
}

// HealthReporter builds the composite daemon health report.
type HealthReporter interface {
	Status(ctx context.Context) supervisor.Report
}

// SettingsStore reads and writes scheduler settings. PutAll applies a
// multi-key update atomically.
type SettingsStore interface {
	Get(ctx context.Context, key string) (int, error)
	PutAll(ctx context.Context, updates map[string]int) error
}

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for the management API handlers.
type Handler struct {
	logger     *zap.Logger
	messages   MessageStore
	results    ResultStore
	channels   ChannelStore
	processor  MessageProcessor
	lifecycle  Lifecycle
	health     HealthReporter
	settings   SettingsStore
	logPath    string
}

// NewHandler creates the API handler.
func NewHandler(
	logger *zap.Logger,
	messages MessageStore,
	results ResultStore,
	channels ChannelStore,
	processor MessageProcessor,
	lifecycle Lifecycle,
	health HealthReporter,
	settingsStore SettingsStore,
	logPath string,
) *Handler {
	return &Handler{
		logger:    logger,
		messages:  messages,
		results:   results,
		channels:  channels,
		processor: processor,
		lifecycle: lifecycle,
		health:    health,
		settings:  settingsStore,
		logPath:   logPath,
	}
}

// GetSchedulerStatus handles GET /v1/scheduler/status.
func (h *Handler) GetSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	report := h.health.Status(r.Context())
	h.writeJSON(w, http.StatusOK, report)
}

// GetSchedulerLogs handles GET /v1/scheduler/logs?limit=N.
func (h *Handler) GetSchedulerLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid limit", "limit must be an integer")
			return
		}
		limit = n
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}

	entries, err := supervisor.TailLogs(h.logPath, limit)
	if err != nil {
		h.logger.Error("failed to tail scheduler log", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to read logs", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"logs":  entries,
		"count": len(entries),
	})
}

// StartScheduler handles POST /v1/scheduler/start.
func (h *Handler) StartScheduler(w http.ResponseWriter, r *http.Request) {
	pid, err := h.lifecycle.Start()
	if errors.Is(err, supervisor.ErrAlreadyRunning) {
		h.writeError(w, http.StatusConflict, "already_running", "Scheduler already running", err.Error())
		return
	}
	if err != nil {
		h.logger.Error("scheduler start failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "start_failed", "Scheduler failed to start", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"pid":        pid,
		"started_at": time.Now().Format(time.RFC3339),
	})
}

// StopScheduler handles POST /v1/scheduler/stop.
func (h *Handler) StopScheduler(w http.ResponseWriter, r *http.Request) {
	pid, err := h.lifecycle.Stop()
	if errors.Is(err, supervisor.ErrNotRunning) {
		h.writeError(w, http.StatusConflict, "not_running", "Scheduler not running", "no pid file present")
		return
	}
	if err != nil {
		h.logger.Error("scheduler stop failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "stop_failed", "Scheduler failed to stop", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"pid":        pid,
		"stopped_at": time.Now().Format(time.RFC3339),
	})
}

// RestartScheduler handles POST /v1/scheduler/restart.
func (h *Handler) RestartScheduler(w http.ResponseWriter, r *http.Request) {
	oldPID, newPID, err := h.lifecycle.Restart()
	if err != nil {
		h.logger.Error("scheduler restart failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "restart_failed", "Scheduler failed to restart", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"old_pid":      oldPID,
		"new_pid":      newPID,
		"restarted_at": time.Now().Format(time.RFC3339),
	})
}

// SchedulerSettingsBody is the settings payload, camelCase per the
// dashboard contract.
type SchedulerSettingsBody struct {
	HeartbeatInterval *int `json:"heartbeatInterval,omitempty"`
	TaskCheckInterval *int `json:"taskCheckInterval,omitempty"`
	HeartbeatTimeout  *int `json:"heartbeatTimeout,omitempty"`
}

// GetSchedulerSettings handles GET /v1/settings/scheduler.
func (h *Handler) GetSchedulerSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := map[string]int{}
	for name, key := range settingKeys() {
		value, err := h.settings.Get(ctx, key)
		if err != nil {
			h.logger.Error("failed to read setting", zap.String("key", key), zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to read settings", err.Error())
			return
		}
		out[name] = value
	}
	h.writeJSON(w, http.StatusOK, out)
}

// PutSchedulerSettings handles PUT /v1/settings/scheduler. All supplied
// values are validated before any is applied; an out-of-range value
// rejects the whole request and leaves stored settings untouched.
func (h *Handler) PutSchedulerSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body SchedulerSettingsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	updates := map[string]int{}
	for name, key := range settingKeys() {
		if v := body.field(name); v != nil {
			updates[key] = *v
		}
	}
	if len(updates) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "No settings supplied", "")
		return
	}

	if err := h.settings.PutAll(ctx, updates); err != nil {
		if errors.Is(err, settings.ErrOutOfRange) {
			h.writeError(w, http.StatusBadRequest, "out_of_range", "Setting out of range", err.Error())
			return
		}
		h.logger.Error("failed to store settings", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to store settings", err.Error())
		return
	}

	// A running daemon keeps its old intervals; restart applies these.
	h.writeJSON(w, http.StatusOK, map[string]any{
		"updated":          len(updates),
		"restart_required": true,
	})
}

func settingKeys() map[string]string {
	return map[string]string{
		"heartbeatInterval": settings.KeyHeartbeatInterval,
		"taskCheckInterval": settings.KeyTaskCheckInterval,
		"heartbeatTimeout":  settings.KeyHeartbeatTimeout,
	}
}

func (b *SchedulerSettingsBody) field(name string) *int {
	switch name {
	case "heartbeatInterval":
		return b.HeartbeatInterval
	case "taskCheckInterval":
		return b.TaskCheckInterval
	case "heartbeatTimeout":
		return b.HeartbeatTimeout
	default:
		return nil
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
