package scheduler

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Heartbeat is the daemon's liveness marker: a plain-text file holding
// a single Unix timestamp, overwritten on every beat. Freshness of this
// file, not process-table presence, is the authoritative liveness
// signal — a process can exist but be wedged.
type Heartbeat struct {
	path string
}

// NewHeartbeat creates a heartbeat marker at path.
func NewHeartbeat(path string) *Heartbeat {
	return &Heartbeat{path: path}
}

// Path returns the marker file location.
func (h *Heartbeat) Path() string {
	return h.path
}

// Beat overwrites the marker with the given time.
func (h *Heartbeat) Beat(now time.Time) error {
	data := strconv.FormatInt(now.Unix(), 10) + "\n"
	if err := os.WriteFile(h.path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}

// Read returns the last beat time. A missing file is reported as a
// zero time with no error so callers can treat it as "never beat".
func (h *Heartbeat) Read() (time.Time, error) {
	data, err := os.ReadFile(h.path)
	if os.IsNotExist(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read heartbeat: %w", err)
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse heartbeat %q: %w", strings.TrimSpace(string(data)), err)
	}
	return time.Unix(ts, 0), nil
}

// Age returns how long ago the last beat was. A missing or never-written
// marker reports a very large age.
func (h *Heartbeat) Age(now time.Time) (time.Duration, error) {
	last, err := h.Read()
	if err != nil {
		return 0, err
	}
	if last.IsZero() {
		return time.Duration(1<<62 - 1), nil
	}
	return now.Sub(last), nil
}

// Remove deletes the marker. Used on clean daemon shutdown.
func (h *Heartbeat) Remove() {
	_ = os.Remove(h.path)
}
