// Package supervisor controls the scheduler daemon as an OS process
// and aggregates its health for the management API. The daemon and the
// supervisor share no memory; they communicate only through the PID
// file, the heartbeat file, the log file, and the database.
package supervisor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PIDFile tracks the daemon's process id on disk.
type PIDFile struct {
	path string
}

// NewPIDFile creates a PID file handle at path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the PID file location.
func (p *PIDFile) Path() string {
	return p.path
}

// Write records the given pid.
func (p *PIDFile) Write(pid int) error {
	data := strconv.Itoa(pid) + "\n"
	if err := os.WriteFile(p.path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Read returns the recorded pid, or 0 when the file does not exist.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %q: %w", strings.TrimSpace(string(data)), err)
	}
	return pid, nil
}

// Remove deletes the PID file. Missing file is not an error.
func (p *PIDFile) Remove() {
	_ = os.Remove(p.path)
}
