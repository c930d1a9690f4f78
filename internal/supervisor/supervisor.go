package supervisor

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Lifecycle errors surfaced to the management API.
var (
	ErrAlreadyRunning = errors.New("scheduler daemon already running")
	ErrNotRunning     = errors.New("scheduler daemon not running")
	ErrStartTimeout   = errors.New("daemon did not come up within the start wait")
	ErrStopTimeout    = errors.New("daemon did not exit within the stop wait")
)

// Config holds process-control parameters.
type Config struct {
	// DaemonBin is the scheduler daemon executable; DaemonArgs are
	// passed through verbatim.
	DaemonBin  string
	DaemonArgs []string

	// StartWait bounds how long Start polls for the PID file to appear
	// and the process to be confirmed alive. Default 5s.
	StartWait time.Duration

	// StopWait bounds the graceful-termination wait before escalating
	// to SIGKILL. Default 10s.
	StopWait time.Duration
}

// Supervisor starts, stops, and restarts the daemon process, tracked
// through the PID file.
type Supervisor struct {
	cfg     Config
	pidFile *PIDFile
	logger  *zap.Logger
}

// New creates a supervisor.
func New(cfg Config, pidFile *PIDFile, logger *zap.Logger) *Supervisor {
	if cfg.StartWait == 0 {
		cfg.StartWait = 5 * time.Second
	}
	if cfg.StopWait == 0 {
		cfg.StopWait = 10 * time.Second
	}
	return &Supervisor{cfg: cfg, pidFile: pidFile, logger: logger}
}

const pollStep = 100 * time.Millisecond

// Start spawns the daemon detached and waits (bounded) for it to write
// its PID file and be confirmed alive. Refuses when a live process
// already owns the PID file; a stale PID file is cleaned up instead.
// A spawn that misses the wait is killed before the timeout is
// reported, so it cannot linger half-started.
func (s *Supervisor) Start() (int, error) {
	if pid, err := s.pidFile.Read(); err == nil && pid != 0 {
		if ProcessAlive(pid) {
			return pid, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
		}
		s.logger.Warn("removing stale pid file", zap.Int("pid", pid))
		s.pidFile.Remove()
	}

	cmd := exec.Command(s.cfg.DaemonBin, s.cfg.DaemonArgs...)
	// New session detaches the daemon from this process's terminal and
	// signal group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn daemon: %w", err)
	}
	spawned := cmd.Process.Pid
	go func() { _ = cmd.Wait() }() // reap to avoid a zombie

	deadline := time.Now().Add(s.cfg.StartWait)
	for time.Now().Before(deadline) {
		pid, err := s.pidFile.Read()
		if err == nil && pid != 0 && ProcessAlive(pid) {
			s.logger.Info("daemon started", zap.Int("pid", pid))
			return pid, nil
		}
		time.Sleep(pollStep)
	}

	// The spawn is not trusted past the wait: kill it so it cannot
	// come up later and hold the PID file against the next start.
	_ = syscall.Kill(spawned, syscall.SIGKILL)
	if pid, err := s.pidFile.Read(); err == nil && pid == spawned {
		s.pidFile.Remove()
	}

	s.logger.Error("daemon failed to come up",
		zap.Int("spawned_pid", spawned),
		zap.Duration("waited", s.cfg.StartWait),
	)
	return 0, ErrStartTimeout
}

// Stop terminates the daemon: SIGTERM, bounded wait, SIGKILL escalation,
// PID file cleanup. A missing PID file reports ErrNotRunning; a stale
// one is cleaned up and reported as already stopped (pid 0, nil error).
func (s *Supervisor) Stop() (int, error) {
	pid, err := s.pidFile.Read()
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		return 0, ErrNotRunning
	}

	if !ProcessAlive(pid) {
		s.logger.Info("daemon already stopped, cleaning stale pid file",
			zap.Int("pid", pid),
		)
		s.pidFile.Remove()
		return 0, nil
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return pid, fmt.Errorf("send SIGTERM to %d: %w", pid, err)
	}

	deadline := time.Now().Add(s.cfg.StopWait)
	for time.Now().Before(deadline) {
		if !ProcessAlive(pid) {
			s.pidFile.Remove()
			s.logger.Info("daemon stopped gracefully", zap.Int("pid", pid))
			return pid, nil
		}
		time.Sleep(pollStep)
	}

	// Escalate. SIGKILL cannot be caught, so a short wait suffices.
	s.logger.Warn("daemon ignored SIGTERM, escalating to SIGKILL", zap.Int("pid", pid))
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		return pid, fmt.Errorf("send SIGKILL to %d: %w", pid, err)
	}
	for i := 0; i < 20; i++ {
		if !ProcessAlive(pid) {
			s.pidFile.Remove()
			return pid, nil
		}
		time.Sleep(pollStep)
	}
	return pid, ErrStopTimeout
}

// Restart stops then starts the daemon, returning old and new PIDs.
// A failed stop aborts before any start attempt; "was not running" is
// not a failure for restart purposes.
func (s *Supervisor) Restart() (oldPID, newPID int, err error) {
	oldPID, err = s.Stop()
	if err != nil && !errors.Is(err, ErrNotRunning) {
		return oldPID, 0, fmt.Errorf("restart aborted, stop failed: %w", err)
	}

	newPID, err = s.Start()
	if err != nil {
		return oldPID, 0, err
	}
	return oldPID, newPID, nil
}
