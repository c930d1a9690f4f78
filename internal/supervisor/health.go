package supervisor

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/shiomiya/notihub/internal/metrics"
	"github.com/shiomiya/notihub/internal/scheduler"
	"github.com/shiomiya/notihub/internal/settings"
)

// Check statuses.
const (
	CheckOK      = "ok"
	CheckWarning = "warning"
	CheckError   = "error"
)

// Overall daemon statuses. Running is decided by heartbeat freshness
// alone; a present PID with a stale heartbeat still reports stopped,
// because a process can exist but be wedged.
const (
	DaemonRunning = "running"
	DaemonStopped = "stopped"
)

const logSizeWarnBytes = 50 << 20 // suggest rotation beyond 50 MiB

// Check is one line item of the composite health report.
type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Report is the composite health view consumed by the dashboard.
type Report struct {
	Status       string    `json:"status"`
	PID          int       `json:"pid,omitempty"`
	HeartbeatAge float64   `json:"heartbeat_age_seconds"`
	Checks       []Check   `json:"checks"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// DBPinger is the database round-trip the health check needs.
type DBPinger interface {
	Health(ctx context.Context) error
}

// BacklogCounter counts due messages not yet claimed.
type BacklogCounter interface {
	CountDue(ctx context.Context, now time.Time) (int, error)
}

// SettingsReader reads the heartbeat timeout the report is judged by.
type SettingsReader interface {
	Get(ctx context.Context, key string) (int, error)
}

// HealthChecker builds the composite report from independent checks.
// Each check degrades on its own; no failing dependency stops the
// others from reporting.
type HealthChecker struct {
	heartbeat *scheduler.Heartbeat
	pidFile   *PIDFile
	db        DBPinger
	backlog   BacklogCounter
	settings  SettingsReader
	logPath   string
	logger    *zap.Logger
}

// NewHealthChecker creates a health checker.
func NewHealthChecker(
	heartbeat *scheduler.Heartbeat,
	pidFile *PIDFile,
	db DBPinger,
	backlog BacklogCounter,
	settingsStore SettingsReader,
	logPath string,
	logger *zap.Logger,
) *HealthChecker {
	return &HealthChecker{
		heartbeat: heartbeat,
		pidFile:   pidFile,
		db:        db,
		backlog:   backlog,
		settings:  settingsStore,
		logPath:   logPath,
		logger:    logger,
	}
}

// Status assembles the report.
func (h *HealthChecker) Status(ctx context.Context) Report {
	now := time.Now()
	report := Report{GeneratedAt: now, Status: DaemonStopped}

	timeoutSec, err := h.settings.Get(ctx, settings.KeyHeartbeatTimeout)
	if err != nil {
		timeoutSec, _ = settings.Default(settings.KeyHeartbeatTimeout)
		h.logger.Warn("falling back to default heartbeat timeout", zap.Error(err))
	}
	timeout := time.Duration(timeoutSec) * time.Second

	age, err := h.heartbeat.Age(now)
	switch {
	case err != nil:
		report.Checks = append(report.Checks, Check{
			Name:    "heartbeat",
			Status:  CheckError,
			Message: fmt.Sprintf("heartbeat unreadable: %v", err),
		})
	case age < timeout:
		report.Status = DaemonRunning
		report.HeartbeatAge = age.Seconds()
		report.Checks = append(report.Checks, Check{
			Name:    "heartbeat",
			Status:  CheckOK,
			Message: fmt.Sprintf("last beat %.0fs ago (timeout %s)", age.Seconds(), timeout),
		})
	default:
		report.HeartbeatAge = age.Seconds()
		report.Checks = append(report.Checks, Check{
			Name:    "heartbeat",
			Status:  CheckError,
			Message: fmt.Sprintf("heartbeat stale: %.0fs old exceeds timeout %s", age.Seconds(), timeout),
		})
	}
	metrics.SetHeartbeatAge(age)

	report.Checks = append(report.Checks, h.checkDB(ctx))

	processCheck, pid := h.checkProcess()
	report.PID = pid
	report.Checks = append(report.Checks, processCheck)

	report.Checks = append(report.Checks, h.checkBacklog(ctx, now))
	report.Checks = append(report.Checks, h.checkLogSize())

	return report
}

func (h *HealthChecker) checkDB(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := h.db.Health(ctx); err != nil {
		return Check{Name: "database", Status: CheckError, Message: fmt.Sprintf("ping failed: %v", err)}
	}
	return Check{Name: "database", Status: CheckOK, Message: "reachable"}
}

func (h *HealthChecker) checkProcess() (Check, int) {
	pid, err := h.pidFile.Read()
	if err != nil {
		return Check{Name: "process", Status: CheckError, Message: fmt.Sprintf("pid file unreadable: %v", err)}, 0
	}
	if pid == 0 {
		return Check{Name: "process", Status: CheckWarning, Message: "no pid file"}, 0
	}
	if !ProcessAlive(pid) {
		return Check{Name: "process", Status: CheckError, Message: fmt.Sprintf("pid %d not in process table", pid)}, pid
	}
	return Check{Name: "process", Status: CheckOK, Message: fmt.Sprintf("pid %d alive", pid)}, pid
}

func (h *HealthChecker) checkBacklog(ctx context.Context, now time.Time) Check {
	count, err := h.backlog.CountDue(ctx, now)
	if err != nil {
		return Check{Name: "backlog", Status: CheckError, Message: fmt.Sprintf("count failed: %v", err)}
	}
	metrics.SetBacklogSize(count)
	if count > 0 {
		// A backlog means the daemon is lagging, not broken.
		return Check{Name: "backlog", Status: CheckWarning, Message: fmt.Sprintf("%d due messages waiting", count)}
	}
	return Check{Name: "backlog", Status: CheckOK, Message: "no due messages waiting"}
}

func (h *HealthChecker) checkLogSize() Check {
	info, err := os.Stat(h.logPath)
	if os.IsNotExist(err) {
		return Check{Name: "log_file", Status: CheckOK, Message: "no log file yet"}
	}
	if err != nil {
		return Check{Name: "log_file", Status: CheckError, Message: fmt.Sprintf("stat failed: %v", err)}
	}
	if info.Size() > logSizeWarnBytes {
		return Check{
			Name:    "log_file",
			Status:  CheckWarning,
			Message: fmt.Sprintf("log file is %d MiB, consider rotating", info.Size()>>20),
		}
	}
	return Check{Name: "log_file", Status: CheckOK, Message: fmt.Sprintf("%d KiB", info.Size()>>10)}
}
