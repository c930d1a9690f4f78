package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/shiomiya/notihub/internal/metrics"
	"github.com/shiomiya/notihub/internal/settings"
)

const dueBatchSize = 50

// Daemon is the long-lived scheduler process body: it beats the
// heartbeat, periodically sweeps due messages through the Processor,
// and reclaims messages stuck in sending.
//
// Interval configuration is loaded once before Run and fixed for the
// daemon's lifetime; setting changes require a restart to take effect.
type Daemon struct {
	cfg       settings.Scheduler
	messages  MessageStore
	processor *Processor
	heartbeat *Heartbeat
	logger    *zap.Logger
}

// NewDaemon creates a scheduler daemon.
func NewDaemon(cfg settings.Scheduler, messages MessageStore, processor *Processor, heartbeat *Heartbeat, logger *zap.Logger) *Daemon {
	return &Daemon{
		cfg:       cfg,
		messages:  messages,
		processor: processor,
		heartbeat: heartbeat,
		logger:    logger,
	}
}

// Run executes the daemon loop until ctx is cancelled. Jobs run on a
// cron scheduler with per-job panic recovery, so one bad pass can
// never take the daemon down.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("scheduler daemon starting",
		zap.Duration("heartbeat_interval", d.cfg.HeartbeatInterval),
		zap.Duration("task_check_interval", d.cfg.TaskCheckInterval),
		zap.Duration("reclaim_after", d.cfg.ReclaimAfter),
	)

	// Startup recovery: anything stuck in sending from a previous crash
	// goes back to scheduled before the first pass.
	d.reclaim(ctx)

	if err := d.heartbeat.Beat(time.Now()); err != nil {
		d.logger.Error("initial heartbeat write failed", zap.Error(err))
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(zap.NewStdLog(d.logger))),
	))

	c.Schedule(cron.Every(d.cfg.HeartbeatInterval), cron.FuncJob(func() {
		if err := d.heartbeat.Beat(time.Now()); err != nil {
			d.logger.Error("heartbeat write failed", zap.Error(err))
		}
	}))

	c.Schedule(cron.Every(d.cfg.TaskCheckInterval), cron.FuncJob(func() {
		d.pass(ctx)
	}))

	// Reclamation also runs periodically, not only at startup, so a
	// crashed sibling daemon's messages recover without a restart here.
	c.Schedule(cron.Every(d.cfg.ReclaimAfter), cron.FuncJob(func() {
		d.reclaim(ctx)
	}))

	c.Start()
	<-ctx.Done()

	d.logger.Info("scheduler daemon stopping")
	stopCtx := c.Stop() // waits for running jobs
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		d.logger.Warn("timed out waiting for running jobs")
	}
	d.heartbeat.Remove()
	return nil
}

// pass claims and processes every currently-due message. Errors from a
// single message are logged and the pass moves on; nothing propagates.
func (d *Daemon) pass(ctx context.Context) {
	start := time.Now()

	due, err := d.messages.Due(ctx, start, dueBatchSize)
	if err != nil {
		d.logger.Error("failed to query due messages", zap.Error(err))
		return
	}
	if backlog, err := d.messages.CountDue(ctx, start); err == nil {
		metrics.SetBacklogSize(backlog)
	}
	if len(due) == 0 {
		return
	}

	d.logger.Info("processing due messages", zap.Int("count", len(due)))

	for _, msg := range due {
		if ctx.Err() != nil {
			return
		}
		if err := d.processor.Process(ctx, msg); err != nil {
			d.logger.Error("message processing failed",
				zap.String("message_id", msg.ID.String()),
				zap.Error(err),
			)
		}
	}

	metrics.RecordSchedulerPass(time.Since(start))
}

func (d *Daemon) reclaim(ctx context.Context) {
	n, err := d.messages.ReclaimStuck(ctx, d.cfg.ReclaimAfter)
	if err != nil {
		d.logger.Error("reclamation sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		metrics.RecordReclaimed(n)
		d.logger.Warn("reclaimed stuck messages", zap.Int64("count", n))
	}
}
