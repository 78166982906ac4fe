package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/common"
)

// Runner drives the worker on a schedule: the tick on a short interval, the
// stale-job sweep on a cron expression.
type Runner struct {
	worker *Worker
	cron   *cron.Cron
	logger arbor.ILogger

	tickInterval  time.Duration
	sweepSchedule string
}

// NewRunner creates a runner from config
func NewRunner(cfg *common.Config, worker *Worker, logger arbor.ILogger) *Runner {
	return &Runner{
		worker:        worker,
		cron:          cron.New(cron.WithSeconds()),
		logger:        logger,
		tickInterval:  common.ParseDuration(cfg.Worker.TickInterval, 2*time.Second),
		sweepSchedule: cfg.Worker.SweepSchedule,
	}
}

// Start begins the tick and sweep schedules
func (r *Runner) Start() error {
	tickSpec := fmt.Sprintf("@every %s", r.tickInterval)
	if _, err := r.cron.AddFunc(tickSpec, r.runTick); err != nil {
		return fmt.Errorf("failed to schedule worker tick: %w", err)
	}

	sweepSpec := r.sweepSchedule
	if sweepSpec == "" {
		// Default: every 5 minutes
		sweepSpec = "0 */5 * * * *"
	}
	if _, err := r.cron.AddFunc(sweepSpec, r.runSweep); err != nil {
		return fmt.Errorf("failed to schedule stale-job sweep: %w", err)
	}

	r.cron.Start()
	r.logger.Info().
		Dur("tick_interval", r.tickInterval).
		Str("sweep_schedule", sweepSpec).
		Msg("Worker runner started")

	return nil
}

// Stop halts the schedules and waits for in-flight runs to finish
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info().Msg("Worker runner stopped")
}

// RunNow triggers an immediate tick
func (r *Runner) RunNow() {
	go r.runTick()
}

func (r *Runner) runTick() {
	ctx, cancel := context.WithTimeout(context.Background(), r.tickInterval*10)
	defer cancel()

	if _, err := r.worker.Tick(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Worker tick failed")
	}
}

func (r *Runner) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	swept, err := r.worker.Sweep(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Stale-job sweep failed")
		return
	}
	if swept > 0 {
		r.logger.Info().Int("swept", swept).Msg("Stale-job sweep completed")
	}
}
