// Package sweep runs a job on a cron schedule and tracks its run history.
// The daemon uses it for the periodic index consistency check.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// runTimeout bounds a single sweep pass so a hung store probe cannot pile
// up overlapping runs forever.
const runTimeout = 5 * time.Minute

// Job is one sweep pass.
type Job func(ctx context.Context) error

// Status is a snapshot of the runner's execution history.
type Status struct {
	LastRunAt         time.Time `json:"last_run_at,omitempty"`
	LastStatus        string    `json:"last_status,omitempty"` // "ok" or "error"
	LastError         string    `json:"last_error,omitempty"`
	LastDuration      string    `json:"last_duration,omitempty"`
	ConsecutiveErrors int       `json:"consecutive_errors,omitempty"`
}

// Runner executes a job on a cron schedule. Runs never overlap: if a pass is
// still going when the next tick fires, the tick is skipped.
type Runner struct {
	cron   *cron.Cron
	job    Job
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	status  Status
}

// NewRunner validates the schedule and prepares a runner. Schedule accepts
// standard five-field cron expressions and descriptors like "@every 1m".
func NewRunner(schedule string, job Job, logger zerolog.Logger) (*Runner, error) {
	if job == nil {
		return nil, fmt.Errorf("sweep job is required")
	}

	r := &Runner{
		cron:   cron.New(),
		job:    job,
		logger: logger,
	}
	if _, err := r.cron.AddFunc(schedule, r.runOnce); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start begins scheduling. The first run happens at the first tick, not
// immediately.
func (r *Runner) Start() {
	r.cron.Start()
	r.logger.Info().Msg("Consistency sweep scheduled")
}

// Stop halts scheduling and waits for an in-flight pass to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info().Msg("Consistency sweep stopped")
}

// RunNow executes one pass synchronously, outside the schedule.
func (r *Runner) RunNow() {
	r.runOnce()
}

// Status returns a snapshot of the last run.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Runner) runOnce() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.logger.Debug().Msg("Previous sweep still running, skipping tick")
		return
	}
	r.running = true
	r.mu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	err := r.job(ctx)
	cancel()
	elapsed := time.Since(start)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.running = false
	r.status.LastRunAt = start.UTC()
	r.status.LastDuration = elapsed.Round(time.Millisecond).String()

	if err != nil {
		r.status.LastStatus = "error"
		r.status.LastError = err.Error()
		r.status.ConsecutiveErrors++
		r.logger.Error().Err(err).
			Int("consecutive_errors", r.status.ConsecutiveErrors).
			Msg("Sweep pass failed")
		return
	}

	r.status.LastStatus = "ok"
	r.status.LastError = ""
	r.status.ConsecutiveErrors = 0
	r.logger.Debug().Dur("elapsed", elapsed).Msg("Sweep pass completed")
}
