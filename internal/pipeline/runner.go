package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/sermonscribe/internal/config"
	"github.com/kiranshivaraju/sermonscribe/internal/store"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// Dequeuer hands out claimed jobs. A nil job with a nil error means nothing
// was available within timeout.
type Dequeuer interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*models.Job, error)
}

// Runner is a worker loop: it claims one job at a time and runs it to a
// terminal status before claiming the next.
type Runner struct {
	queue   Dequeuer
	store   store.Store
	machine atomic.Pointer[Machine]
	cfg     atomic.Pointer[config.Config]
	reload  chan reload

	// errorBackoff is the pause after a failed dequeue.
	errorBackoff time.Duration
}

type reload struct {
	cfg     *config.Config
	machine *Machine
}

func NewRunner(queue Dequeuer, machine *Machine, st store.Store, cfg *config.Config) *Runner {
	r := &Runner{
		queue:        queue,
		store:        st,
		reload:       make(chan reload, 1),
		errorBackoff: time.Second,
	}
	r.machine.Store(machine)
	r.cfg.Store(cfg)
	return r
}

// Config returns the configuration the next job will run with.
func (r *Runner) Config() *config.Config {
	return r.cfg.Load()
}

// Reload schedules cfg, and machine when it is non-nil, to take effect
// before the next job. A job in flight keeps what it started with. Only the
// latest pending reload is kept.
func (r *Runner) Reload(cfg *config.Config, machine *Machine) {
	next := reload{cfg: cfg, machine: machine}
	for {
		select {
		case r.reload <- next:
			return
		default:
			select {
			case <-r.reload:
			default:
			}
		}
	}
}

// Run claims and executes jobs until ctx is cancelled. A job in progress when
// ctx is cancelled still runs to completion.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("runner started")
	defer slog.Info("runner stopped")

	for {
		select {
		case next := <-r.reload:
			r.cfg.Store(next.cfg)
			if next.machine != nil {
				r.machine.Store(next.machine)
			}
			slog.Info("runner configuration reloaded", "machine_replaced", next.machine != nil)
		default:
		}
		if ctx.Err() != nil {
			return nil
		}

		cfg := r.cfg.Load()
		job, err := r.queue.Dequeue(ctx, cfg.Pipeline.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.errorBackoff):
			}
			continue
		}
		if job == nil {
			continue
		}

		r.execute(ctx, job, cfg)
	}
}

// execute runs one job and makes sure a panic outside a stage still leaves
// the job in a terminal status.
func (r *Runner) execute(ctx context.Context, job *models.Job, cfg *config.Config) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic while processing job", "job_id", job.ID, "error", rec)
			detail := fmt.Sprintf("panic: %v", rec)
			if err := r.store.TransitionJob(context.WithoutCancel(ctx), job.ID, models.JobStatusRunning,
				models.JobStatusFailed, store.WithErrorDetail(detail)); err != nil {
				slog.Error("mark job failed after panic", "job_id", job.ID, "error", err)
			}
		}
	}()

	_ = r.machine.Load().Process(ctx, job, cfg)
}
