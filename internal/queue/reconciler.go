package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/sermonscribe/internal/store"
)

// Reconciler repairs the gap between the job table and the broker. It
// re-pushes queued jobs whose push never landed and reports jobs that have
// been running longer than the stuck threshold. It never changes job status.
type Reconciler struct {
	store          store.Store
	broker         Broker
	interval       time.Duration
	pushThreshold  time.Duration
	stuckThreshold time.Duration
	batch          int
	now            func() time.Time
}

func NewReconciler(s store.Store, b Broker, interval, pushThreshold, stuckThreshold time.Duration) *Reconciler {
	return &Reconciler{
		store:          s,
		broker:         b,
		interval:       interval,
		pushThreshold:  pushThreshold,
		stuckThreshold: stuckThreshold,
		batch:          100,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one reconciliation pass and returns how many jobs were re-pushed.
func (r *Reconciler) Sweep(ctx context.Context) int {
	now := r.now()

	jobs, err := r.store.ListUnpushedJobs(ctx, now.Add(-r.pushThreshold), r.batch)
	if err != nil {
		slog.Error("list unpushed jobs", "error", err)
		return 0
	}

	pushed := 0
	for _, job := range jobs {
		if err := r.broker.Push(ctx, EnvelopeFor(job)); err != nil {
			slog.Warn("re-push failed", "job_id", job.ID, "error", err)
			continue
		}
		if err := r.store.MarkJobPushed(ctx, job.ID); err != nil {
			slog.Warn("mark job pushed failed", "job_id", job.ID, "error", err)
		}
		pushed++
	}
	if pushed > 0 {
		slog.Info("re-pushed queued jobs", "count", pushed)
	}

	stuck, err := r.store.ListStuckJobs(ctx, now.Add(-r.stuckThreshold))
	if err != nil {
		slog.Error("list stuck jobs", "error", err)
		return pushed
	}
	for _, job := range stuck {
		slog.Warn("job running past stuck threshold",
			"job_id", job.ID, "content_id", job.ContentID, "started_at", job.StartedAt)
	}
	return pushed
}
