// Package pipeline executes jobs: it claims work from the queue and drives a
// content record through metadata, duration validation, transcription, and
// the derived stages, persisting each step before announcing it.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sermonscribe/internal/broadcast"
	"github.com/kiranshivaraju/sermonscribe/internal/cache"
	"github.com/kiranshivaraju/sermonscribe/internal/config"
	"github.com/kiranshivaraju/sermonscribe/internal/media"
	"github.com/kiranshivaraju/sermonscribe/internal/postprocess"
	"github.com/kiranshivaraju/sermonscribe/internal/store"
	"github.com/kiranshivaraju/sermonscribe/internal/transcript"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// snapshotTTL bounds how long a cached status may outlive its last write.
const snapshotTTL = 10 * time.Minute

// MetadataSource reads recording metadata.
type MetadataSource interface {
	Metadata(ctx context.Context, sourceURL string) (*media.Metadata, error)
}

// Transcriber runs the transcription waterfall.
type Transcriber interface {
	Acquire(ctx context.Context, sourceURL string, onAttempt transcript.AttemptFunc) (*transcript.Result, error)
}

// Indexer writes retrieval chunks for a transcript.
type Indexer interface {
	Index(ctx context.Context, contentID uuid.UUID, text string) (int, error)
}

// Dependencies holds everything a Machine calls out to.
type Dependencies struct {
	Store       store.Store
	Metadata    MetadataSource
	Transcriber Transcriber
	Analyzer    models.AIProvider
	Indexer     Indexer
	Events      broadcast.Publisher
	// Cache is optional. When set, every persisted step refreshes the status snapshot.
	Cache cache.Cache
}

// Machine runs one job at a time through the stages.
type Machine struct {
	deps Dependencies
}

func NewMachine(deps Dependencies) *Machine {
	return &Machine{deps: deps}
}

// run is the state of one job execution.
type run struct {
	m        *Machine
	cfg      *config.Config
	job      *models.Job
	content  *models.Content
	status   models.ContentStatus
	progress int
}

// Process executes job to a terminal job status. Stages are not interrupted
// by cancellation of ctx; a shutting-down worker finishes the current job.
// The returned error is the StageError that failed the job, or nil when the
// job completed (including rejection).
func (m *Machine) Process(ctx context.Context, job *models.Job, cfg *config.Config) error {
	ctx = context.WithoutCancel(ctx)
	log := slog.With("job_id", job.ID, "content_id", job.ContentID, "type", job.Type)
	log.Info("job started")
	started := time.Now()

	content, err := m.deps.Store.BeginContentRun(ctx, job.ID, job.ContentID, job.Type)
	if err != nil {
		r := &run{m: m, cfg: cfg, job: job, content: &models.Content{ID: job.ContentID}}
		return r.failJob(ctx, &StageError{Stage: StageBegin, Err: err})
	}

	r := &run{m: m, cfg: cfg, job: job, content: content, status: content.Status, progress: content.ProgressPercent}
	r.announce(ctx, "", 0, fmt.Sprintf("%s run started", job.Type))

	if job.Type == models.JobTypeTranscribe {
		done, err := r.acquire(ctx)
		if err != nil || done {
			r.logOutcome(log, started, err)
			return err
		}
	}

	err = r.derive(ctx)
	r.logOutcome(log, started, err)
	return err
}

func (r *run) logOutcome(log *slog.Logger, started time.Time, err error) {
	if err != nil {
		log.Warn("job failed", "error", err, "content_status", r.status, "elapsed", time.Since(started).Round(time.Millisecond))
		return
	}
	log.Info("job completed", "content_status", r.status, "elapsed", time.Since(started).Round(time.Millisecond))
}

// acquire runs the stages up to transcribed. done is true when the job
// reached a terminal outcome (rejection) without an error.
func (r *run) acquire(ctx context.Context) (bool, error) {
	// Metadata.
	var md *media.Metadata
	err := runStage(ctx, StageMetadata, r.cfg.Media.MetadataTimeout, func(ctx context.Context) error {
		var err error
		md, err = r.m.deps.Metadata.Metadata(ctx, r.content.SourceURL)
		return err
	})
	if err != nil {
		return false, r.failContent(ctx, err)
	}

	title := postprocess.WithDatePrefix(md.Title, md.PublishedAt)
	duration := md.DurationSeconds
	patch := store.ContentPatch{Title: &title, DurationSeconds: &duration, PublishedAt: md.PublishedAt}
	if err := r.advance(ctx, models.ContentMetadataExtracted, patch, "metadata extracted"); err != nil {
		return false, r.failJob(ctx, &StageError{Stage: StageMetadata, Err: err})
	}
	r.content.Title = title
	r.content.DurationSeconds = &duration
	r.content.PublishedAt = md.PublishedAt

	// Duration gate.
	length := time.Duration(duration) * time.Second
	switch {
	case length < r.cfg.Pipeline.MinDuration:
		return true, r.reject(ctx, models.ContentRejectedTooShort,
			fmt.Sprintf("duration %s is below minimum %s", length, r.cfg.Pipeline.MinDuration))
	case length > r.cfg.Pipeline.MaxDuration:
		return true, r.reject(ctx, models.ContentRejectedTooLong,
			fmt.Sprintf("duration %s exceeds maximum %s", length, r.cfg.Pipeline.MaxDuration))
	}
	if err := r.advance(ctx, models.ContentDurationValidated, store.ContentPatch{}, "duration validated"); err != nil {
		return false, r.failJob(ctx, &StageError{Stage: StageDuration, Err: err})
	}

	// Transcription waterfall.
	var res *transcript.Result
	err = runStage(ctx, StageTranscription, 0, func(ctx context.Context) error {
		var err error
		res, err = r.m.deps.Transcriber.Acquire(ctx, r.content.SourceURL, func(tier models.Tier, attempt, total int) {
			pct := models.TranscriptionProgressStart + 10*(attempt-1)
			r.reportProgress(ctx, pct, tier, fmt.Sprintf("trying %s (%d/%d)", tier, attempt, total))
		})
		return err
	})
	if err != nil {
		return false, r.failContent(ctx, err)
	}

	text := res.Transcript.Text
	tier := res.Tier
	patch = store.ContentPatch{
		TranscriptText:     &text,
		TranscriptSegments: res.Transcript.Segments,
		TranscriptTier:     &tier,
	}
	if res.Transcript.Segments == nil {
		patch.TranscriptSegments = []models.Segment{}
	}
	if err := r.advanceTier(ctx, models.ContentTranscribed, patch, tier, fmt.Sprintf("transcribed via %s", tier)); err != nil {
		return false, r.failJob(ctx, &StageError{Stage: StageTranscription, Err: err})
	}
	r.content.TranscriptText = &text
	r.content.TranscriptSegments = res.Transcript.Segments
	r.content.TranscriptTier = &tier
	return false, nil
}

// derive runs the post-transcription stages. A failure here leaves the content
// at the last status it reached and fails only the job.
func (r *run) derive(ctx context.Context) error {
	text := ""
	if r.content.TranscriptText != nil {
		text = *r.content.TranscriptText
	}

	// Start offset. Reanalysis also re-derives the title prefix from the stored date.
	offset := postprocess.DetectStartOffset(r.content.TranscriptSegments, r.cfg.Pipeline.StartOffsetFloor)
	patch := store.ContentPatch{StartOffsetSeconds: &offset}
	if r.job.Type == models.JobTypeReanalyze {
		if title := postprocess.WithDatePrefix(r.content.Title, r.content.PublishedAt); title != r.content.Title {
			patch.Title = &title
			r.content.Title = title
		}
	}
	if err := r.advance(ctx, models.ContentStartOffsetDetected, patch, fmt.Sprintf("sermon starts at %.0fs", offset)); err != nil {
		return r.failJob(ctx, &StageError{Stage: StageStartOffset, Err: err})
	}

	// Analysis.
	var payload json.RawMessage
	err := runStage(ctx, StageAnalysis, 0, func(ctx context.Context) error {
		req := models.AnalysisRequest{
			ContentID:          r.content.ID,
			Title:              r.content.Title,
			Transcript:         text,
			Segments:           r.content.TranscriptSegments,
			StartOffsetSeconds: offset,
		}
		if r.content.DurationSeconds != nil {
			req.DurationSeconds = *r.content.DurationSeconds
		}
		var err error
		payload, err = r.m.deps.Analyzer.Analyze(ctx, req)
		return err
	})
	if err != nil {
		return r.failJob(ctx, err)
	}
	if err := r.advance(ctx, models.ContentAnalyzed, store.ContentPatch{AnalysisPayload: payload}, "analysis stored"); err != nil {
		return r.failJob(ctx, &StageError{Stage: StageAnalysis, Err: err})
	}

	// Indexing.
	var chunks int
	err = runStage(ctx, StageIndexing, 0, func(ctx context.Context) error {
		var err error
		chunks, err = r.m.deps.Indexer.Index(ctx, r.content.ID, text)
		return err
	})
	if err != nil {
		return r.failJob(ctx, err)
	}
	if err := r.advance(ctx, models.ContentIndexed, store.ContentPatch{}, fmt.Sprintf("%d chunks indexed", chunks)); err != nil {
		return r.failJob(ctx, &StageError{Stage: StageIndexing, Err: err})
	}

	// Completion.
	if err := r.advance(ctx, models.ContentCompleted, store.ContentPatch{}, "completed"); err != nil {
		return r.failJob(ctx, &StageError{Stage: StageCompletion, Err: err})
	}
	return r.completeJob(ctx)
}

// runStage calls fn with an optional deadline and turns errors and panics into a *StageError.
func runStage(ctx context.Context, stage string, timeout time.Duration, fn func(ctx context.Context) error) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in stage", "stage", stage, "error", rec)
			err = &StageError{Stage: stage, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	if err := fn(ctx); err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

func (r *run) advance(ctx context.Context, to models.ContentStatus, patch store.ContentPatch, message string) error {
	return r.advanceTier(ctx, to, patch, 0, message)
}

// advanceTier persists the transition, then announces it.
func (r *run) advanceTier(ctx context.Context, to models.ContentStatus, patch store.ContentPatch, tier models.Tier, message string) error {
	if err := r.m.deps.Store.AdvanceContent(ctx, r.job.ID, r.content.ID, r.status, to, patch); err != nil {
		return err
	}
	r.status = to
	if p, ok := to.Progress(); ok {
		r.progress = max(r.progress, p)
	}
	r.announce(ctx, "", tier, message)
	return nil
}

// reportProgress raises progress inside a stage without changing status.
func (r *run) reportProgress(ctx context.Context, pct int, tier models.Tier, message string) {
	if pct <= r.progress {
		r.announce(ctx, "", tier, message)
		return
	}
	if err := r.m.deps.Store.UpdateProgress(ctx, r.job.ID, r.content.ID, pct); err != nil {
		slog.Warn("update progress failed", "job_id", r.job.ID, "error", err)
		return
	}
	r.progress = pct
	r.announce(ctx, "", tier, message)
}

// reject ends the run at a rejection status. The job itself completes.
func (r *run) reject(ctx context.Context, to models.ContentStatus, reason string) error {
	if err := r.advance(ctx, to, store.ContentPatch{}, reason); err != nil {
		return r.failJob(ctx, &StageError{Stage: StageDuration, Err: err})
	}
	slog.Info("content rejected", "job_id", r.job.ID, "content_id", r.content.ID, "status", to, "reason", reason)
	return r.completeJob(ctx)
}

// failContent marks the content failed (pre-transcription failures and
// waterfall exhaustion) and then fails the job.
func (r *run) failContent(ctx context.Context, err error) error {
	if advErr := r.m.deps.Store.AdvanceContent(ctx, r.job.ID, r.content.ID, r.status, models.ContentFailed, store.ContentPatch{}); advErr != nil {
		slog.Error("mark content failed", "job_id", r.job.ID, "content_id", r.content.ID, "error", advErr)
	} else {
		r.status = models.ContentFailed
	}
	return r.failJob(ctx, err)
}

// failJob records err on the job and emits an error event.
func (r *run) failJob(ctx context.Context, err error) error {
	stage := StageBegin
	var se *StageError
	if errors.As(err, &se) {
		stage = se.Stage
	} else {
		err = &StageError{Stage: stage, Err: err}
	}

	detail := err.Error()
	if terr := r.m.deps.Store.TransitionJob(ctx, r.job.ID, models.JobStatusRunning, models.JobStatusFailed,
		store.WithErrorDetail(detail)); terr != nil {
		slog.Error("mark job failed", "job_id", r.job.ID, "error", terr)
	} else {
		r.job.Status = models.JobStatusFailed
		r.job.ErrorDetail = &detail
	}

	r.announce(ctx, stage, 0, detail)
	return err
}

func (r *run) completeJob(ctx context.Context) error {
	if err := r.m.deps.Store.TransitionJob(ctx, r.job.ID, models.JobStatusRunning, models.JobStatusCompleted); err != nil {
		return r.failJob(ctx, &StageError{Stage: StageCompletion, Err: err})
	}
	r.job.Status = models.JobStatusCompleted
	r.writeSnapshot(ctx)
	return nil
}

// announce publishes an event for the current state and refreshes the
// snapshot. errStage selects an error event.
func (r *run) announce(ctx context.Context, errStage string, tier models.Tier, message string) {
	var ev models.Event
	if errStage != "" {
		ev = models.ErrorEvent(r.job.ID, r.content.ID, r.status, r.progress, errStage, message)
	} else {
		ev = models.StageEvent(r.job.ID, r.content.ID, r.status, r.progress, message)
		ev.Tier = tier
	}
	if r.m.deps.Events != nil {
		r.m.deps.Events.Publish(ev)
	}
	r.writeSnapshot(ctx)
}

func (r *run) writeSnapshot(ctx context.Context) {
	if r.m.deps.Cache == nil || r.status == "" {
		return
	}
	jobID := r.job.ID
	snap := models.StatusSnapshot{
		ContentID:       r.content.ID,
		Status:          r.status,
		ProgressPercent: r.progress,
		JobID:           &jobID,
		JobStatus:       r.job.Status,
		ErrorDetail:     r.job.ErrorDetail,
		UpdatedAt:       time.Now().UTC(),
	}
	if err := r.m.deps.Cache.SetStatusSnapshot(ctx, snap, snapshotTTL); err != nil {
		slog.Warn("write status snapshot", "content_id", r.content.ID, "error", err)
	}
}
