package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sermonscribe/internal/store"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// Descriptor is what a producer submits. TargetID names an existing content
// record; when it is nil a transcribe job creates a placeholder record.
type Descriptor struct {
	Type      models.JobType
	SourceURL string
	TargetID  *uuid.UUID
}

// Service persists jobs and moves them through the broker.
type Service struct {
	store  store.Store
	broker Broker
	now    func() time.Time
}

func NewService(s store.Store, b Broker) *Service {
	return &Service{
		store:  s,
		broker: b,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue records a queued job and pushes its envelope. The job row is written
// first; if the push then fails the job is still returned and the reconciler
// pushes it later.
func (s *Service) Enqueue(ctx context.Context, d Descriptor) (*models.Job, error) {
	if !d.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown job type %q", ErrInvalidDescriptor, d.Type)
	}
	d.SourceURL = strings.TrimSpace(d.SourceURL)

	content, placeholder, err := s.resolveContent(ctx, d)
	if err != nil {
		return nil, err
	}

	now := s.now()
	job := &models.Job{
		ID:        uuid.New(),
		Type:      d.Type,
		ContentID: content.ID,
		SourceURL: content.SourceURL,
		Status:    models.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if placeholder {
		err = s.store.CreateJobWithContent(ctx, content, job)
	} else {
		err = s.store.CreateJob(ctx, job)
	}
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.broker.Push(ctx, EnvelopeFor(job)); err != nil {
		slog.Warn("job persisted but push failed, reconciler will retry",
			"job_id", job.ID, "content_id", job.ContentID, "error", err)
		return job, nil
	}
	if err := s.store.MarkJobPushed(ctx, job.ID); err != nil {
		// The envelope is in the broker; a later re-push is absorbed by the claim check.
		slog.Warn("mark job pushed failed", "job_id", job.ID, "error", err)
	} else {
		pushed := s.now()
		job.PushedAt = &pushed
	}

	slog.Info("job enqueued", "job_id", job.ID, "type", job.Type, "content_id", job.ContentID)
	return job, nil
}

// resolveContent finds the record a job will run against. placeholder is true
// when the record is new and has not been written yet.
func (s *Service) resolveContent(ctx context.Context, d Descriptor) (content *models.Content, placeholder bool, err error) {
	if d.TargetID == nil {
		if d.Type == models.JobTypeReanalyze {
			return nil, false, fmt.Errorf("%w: reanalyze requires an existing content record", ErrInvalidDescriptor)
		}
		if d.SourceURL == "" {
			return nil, false, fmt.Errorf("%w: source_url is required", ErrInvalidDescriptor)
		}
		now := s.now()
		return &models.Content{
			ID:        uuid.New(),
			SourceURL: d.SourceURL,
			Status:    models.ContentPending,
			CreatedAt: now,
			UpdatedAt: now,
		}, true, nil
	}

	content, err = s.store.GetContent(ctx, *d.TargetID)
	if err != nil {
		return nil, false, fmt.Errorf("get target content: %w", err)
	}
	if d.SourceURL != "" && d.SourceURL != content.SourceURL {
		return nil, false, fmt.Errorf("%w: source_url does not match content %s", ErrInvalidDescriptor, content.ID)
	}
	if !content.Status.CanBeginRun(d.Type) {
		return nil, false, fmt.Errorf("%w: content %s is %s", ErrInvalidDescriptor, content.ID, content.Status)
	}
	return content, false, nil
}

// Dequeue pops one envelope and claims its job by moving it from queued to
// running. It returns (nil, nil) when the broker was empty for timeout or the
// envelope turned out to be a duplicate or orphan.
func (s *Service) Dequeue(ctx context.Context, timeout time.Duration) (*models.Job, error) {
	env, err := s.broker.Pop(ctx, timeout)
	if errors.Is(err, ErrMalformedEnvelope) {
		slog.Error("dropping malformed envelope", "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if env == nil {
		return nil, nil
	}

	err = s.store.TransitionJob(ctx, env.JobID, models.JobStatusQueued, models.JobStatusRunning)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrStaleState), errors.Is(err, store.ErrNotFound):
		slog.Info("skipping envelope for unclaimable job", "job_id", env.JobID, "reason", err.Error())
		return nil, nil
	default:
		return nil, fmt.Errorf("claim job %s: %w", env.JobID, err)
	}

	job, err := s.store.GetJob(ctx, env.JobID)
	if err != nil {
		return nil, fmt.Errorf("load claimed job %s: %w", env.JobID, err)
	}
	return job, nil
}
