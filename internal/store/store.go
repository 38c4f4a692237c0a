package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrStaleState is returned when a conditional write finds the job or content
// in a different state than the caller expected. Another worker got there first.
var ErrStaleState = errors.New("stale state")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreateJob(ctx context.Context, job *models.Job) error
	// CreateJobWithContent writes a new content record and its job together;
	// either both are stored or neither is.
	CreateJobWithContent(ctx context.Context, c *models.Content, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	LatestJobForContent(ctx context.Context, contentID uuid.UUID) (*models.Job, error)
	MarkJobPushed(ctx context.Context, id uuid.UUID) error
	// TransitionJob moves a job from one status to another. The write only
	// applies while the job is still at from; otherwise ErrStaleState.
	TransitionJob(ctx context.Context, id uuid.UUID, from, to models.JobStatus, opts ...JobUpdateOption) error
	ListUnpushedJobs(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Job, error)
	ListStuckJobs(ctx context.Context, startedBefore time.Time) ([]*models.Job, error)

	CreateContent(ctx context.Context, c *models.Content) error
	GetContent(ctx context.Context, id uuid.UUID) (*models.Content, error)
	// BeginContentRun resets a record to the start status of a new run owned by jobID.
	BeginContentRun(ctx context.Context, jobID, contentID uuid.UUID, jobType models.JobType) (*models.Content, error)
	// AdvanceContent applies one stage transition. It requires the job to be
	// running and the content to be at from.
	AdvanceContent(ctx context.Context, jobID, contentID uuid.UUID, from, to models.ContentStatus, patch ContentPatch) error
	// UpdateProgress raises progress_percent without changing status. It never lowers it.
	UpdateProgress(ctx context.Context, jobID, contentID uuid.UUID, percent int) error
	ReplaceChunks(ctx context.Context, contentID uuid.UUID, chunks []models.ContentChunk) error
}

// ContentPatch carries the derived fields a stage writes. Nil fields are left untouched.
type ContentPatch struct {
	Title              *string
	DurationSeconds    *int
	PublishedAt        *time.Time
	TranscriptText     *string
	TranscriptSegments []models.Segment
	TranscriptTier     *models.Tier
	StartOffsetSeconds *float64
	AnalysisPayload    json.RawMessage
}

type jobUpdateParams struct {
	ErrorDetail *string
}

type JobUpdateOption func(*jobUpdateParams)

func WithErrorDetail(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorDetail = &msg
	}
}
