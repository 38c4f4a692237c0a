package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sermonscribe/internal/api/response"
	"github.com/kiranshivaraju/sermonscribe/internal/queue"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// Enqueuer defines the interface the enqueue handlers depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, d queue.Descriptor) (*models.Job, error)
}

// JobReader looks up jobs by ID.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

type enqueueRequest struct {
	Type      string `json:"type"`
	SourceURL string `json:"source_url"`
	ContentID string `json:"content_id"`
}

// NewEnqueueHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewEnqueueHandler(enq Enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Invalid(w, "Invalid JSON body", nil)
			return
		}

		d := queue.Descriptor{
			Type:      models.JobType(strings.TrimSpace(req.Type)),
			SourceURL: req.SourceURL,
		}
		if d.Type == "" {
			d.Type = models.JobTypeTranscribe
		}
		if req.ContentID != "" {
			id, err := uuid.Parse(req.ContentID)
			if err != nil {
				response.Invalid(w, "Invalid job descriptor", response.FieldErrors{
					"content_id": {"must be a valid UUID"},
				})
				return
			}
			d.TargetID = &id
		}

		job, err := enq.Enqueue(r.Context(), d)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.Accepted(w, "/api/v1/jobs/"+job.ID.String(), job)
	}
}

// NewReanalyzeHandler returns an http.HandlerFunc for
// POST /api/v1/content/{contentID}/reanalyze.
func NewReanalyzeHandler(enq Enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contentID, ok := pathID(w, r, "contentID")
		if !ok {
			return
		}

		job, err := enq.Enqueue(r.Context(), queue.Descriptor{
			Type:     models.JobTypeReanalyze,
			TargetID: &contentID,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.Accepted(w, "/api/v1/jobs/"+job.ID.String(), job)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(jobs JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := pathID(w, r, "jobID")
		if !ok {
			return
		}

		job, err := jobs.GetJob(r.Context(), jobID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, job)
	}
}
