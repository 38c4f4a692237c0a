package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sermonscribe/internal/api/response"
	"github.com/kiranshivaraju/sermonscribe/internal/store"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// StatusReader is the part of the store a status query falls back to.
type StatusReader interface {
	GetContent(ctx context.Context, id uuid.UUID) (*models.Content, error)
	LatestJobForContent(ctx context.Context, contentID uuid.UUID) (*models.Job, error)
}

// SnapshotReader serves recently written status snapshots.
type SnapshotReader interface {
	GetStatusSnapshot(ctx context.Context, contentID uuid.UUID) (*models.StatusSnapshot, bool, error)
}

// NewContentStatusHandler returns an http.HandlerFunc for
// GET /api/v1/content/{contentID}/status. It answers from the snapshot cache
// when it can and from the store otherwise.
func NewContentStatusHandler(st StatusReader, snapshots SnapshotReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contentID, ok := pathID(w, r, "contentID")
		if !ok {
			return
		}

		if snapshots != nil {
			snap, found, err := snapshots.GetStatusSnapshot(r.Context(), contentID)
			if err != nil {
				slog.Warn("status snapshot lookup failed", "content_id", contentID, "error", err)
			} else if found {
				response.JSON(w, snap)
				return
			}
		}

		snap, err := statusFromStore(r.Context(), st, contentID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, snap)
	}
}

func statusFromStore(ctx context.Context, st StatusReader, contentID uuid.UUID) (*models.StatusSnapshot, error) {
	content, err := st.GetContent(ctx, contentID)
	if err != nil {
		return nil, err
	}

	snap := &models.StatusSnapshot{
		ContentID:       content.ID,
		Status:          content.Status,
		ProgressPercent: content.ProgressPercent,
		UpdatedAt:       content.UpdatedAt,
	}

	job, err := st.LatestJobForContent(ctx, contentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		snap.JobID = &job.ID
		snap.JobStatus = job.Status
		snap.ErrorDetail = job.ErrorDetail
	}
	return snap, nil
}
