package response_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sermonscribe/internal/api/response"
	"github.com/kiranshivaraju/sermonscribe/internal/queue"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func queuedJob() *models.Job {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &models.Job{
		ID:        uuid.MustParse("8d5c0d9e-3f0c-4a57-9a51-7d1f3c2b1a00"),
		Type:      models.JobTypeTranscribe,
		ContentID: uuid.MustParse("1b4e28ba-2fa1-41d2-883f-0016d3cca427"),
		SourceURL: "https://www.youtube.com/watch?v=sunday",
		Status:    models.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestAccepted_JobWithLocation(t *testing.T) {
	job := queuedJob()
	w := httptest.NewRecorder()
	response.Accepted(w, "/api/v1/jobs/"+job.ID.String(), job)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "/api/v1/jobs/8d5c0d9e-3f0c-4a57-9a51-7d1f3c2b1a00", w.Header().Get("Location"))

	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, job.ID.String(), data["id"])
	assert.Equal(t, "queued", data["status"])
	assert.Equal(t, "transcribe", data["type"])
}

func TestAccepted_NoLocation(t *testing.T) {
	w := httptest.NewRecorder()
	response.Accepted(w, "", queuedJob())

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, w.Header().Get("Location"))
}

func TestJSON_StatusSnapshot(t *testing.T) {
	jobID := uuid.New()
	snap := models.StatusSnapshot{
		ContentID:       uuid.New(),
		Status:          models.ContentTranscribed,
		ProgressPercent: 50,
		JobID:           &jobID,
		JobStatus:       models.JobStatusRunning,
	}
	w := httptest.NewRecorder()
	response.JSON(w, snap)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "transcribed", data["status"])
	assert.Equal(t, float64(50), data["progress_percent"])
}

func TestList_StuckJobs(t *testing.T) {
	w := httptest.NewRecorder()
	response.List(w, []*models.Job{queuedJob()}, response.ListMeta{
		Count:  1,
		Filter: map[string]string{"older_than": "2h0m0s"},
	})

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Len(t, body["data"].([]any), 1)

	meta := body["meta"].(map[string]any)
	assert.Equal(t, float64(1), meta["count"])
	assert.Equal(t, "2h0m0s", meta["filter"].(map[string]any)["older_than"])
}

func TestList_EmptyKeepsArray(t *testing.T) {
	w := httptest.NewRecorder()
	response.List(w, []*models.Job{}, response.ListMeta{})

	body := decode(t, w)
	assert.Equal(t, []any{}, body["data"])
	_, hasFilter := body["meta"].(map[string]any)["filter"]
	assert.False(t, hasFilter)
}

func TestInvalid_DescriptorFieldErrors(t *testing.T) {
	fields := response.FieldErrors{}
	fields.Add("source_url", "is required")
	fields.Add("content_id", "must be a valid UUID")
	fields.Add("content_id", "must name an existing record")

	w := httptest.NewRecorder()
	response.Invalid(w, fmt.Errorf("%w: source_url is required", queue.ErrInvalidDescriptor).Error(), fields)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, response.CodeInvalidRequest, errObj["code"])
	assert.Equal(t, "invalid job descriptor: source_url is required", errObj["message"])

	details := errObj["details"].(map[string]any)
	assert.Equal(t, []any{"is required"}, details["source_url"])
	assert.Len(t, details["content_id"], 2)
}

func TestInvalid_NoFieldsOmitsDetails(t *testing.T) {
	w := httptest.NewRecorder()
	response.Invalid(w, "Invalid JSON body", response.FieldErrors{})

	errObj := decode(t, w)["error"].(map[string]any)
	_, hasDetails := errObj["details"]
	assert.False(t, hasDetails)
}

func TestError_DegradedHealth(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusServiceUnavailable, response.CodeDegraded, "One or more services degraded",
		map[string]string{"database": "ok", "cache": "degraded"})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "DEGRADED", errObj["code"])
	assert.Equal(t, "degraded", errObj["details"].(map[string]any)["cache"])
}
