package handler_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sermonscribe/internal/api"
	"github.com/kiranshivaraju/sermonscribe/internal/api/handler"
	mw "github.com/kiranshivaraju/sermonscribe/internal/api/middleware"
	"github.com/kiranshivaraju/sermonscribe/internal/broadcast"
	"github.com/kiranshivaraju/sermonscribe/internal/cache"
	"github.com/kiranshivaraju/sermonscribe/internal/queue"
	"github.com/kiranshivaraju/sermonscribe/internal/store"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ─── test fixtures ───────────────────────────────────────────────────────────

const (
	adminRawKey = "ss_admin_contract_key_1234567890"
	readRawKey  = "ss_read__contract_key_1234567890"
	sermonURL   = "https://www.youtube.com/watch?v=abc123"
)

type env struct {
	store   *store.MemoryStore
	broker  *queue.MemoryBroker
	queue   *queue.Service
	cache   *cache.MemoryCache
	events  *broadcast.Manager
	handler http.Handler
}

func seedKey(t *testing.T, st *store.MemoryStore, raw string, scopes ...string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, st.CreateAPIKey(context.Background(), &models.APIKey{
		ID:        uuid.New(),
		Name:      raw[:8],
		KeyHash:   string(hash),
		KeyPrefix: raw[:8],
		Scopes:    scopes,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}))
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:  store.NewMemoryStore(),
		broker: queue.NewMemoryBroker(),
		cache:  cache.NewMemoryCache(),
		events: broadcast.NewManager(16, time.Hour),
	}
	e.queue = queue.NewService(e.store, e.broker)
	seedKey(t, e.store, adminRawKey, mw.ScopeAdmin)
	seedKey(t, e.store, readRawKey, mw.ScopeRead)

	e.handler = api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(e.store),
		RateLimit: mw.NewRateLimit(e.cache, 1000),

		HealthHandler:    handler.NewHealthHandler(map[string]handler.Pinger{"database": e.store, "cache": e.cache}),
		EnqueueHandler:   handler.NewEnqueueHandler(e.queue),
		ReanalyzeHandler: handler.NewReanalyzeHandler(e.queue),
		GetJobHandler:    handler.NewGetJobHandler(e.store),
		StatusHandler:    handler.NewContentStatusHandler(e.store, e.cache),
		EventsHandler:    handler.NewEventsHandler(e.events),
		StuckJobsHandler: handler.NewStuckJobsHandler(e.store, time.Hour),
		CreateKeyHandler: handler.NewCreateKeyHandler(e.store),
	})
	return e
}

func (e *env) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+key)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var envl struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envl), w.Body.String())
	return envl.Data
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var envl struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envl), w.Body.String())
	return envl.Error.Code
}

// claim moves the only queued job to running the way a worker would.
func (e *env) claim(t *testing.T) *models.Job {
	t.Helper()
	job, err := e.queue.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

// ─── health ──────────────────────────────────────────────────────────────────

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func TestHealth(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, "GET", "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	data := decodeData[map[string]any](t, w)
	assert.Equal(t, "ok", data["status"])
}

func TestHealth_Degraded(t *testing.T) {
	h := handler.NewHealthHandler(map[string]handler.Pinger{"database": failingPinger{}})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "DEGRADED", errorCode(t, w))
}

// ─── POST /api/v1/jobs ───────────────────────────────────────────────────────

func TestEnqueue_Accepted(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, "POST", "/api/v1/jobs", adminRawKey, map[string]string{"source_url": sermonURL})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	job := decodeData[models.Job](t, w)
	assert.Equal(t, models.JobTypeTranscribe, job.Type)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, sermonURL, job.SourceURL)
	assert.Equal(t, "/api/v1/jobs/"+job.ID.String(), w.Header().Get("Location"))
	assert.Equal(t, 1, e.broker.Len())

	content, err := e.store.GetContent(context.Background(), job.ContentID)
	require.NoError(t, err)
	assert.Equal(t, models.ContentPending, content.Status)
}

func TestEnqueue_Validation(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing url", map[string]string{"type": "transcribe"}, http.StatusBadRequest},
		{"unknown type", map[string]string{"type": "translate", "source_url": sermonURL}, http.StatusBadRequest},
		{"bad content id", map[string]string{"source_url": sermonURL, "content_id": "nope"}, http.StatusBadRequest},
		{"reanalyze without target", map[string]string{"type": "reanalyze"}, http.StatusBadRequest},
		{"unknown content", map[string]string{"source_url": sermonURL, "content_id": uuid.NewString()}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, "POST", "/api/v1/jobs", adminRawKey, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
	assert.Equal(t, 0, e.broker.Len())
}

func TestEnqueue_BadContentIDReportsField(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, "POST", "/api/v1/jobs", adminRawKey, map[string]string{"source_url": sermonURL, "content_id": "nope"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var envl struct {
		Error struct {
			Code    string              `json:"code"`
			Details map[string][]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envl))
	assert.Equal(t, "INVALID_REQUEST", envl.Error.Code)
	assert.Equal(t, []string{"must be a valid UUID"}, envl.Error.Details["content_id"])
}

func TestEnqueue_InvalidJSON(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest("POST", "/api/v1/jobs", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+adminRawKey)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))
}

func TestEnqueue_ReadScopeForbidden(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, "POST", "/api/v1/jobs", readRawKey, map[string]string{"source_url": sermonURL})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// ─── POST /api/v1/content/{id}/reanalyze ─────────────────────────────────────

func TestReanalyze_RequiresTranscript(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, "POST", "/api/v1/jobs", adminRawKey, map[string]string{"source_url": sermonURL})
	job := decodeData[models.Job](t, w)

	w = e.do(t, "POST", "/api/v1/content/"+job.ContentID.String()+"/reanalyze", adminRawKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReanalyze_BadID(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, "POST", "/api/v1/content/not-a-uuid/reanalyze", adminRawKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReanalyze_Accepted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	text := "grace upon grace"
	contentID := uuid.New()
	now := time.Now()
	require.NoError(t, e.store.CreateContent(ctx, &models.Content{
		ID: contentID, SourceURL: sermonURL, Status: models.ContentCompleted,
		ProgressPercent: 100, TranscriptText: &text, CreatedAt: now, UpdatedAt: now,
	}))

	w := e.do(t, "POST", "/api/v1/content/"+contentID.String()+"/reanalyze", adminRawKey, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	job := decodeData[models.Job](t, w)
	assert.Equal(t, models.JobTypeReanalyze, job.Type)
	assert.Equal(t, contentID, job.ContentID)
}

// ─── GET /api/v1/jobs/{id} ───────────────────────────────────────────────────

func TestGetJob(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, "POST", "/api/v1/jobs", adminRawKey, map[string]string{"source_url": sermonURL})
	created := decodeData[models.Job](t, w)

	w = e.do(t, "GET", "/api/v1/jobs/"+created.ID.String(), readRawKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, decodeData[models.Job](t, w).ID)

	w = e.do(t, "GET", "/api/v1/jobs/"+uuid.NewString(), readRawKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))

	w = e.do(t, "GET", "/api/v1/jobs/123", readRawKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ─── GET /api/v1/content/{id}/status ─────────────────────────────────────────

func TestStatus_FallsBackToStore(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, "POST", "/api/v1/jobs", adminRawKey, map[string]string{"source_url": sermonURL})
	job := decodeData[models.Job](t, w)

	w = e.do(t, "GET", "/api/v1/content/"+job.ContentID.String()+"/status", readRawKey, nil)
	require.Equal(t, http.StatusOK, w.Code)

	snap := decodeData[models.StatusSnapshot](t, w)
	assert.Equal(t, models.ContentPending, snap.Status)
	assert.Equal(t, 0, snap.ProgressPercent)
	require.NotNil(t, snap.JobID)
	assert.Equal(t, job.ID, *snap.JobID)
	assert.Equal(t, models.JobStatusQueued, snap.JobStatus)
}

func TestStatus_PrefersSnapshot(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, "POST", "/api/v1/jobs", adminRawKey, map[string]string{"source_url": sermonURL})
	job := decodeData[models.Job](t, w)

	require.NoError(t, e.cache.SetStatusSnapshot(context.Background(), models.StatusSnapshot{
		ContentID:       job.ContentID,
		Status:          models.ContentTranscribed,
		ProgressPercent: 50,
		JobID:           &job.ID,
		JobStatus:       models.JobStatusRunning,
		UpdatedAt:       time.Now().UTC(),
	}, time.Minute))

	w = e.do(t, "GET", "/api/v1/content/"+job.ContentID.String()+"/status", readRawKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeData[models.StatusSnapshot](t, w)
	assert.Equal(t, models.ContentTranscribed, snap.Status)
	assert.Equal(t, 50, snap.ProgressPercent)
}

func TestStatus_UnknownContent(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, "GET", "/api/v1/content/"+uuid.NewString()+"/status", readRawKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ─── GET /api/v1/admin/jobs/stuck ────────────────────────────────────────────

func TestStuckJobs(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, "POST", "/api/v1/jobs", adminRawKey, map[string]string{"source_url": sermonURL})
	require.Equal(t, http.StatusAccepted, w.Code)
	running := e.claim(t)

	w = e.do(t, "GET", "/api/v1/admin/jobs/stuck", adminRawKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeData[[]models.Job](t, w))

	time.Sleep(5 * time.Millisecond)
	w = e.do(t, "GET", "/api/v1/admin/jobs/stuck?older_than=1ms", adminRawKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stuck := decodeData[[]models.Job](t, w)
	require.Len(t, stuck, 1)
	assert.Contains(t, w.Body.String(), `"meta":{"count":1,"filter":{"older_than":"1ms"}}`)
	assert.Equal(t, running.ID, stuck[0].ID)

	job, err := e.store.GetJob(context.Background(), running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status, "reporting must not change the job")
}

func TestStuckJobs_BadThreshold(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, "GET", "/api/v1/admin/jobs/stuck?older_than=soon", adminRawKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStuckJobs_RequiresAdmin(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, "GET", "/api/v1/admin/jobs/stuck", readRawKey, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// ─── POST /api/v1/admin/keys ─────────────────────────────────────────────────

func TestCreateKey_RoundTripAuthenticates(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, "POST", "/api/v1/admin/keys", adminRawKey, map[string]any{"name": "church-cms"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	created := decodeData[map[string]any](t, w)
	raw, _ := created["key"].(string)
	require.NotEmpty(t, raw)
	assert.NotContains(t, created, "key_hash")

	w = e.do(t, "POST", "/api/v1/jobs", raw, map[string]string{"source_url": sermonURL})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestCreateKey_Validation(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, "POST", "/api/v1/admin/keys", adminRawKey, map[string]any{"name": " "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, "POST", "/api/v1/admin/keys", adminRawKey, map[string]any{"name": "x", "scopes": []string{"root"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `unknown scope \"root\"`)
}

// ─── GET /api/v1/events ──────────────────────────────────────────────────────

func TestEvents_StreamsFilteredEvents(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.handler)
	t.Cleanup(srv.Close)

	wanted := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/v1/events?content_id="+wanted.String(), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+readRawKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return e.events.Len() == 1 }, time.Second, 5*time.Millisecond)

	e.events.Publish(models.StageEvent(uuid.New(), uuid.New(), models.ContentProcessing, 0, "other"))
	e.events.Publish(models.StageEvent(uuid.New(), wanted, models.ContentMetadataExtracted, 10, "mine"))

	scanner := bufio.NewScanner(resp.Body)
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "event: stage", lines[0])

	var ev models.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &ev))
	assert.Equal(t, wanted, ev.ContentID)
	assert.Equal(t, "mine", ev.Message)
	assert.Equal(t, 10, ev.Progress)

	cancel()
	require.Eventually(t, func() bool { return e.events.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestEvents_BadFilter(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, "GET", "/api/v1/events?content_id=xyz", readRawKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
