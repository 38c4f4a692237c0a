package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/sermonscribe/internal/api"
	mw "github.com/kiranshivaraju/sermonscribe/internal/api/middleware"
	"github.com/kiranshivaraju/sermonscribe/internal/cache"
	"github.com/kiranshivaraju/sermonscribe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const readKey = "ss_read_0123456789abcdef"

func ok(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"data":"ok"}`))
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	st := store.NewMemoryStore()

	key, err := mw.HashKey("reader", readKey, []string{mw.ScopeRead})
	require.NoError(t, err)
	hash, err := bcrypt.GenerateFromPassword([]byte(readKey), bcrypt.MinCost)
	require.NoError(t, err)
	key.KeyHash = string(hash)
	require.NoError(t, st.CreateAPIKey(context.Background(), key))

	return api.NewRouter(api.Dependencies{
		Auth:          mw.NewAuth(st),
		RateLimit:     mw.NewRateLimit(cache.NewMemoryCache(), 60),
		HealthHandler: ok,
		GetJobHandler: ok,
		StatusHandler: ok,
	})
}

func TestRouter_HealthEndpoint_Public(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	router := newTestRouter(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/jobs"},
		{"GET", "/api/v1/jobs/5f0c8a52-5c55-4f55-9a51-6a1f8f0d7c11"},
		{"POST", "/api/v1/content/5f0c8a52-5c55-4f55-9a51-6a1f8f0d7c11/reanalyze"},
		{"GET", "/api/v1/content/5f0c8a52-5c55-4f55-9a51-6a1f8f0d7c11/status"},
		{"GET", "/api/v1/events"},
		{"GET", "/api/v1/admin/jobs/stuck"},
		{"POST", "/api/v1/admin/keys"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "INVALID_TOKEN", errObj["code"])
		})
	}
}

func TestRouter_ScopesAreEnforced(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{"GET", "/api/v1/content/5f0c8a52-5c55-4f55-9a51-6a1f8f0d7c11/status", http.StatusOK},
		{"GET", "/api/v1/jobs/5f0c8a52-5c55-4f55-9a51-6a1f8f0d7c11", http.StatusOK},
		{"POST", "/api/v1/jobs", http.StatusForbidden},
		{"GET", "/api/v1/admin/jobs/stuck", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Authorization", "Bearer "+readKey)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRouter_UnwiredHandlerIsNotImplemented(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/events", nil)
	req.Header.Set("Authorization", "Bearer "+readKey)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
