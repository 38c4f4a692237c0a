package transcript

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/sermonscribe/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAPITier(url string) *APITier {
	return NewAPITier(config.TranscriptAPIConfig{
		BaseURL:         url,
		APIKey:          "secret",
		Timeout:         2 * time.Second,
		RetryMaxElapsed: 3 * time.Second,
	})
}

func TestAPITier_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transcripts", r.URL.Path)
		assert.Equal(t, "https://youtu.be/abc", r.URL.Query().Get("url"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"segments":[{"start":0,"end":2,"text":"grace"},{"start":2,"end":4,"text":"and peace"}]}`))
	}))
	defer srv.Close()

	tr, err := newAPITier(srv.URL).Acquire(context.Background(), "https://youtu.be/abc")
	require.NoError(t, err)
	assert.Equal(t, "grace and peace", tr.Text)
	assert.Len(t, tr.Segments, 2)
}

func TestAPITier_NotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newAPITier(srv.URL).Acquire(context.Background(), "https://youtu.be/abc")
	assert.ErrorIs(t, err, ErrTranscriptUnavailable)
	assert.Equal(t, int32(1), hits.Load())
}

func TestAPITier_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"text":"grace and peace"}`))
	}))
	defer srv.Close()

	tr, err := newAPITier(srv.URL).Acquire(context.Background(), "https://youtu.be/abc")
	require.NoError(t, err)
	assert.Equal(t, "grace and peace", tr.Text)
	assert.Equal(t, int32(3), hits.Load())
}

func TestAPITier_ClientErrorIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newAPITier(srv.URL).Acquire(context.Background(), "https://youtu.be/abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), hits.Load())
}

func TestAPITier_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	tier := NewAPITier(config.TranscriptAPIConfig{BaseURL: url, Timeout: time.Second, RetryMaxElapsed: 500 * time.Millisecond})
	_, err := tier.Acquire(context.Background(), "https://youtu.be/abc")
	assert.ErrorIs(t, err, ErrTierUnreachable)
}

func TestAPITier_NotConfigured(t *testing.T) {
	_, err := newAPITier("").Acquire(context.Background(), "https://youtu.be/abc")
	assert.ErrorIs(t, err, ErrTranscriptUnavailable)
}
