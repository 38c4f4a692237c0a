package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/sermonscribe/internal/queue"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciler_RepushesUnpushedJobs(t *testing.T) {
	svc, s, b := newService(t)
	ctx := context.Background()

	b.failPush = true
	job, err := svc.Enqueue(ctx, queue.Descriptor{Type: models.JobTypeTranscribe, SourceURL: "https://youtu.be/abc"})
	require.NoError(t, err)
	b.failPush = false

	// A negative threshold makes the freshly created job overdue.
	r := queue.NewReconciler(s, b, time.Minute, -time.Second, time.Hour)
	assert.Equal(t, 1, r.Sweep(ctx))
	assert.Equal(t, 1, b.Len())

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.PushedAt)

	// Second sweep finds nothing left to push.
	assert.Equal(t, 0, r.Sweep(ctx))

	got, err := svc.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
}

func TestReconciler_LeavesRecentJobsAlone(t *testing.T) {
	svc, s, b := newService(t)
	ctx := context.Background()

	b.failPush = true
	_, err := svc.Enqueue(ctx, queue.Descriptor{Type: models.JobTypeTranscribe, SourceURL: "https://youtu.be/abc"})
	require.NoError(t, err)
	b.failPush = false

	r := queue.NewReconciler(s, b, time.Minute, time.Hour, time.Hour)
	assert.Equal(t, 0, r.Sweep(ctx))
	assert.Equal(t, 0, b.Len())
}

func TestReconciler_RunStopsOnCancel(t *testing.T) {
	_, s, b := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	r := queue.NewReconciler(s, b, 5*time.Millisecond, time.Minute, time.Hour)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
