package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// MemoryStore is an in-process Store used in standalone mode and tests. It
// applies the same conditional-write rules as PostgresStore.
type MemoryStore struct {
	mu      sync.Mutex
	keys    map[uuid.UUID]*models.APIKey
	jobs    map[uuid.UUID]*models.Job
	content map[uuid.UUID]*models.Content
	chunks  map[uuid.UUID][]models.ContentChunk
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:    make(map[uuid.UUID]*models.APIKey),
		jobs:    make(map[uuid.UUID]*models.Job),
		content: make(map[uuid.UUID]*models.Content),
		chunks:  make(map[uuid.UUID][]models.ContentChunk),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.keys[id]; ok {
		now := s.now()
		k.LastUsedAt = &now
		k.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.keys {
		if k.KeyHash == key.KeyHash {
			return ErrDuplicateKey
		}
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

// --- Jobs ---

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	if _, ok := s.content[job.ContentID]; !ok {
		return fmt.Errorf("create job: content %s: %w", job.ContentID, ErrNotFound)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateJobWithContent(_ context.Context, c *models.Content, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.content[c.ID]; ok {
		return ErrDuplicateKey
	}
	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	if job.ContentID != c.ID {
		return fmt.Errorf("create job: content %s: %w", job.ContentID, ErrNotFound)
	}
	s.content[c.ID] = cloneContent(c)
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) LatestJobForContent(_ context.Context, contentID uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.Job
	for _, j := range s.jobs {
		if j.ContentID != contentID {
			continue
		}
		if latest == nil || j.CreatedAt.After(latest.CreatedAt) {
			latest = j
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) MarkJobPushed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := s.now()
	j.PushedAt = &now
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) TransitionJob(_ context.Context, id uuid.UUID, from, to models.JobStatus, opts ...JobUpdateOption) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: job %s -> %s", models.ErrInvalidTransition, from, to)
	}

	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != from {
		return fmt.Errorf("%w: job %s is %s, expected %s", ErrStaleState, id, j.Status, from)
	}

	now := s.now()
	j.Status = to
	j.UpdatedAt = now
	if to == models.JobStatusRunning {
		j.StartedAt = &now
	}
	if to.Terminal() {
		j.CompletedAt = &now
	}
	if params.ErrorDetail != nil {
		msg := *params.ErrorDetail
		j.ErrorDetail = &msg
	}
	return nil
}

func (s *MemoryStore) ListUnpushedJobs(_ context.Context, createdBefore time.Time, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	jobs := s.filterJobs(func(j *models.Job) bool {
		return j.Status == models.JobStatusQueued && j.PushedAt == nil && j.CreatedAt.Before(createdBefore)
	})
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].CreatedAt.Before(jobs[b].CreatedAt) })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) ListStuckJobs(_ context.Context, startedBefore time.Time) ([]*models.Job, error) {
	jobs := s.filterJobs(func(j *models.Job) bool {
		return j.Status == models.JobStatusRunning && j.StartedAt != nil && j.StartedAt.Before(startedBefore)
	})
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].StartedAt.Before(*jobs[b].StartedAt) })
	return jobs, nil
}

func (s *MemoryStore) filterJobs(keep func(*models.Job) bool) []*models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.Job{}
	for _, j := range s.jobs {
		if keep(j) {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out
}

// --- Content ---

func (s *MemoryStore) CreateContent(_ context.Context, c *models.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.content[c.ID]; ok {
		return ErrDuplicateKey
	}
	s.content[c.ID] = cloneContent(c)
	return nil
}

func (s *MemoryStore) GetContent(_ context.Context, id uuid.UUID) (*models.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.content[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneContent(c), nil
}

func (s *MemoryStore) BeginContentRun(_ context.Context, jobID, contentID uuid.UUID, jobType models.JobType) (*models.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRunning(jobID); err != nil {
		return nil, err
	}
	c, ok := s.content[contentID]
	if !ok {
		return nil, ErrNotFound
	}
	if !c.Status.CanBeginRun(jobType) {
		return nil, fmt.Errorf("%w: cannot begin %s run from %s", models.ErrInvalidTransition, jobType, c.Status)
	}
	for id, j := range s.jobs {
		if id != jobID && j.ContentID == contentID && j.Status == models.JobStatusRunning {
			return nil, fmt.Errorf("%w: content %s has another running job", ErrStaleState, contentID)
		}
	}

	c.Status = models.RunStart(jobType)
	c.ProgressPercent, _ = c.Status.Progress()
	c.UpdatedAt = s.now()
	return cloneContent(c), nil
}

func (s *MemoryStore) AdvanceContent(_ context.Context, jobID, contentID uuid.UUID, from, to models.ContentStatus, patch ContentPatch) error {
	if err := from.ValidateAdvance(to); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRunning(jobID); err != nil {
		return err
	}
	c, ok := s.content[contentID]
	if !ok {
		return ErrNotFound
	}
	if c.Status != from {
		return fmt.Errorf("%w: content %s is not at %s", ErrStaleState, contentID, from)
	}

	c.Status = to
	if p, ok := to.Progress(); ok && p > c.ProgressPercent {
		c.ProgressPercent = p
	}
	if patch.Title != nil {
		c.Title = *patch.Title
	}
	if patch.DurationSeconds != nil {
		d := *patch.DurationSeconds
		c.DurationSeconds = &d
	}
	if patch.PublishedAt != nil {
		t := *patch.PublishedAt
		c.PublishedAt = &t
	}
	if patch.TranscriptText != nil {
		text := *patch.TranscriptText
		c.TranscriptText = &text
	}
	if patch.TranscriptSegments != nil {
		c.TranscriptSegments = slices.Clone(patch.TranscriptSegments)
	}
	if patch.TranscriptTier != nil {
		tier := *patch.TranscriptTier
		c.TranscriptTier = &tier
	}
	if patch.StartOffsetSeconds != nil {
		off := *patch.StartOffsetSeconds
		c.StartOffsetSeconds = &off
	}
	if patch.AnalysisPayload != nil {
		c.AnalysisPayload = slices.Clone(patch.AnalysisPayload)
	}
	c.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) UpdateProgress(_ context.Context, jobID, contentID uuid.UUID, percent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRunning(jobID); err != nil {
		return err
	}
	c, ok := s.content[contentID]
	if !ok {
		return ErrNotFound
	}
	if percent > c.ProgressPercent {
		c.ProgressPercent = percent
		c.UpdatedAt = s.now()
	}
	return nil
}

func (s *MemoryStore) ReplaceChunks(_ context.Context, contentID uuid.UUID, chunks []models.ContentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.content[contentID]; !ok {
		return ErrNotFound
	}
	s.chunks[contentID] = slices.Clone(chunks)
	return nil
}

// Chunks returns the indexed chunks for a content record.
func (s *MemoryStore) Chunks(contentID uuid.UUID) []models.ContentChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.chunks[contentID])
}

// requireRunning must be called with s.mu held.
func (s *MemoryStore) requireRunning(jobID uuid.UUID) error {
	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if j.Status != models.JobStatusRunning {
		return fmt.Errorf("%w: job %s is %s, expected running", ErrStaleState, jobID, j.Status)
	}
	return nil
}

func cloneContent(c *models.Content) *models.Content {
	cp := *c
	cp.TranscriptSegments = slices.Clone(c.TranscriptSegments)
	cp.AnalysisPayload = slices.Clone(c.AnalysisPayload)
	return &cp
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
