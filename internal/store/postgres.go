package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id, type, content_id, source_url, status, error_detail, pushed_at, started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.Type, &j.ContentID, &j.SourceURL, &j.Status, &j.ErrorDetail,
		&j.PushedAt, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	return insertJob(ctx, s.pool, job)
}

// CreateJobWithContent inserts a new content record and its first job in one
// transaction, so a failed job insert leaves no orphan content behind.
func (s *PostgresStore) CreateJobWithContent(ctx context.Context, c *models.Content, job *models.Job) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertContent(ctx, tx, c); err != nil {
		return err
	}
	if err := insertJob(ctx, tx, job); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertJob(ctx context.Context, db execer, job *models.Job) error {
	_, err := db.Exec(ctx,
		`INSERT INTO jobs (id, type, content_id, source_url, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.Type, job.ContentID, job.SourceURL, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) LatestJobForContent(ctx context.Context, contentID uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE content_id = $1 ORDER BY created_at DESC LIMIT 1`, contentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest job for content: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) MarkJobPushed(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET pushed_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark job pushed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) TransitionJob(ctx context.Context, id uuid.UUID, from, to models.JobStatus, opts ...JobUpdateOption) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: job %s -> %s", models.ErrInvalidTransition, from, to)
	}

	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = $3, updated_at = $4`
	args := []any{id, from, to, now}
	argIdx := 5

	if to == models.JobStatusRunning {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if to.Terminal() {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ErrorDetail != nil {
		query += fmt.Sprintf(", error_detail = $%d", argIdx)
		args = append(args, *params.ErrorDetail)
		argIdx++
	}

	query += " WHERE id = $1 AND status = $2"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current models.JobStatus
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	return fmt.Errorf("%w: job %s is %s, expected %s", ErrStaleState, id, current, from)
}

func (s *PostgresStore) ListUnpushedJobs(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.listJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = 'queued' AND pushed_at IS NULL AND created_at < $1
		 ORDER BY created_at ASC LIMIT $2`, createdBefore, limit)
}

func (s *PostgresStore) ListStuckJobs(ctx context.Context, startedBefore time.Time) ([]*models.Job, error) {
	return s.listJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = 'running' AND started_at < $1
		 ORDER BY started_at ASC`, startedBefore)
}

func (s *PostgresStore) listJobs(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// --- Content ---

const contentColumns = `id, source_url, title, duration_seconds, published_at, status, progress_percent,
	transcript_text, transcript_segments, transcript_tier, start_offset_seconds, analysis_payload,
	created_at, updated_at`

func scanContent(row pgx.Row) (*models.Content, error) {
	var (
		c        models.Content
		segments []byte
		payload  []byte
	)
	err := row.Scan(&c.ID, &c.SourceURL, &c.Title, &c.DurationSeconds, &c.PublishedAt, &c.Status,
		&c.ProgressPercent, &c.TranscriptText, &segments, &c.TranscriptTier, &c.StartOffsetSeconds,
		&payload, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(segments) > 0 {
		if err := json.Unmarshal(segments, &c.TranscriptSegments); err != nil {
			return nil, fmt.Errorf("decode transcript segments: %w", err)
		}
	}
	if len(payload) > 0 {
		c.AnalysisPayload = json.RawMessage(payload)
	}
	return &c, nil
}

func (s *PostgresStore) CreateContent(ctx context.Context, c *models.Content) error {
	return insertContent(ctx, s.pool, c)
}

func insertContent(ctx context.Context, db execer, c *models.Content) error {
	_, err := db.Exec(ctx,
		`INSERT INTO content (id, source_url, title, status, progress_percent, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.SourceURL, c.Title, c.Status, c.ProgressPercent, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create content: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetContent(ctx context.Context, id uuid.UUID) (*models.Content, error) {
	c, err := scanContent(s.pool.QueryRow(ctx,
		`SELECT `+contentColumns+` FROM content WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get content: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) BeginContentRun(ctx context.Context, jobID, contentID uuid.UUID, jobType models.JobType) (*models.Content, error) {
	var out *models.Content
	err := s.inRunningJob(ctx, jobID, func(tx pgx.Tx) error {
		var current models.ContentStatus
		err := tx.QueryRow(ctx, `SELECT status FROM content WHERE id = $1 FOR UPDATE`, contentID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock content: %w", err)
		}
		if !current.CanBeginRun(jobType) {
			return fmt.Errorf("%w: cannot begin %s run from %s", models.ErrInvalidTransition, jobType, current)
		}

		var busy bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM jobs WHERE content_id = $1 AND status = 'running' AND id <> $2)`,
			contentID, jobID).Scan(&busy)
		if err != nil {
			return fmt.Errorf("check concurrent runs: %w", err)
		}
		if busy {
			return fmt.Errorf("%w: content %s has another running job", ErrStaleState, contentID)
		}

		start := models.RunStart(jobType)
		progress, _ := start.Progress()
		c, err := scanContent(tx.QueryRow(ctx,
			`UPDATE content SET status = $2, progress_percent = $3, updated_at = NOW()
			 WHERE id = $1 RETURNING `+contentColumns, contentID, start, progress))
		if err != nil {
			return fmt.Errorf("begin content run: %w", err)
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) AdvanceContent(ctx context.Context, jobID, contentID uuid.UUID, from, to models.ContentStatus, patch ContentPatch) error {
	if err := from.ValidateAdvance(to); err != nil {
		return err
	}

	return s.inRunningJob(ctx, jobID, func(tx pgx.Tx) error {
		query := `UPDATE content SET status = $3, updated_at = NOW()`
		args := []any{contentID, from, to}
		argIdx := 4

		set := func(column string, v any) {
			query += fmt.Sprintf(", %s = $%d", column, argIdx)
			args = append(args, v)
			argIdx++
		}

		if p, ok := to.Progress(); ok {
			query += fmt.Sprintf(", progress_percent = GREATEST(progress_percent, $%d)", argIdx)
			args = append(args, p)
			argIdx++
		}
		if patch.Title != nil {
			set("title", *patch.Title)
		}
		if patch.DurationSeconds != nil {
			set("duration_seconds", *patch.DurationSeconds)
		}
		if patch.PublishedAt != nil {
			set("published_at", *patch.PublishedAt)
		}
		if patch.TranscriptText != nil {
			set("transcript_text", *patch.TranscriptText)
		}
		if patch.TranscriptSegments != nil {
			b, err := json.Marshal(patch.TranscriptSegments)
			if err != nil {
				return fmt.Errorf("encode transcript segments: %w", err)
			}
			set("transcript_segments", b)
		}
		if patch.TranscriptTier != nil {
			set("transcript_tier", int(*patch.TranscriptTier))
		}
		if patch.StartOffsetSeconds != nil {
			set("start_offset_seconds", *patch.StartOffsetSeconds)
		}
		if patch.AnalysisPayload != nil {
			set("analysis_payload", []byte(patch.AnalysisPayload))
		}

		query += " WHERE id = $1 AND status = $2"

		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("advance content: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: content %s is not at %s", ErrStaleState, contentID, from)
		}
		return nil
	})
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, jobID, contentID uuid.UUID, percent int) error {
	return s.inRunningJob(ctx, jobID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE content SET progress_percent = GREATEST(progress_percent, $2), updated_at = NOW() WHERE id = $1`,
			contentID, percent)
		if err != nil {
			return fmt.Errorf("update progress: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *PostgresStore) ReplaceChunks(ctx context.Context, contentID uuid.UUID, chunks []models.ContentChunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM content_chunks WHERE content_id = $1`, contentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	if len(chunks) > 0 {
		rows := make([][]any, 0, len(chunks))
		for _, c := range chunks {
			rows = append(rows, []any{contentID, c.Seq, c.Body})
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"content_chunks"},
			[]string{"content_id", "seq", "body"}, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy chunks: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	return nil
}

// inRunningJob runs fn in a transaction that holds a row lock on the job and
// only proceeds while the job is running.
func (s *PostgresStore) inRunningJob(ctx context.Context, jobID uuid.UUID, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status models.JobStatus
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock job: %w", err)
	}
	if status != models.JobStatusRunning {
		return fmt.Errorf("%w: job %s is %s, expected running", ErrStaleState, jobID, status)
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
