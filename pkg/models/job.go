package models

import (
	"time"

	"github.com/google/uuid"
)

// JobType selects which stages a job runs.
type JobType string

const (
	// JobTypeTranscribe runs every stage from metadata extraction onward.
	JobTypeTranscribe JobType = "transcribe"
	// JobTypeReanalyze reuses the stored transcript and re-runs the derived stages.
	JobTypeReanalyze JobType = "reanalyze"
)

func (t JobType) Valid() bool {
	return t == JobTypeTranscribe || t == JobTypeReanalyze
}

// JobStatus is the lifecycle state of a queued unit of work.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:  {JobStatusRunning},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed},
}

// CanTransition reports whether to is a valid forward edge from s.
func (s JobStatus) CanTransition(to JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s can never change again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is a unit of pipeline work referencing one Content record. It is created
// by a producer at enqueue time and mutated only by the runner that dequeued it.
type Job struct {
	ID          uuid.UUID  `db:"id"           json:"id"`
	Type        JobType    `db:"type"         json:"type"`
	ContentID   uuid.UUID  `db:"content_id"   json:"content_id"`
	SourceURL   string     `db:"source_url"   json:"source_url"`
	Status      JobStatus  `db:"status"       json:"status"`
	ErrorDetail *string    `db:"error_detail" json:"error_detail,omitempty"`
	PushedAt    *time.Time `db:"pushed_at"    json:"pushed_at,omitempty"`
	StartedAt   *time.Time `db:"started_at"   json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
}
