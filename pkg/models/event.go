package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies broadcast events.
type EventKind string

const (
	EventKindStage     EventKind = "stage"
	EventKindError     EventKind = "error"
	EventKindHeartbeat EventKind = "heartbeat"
)

// Event is pushed to live subscribers. Events are best-effort; the jobs and
// content tables remain the source of truth.
type Event struct {
	Kind      EventKind     `json:"kind"`
	ContentID uuid.UUID     `json:"content_id,omitzero"`
	JobID     uuid.UUID     `json:"job_id,omitzero"`
	Status    ContentStatus `json:"status,omitempty"`
	Progress  int           `json:"progress_percent"`
	Stage     string        `json:"stage,omitempty"`
	Tier      Tier          `json:"tier,omitempty"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// StageEvent reports a persisted stage transition or an intermediate step.
func StageEvent(jobID, contentID uuid.UUID, status ContentStatus, progress int, message string) Event {
	return Event{
		Kind:      EventKindStage,
		ContentID: contentID,
		JobID:     jobID,
		Status:    status,
		Progress:  progress,
		Stage:     string(status),
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// ErrorEvent reports a failed stage.
func ErrorEvent(jobID, contentID uuid.UUID, status ContentStatus, progress int, stage, message string) Event {
	return Event{
		Kind:      EventKindError,
		ContentID: contentID,
		JobID:     jobID,
		Status:    status,
		Progress:  progress,
		Stage:     stage,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// HeartbeatEvent lets subscribers tell an idle stream from a dead one.
func HeartbeatEvent(now time.Time) Event {
	return Event{Kind: EventKindHeartbeat, Timestamp: now.UTC()}
}
