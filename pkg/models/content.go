// Package models contains the records and enums shared by the pipeline, the store, and the API.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned for any status write that is not a valid forward edge.
var ErrInvalidTransition = errors.New("invalid status transition")

// ContentStatus records the furthest stage a Content record has successfully reached.
type ContentStatus string

const (
	ContentPending             ContentStatus = "pending"
	ContentProcessing          ContentStatus = "processing"
	ContentMetadataExtracted   ContentStatus = "metadata_extracted"
	ContentDurationValidated   ContentStatus = "duration_validated"
	ContentTranscribed         ContentStatus = "transcribed"
	ContentStartOffsetDetected ContentStatus = "start_offset_detected"
	ContentAnalyzed            ContentStatus = "analyzed"
	ContentIndexed             ContentStatus = "indexed"
	ContentCompleted           ContentStatus = "completed"
	ContentRejectedTooShort    ContentStatus = "rejected_too_short"
	ContentRejectedTooLong     ContentStatus = "rejected_too_long"
	ContentFailed              ContentStatus = "failed"
)

// contentTransitions is the forward-edge table within a single run. Only the
// indexed stage may reach completed.
var contentTransitions = map[ContentStatus][]ContentStatus{
	ContentPending:             {ContentProcessing},
	ContentProcessing:          {ContentMetadataExtracted, ContentFailed},
	ContentMetadataExtracted:   {ContentDurationValidated, ContentRejectedTooShort, ContentRejectedTooLong},
	ContentDurationValidated:   {ContentTranscribed, ContentFailed},
	ContentTranscribed:         {ContentStartOffsetDetected},
	ContentStartOffsetDetected: {ContentAnalyzed},
	ContentAnalyzed:            {ContentIndexed},
	ContentIndexed:             {ContentCompleted},
}

var stageProgress = map[ContentStatus]int{
	ContentPending:             0,
	ContentProcessing:          0,
	ContentMetadataExtracted:   10,
	ContentDurationValidated:   20,
	ContentTranscribed:         50,
	ContentStartOffsetDetected: 60,
	ContentAnalyzed:            70,
	ContentIndexed:             90,
	ContentCompleted:           100,
	ContentRejectedTooShort:    100,
	ContentRejectedTooLong:     100,
}

// Progress ranges reserved for the transcription waterfall.
const (
	TranscriptionProgressStart = 30
	TranscriptionProgressEnd   = 50
)

// CanAdvance reports whether to is a valid forward edge from s.
func (s ContentStatus) CanAdvance(to ContentStatus) bool {
	for _, allowed := range contentTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateAdvance returns ErrInvalidTransition when to is not reachable from s.
func (s ContentStatus) ValidateAdvance(to ContentStatus) error {
	if !s.CanAdvance(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
	}
	return nil
}

// Progress returns the progress marker for s. Statuses without a fixed marker
// (failed) report false and leave the stored progress untouched.
func (s ContentStatus) Progress() (int, bool) {
	p, ok := stageProgress[s]
	return p, ok
}

// HasTranscript reports whether a record at s carries a usable transcript.
func (s ContentStatus) HasTranscript() bool {
	switch s {
	case ContentTranscribed, ContentStartOffsetDetected, ContentAnalyzed, ContentIndexed, ContentCompleted:
		return true
	}
	return false
}

// RunStart returns the status a new run of jobType begins from.
func RunStart(jobType JobType) ContentStatus {
	if jobType == JobTypeReanalyze {
		return ContentTranscribed
	}
	return ContentProcessing
}

// CanBeginRun reports whether a record at s may start a new run of jobType.
// Transcription can always restart; reanalysis needs an existing transcript.
func (s ContentStatus) CanBeginRun(jobType JobType) bool {
	switch jobType {
	case JobTypeTranscribe:
		return true
	case JobTypeReanalyze:
		return s.HasTranscript()
	}
	return false
}

// Tier identifies which transcription strategy produced a transcript.
type Tier int

const (
	TierCaptions      Tier = 1
	TierTranscriptAPI Tier = 2
	TierLocalSTT      Tier = 3
)

// TierCount is the number of tiers in the waterfall.
const TierCount = 3

func (t Tier) String() string {
	switch t {
	case TierCaptions:
		return "captions"
	case TierTranscriptAPI:
		return "transcript_api"
	case TierLocalSTT:
		return "local_stt"
	}
	return fmt.Sprintf("tier_%d", int(t))
}

// Segment is one timed cue of a transcript.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Content is a recording being transcribed and analyzed.
type Content struct {
	ID                 uuid.UUID       `db:"id"                   json:"id"`
	SourceURL          string          `db:"source_url"           json:"source_url"`
	Title              string          `db:"title"                json:"title"`
	DurationSeconds    *int            `db:"duration_seconds"     json:"duration_seconds,omitempty"`
	PublishedAt        *time.Time      `db:"published_at"         json:"published_at,omitempty"`
	Status             ContentStatus   `db:"status"               json:"status"`
	ProgressPercent    int             `db:"progress_percent"     json:"progress_percent"`
	TranscriptText     *string         `db:"transcript_text"      json:"transcript_text,omitempty"`
	TranscriptSegments []Segment       `db:"transcript_segments"  json:"transcript_segments,omitempty"`
	TranscriptTier     *Tier           `db:"transcript_tier"      json:"transcript_tier,omitempty"`
	StartOffsetSeconds *float64        `db:"start_offset_seconds" json:"start_offset_seconds,omitempty"`
	AnalysisPayload    json.RawMessage `db:"analysis_payload"     json:"analysis_payload,omitempty"`
	CreatedAt          time.Time       `db:"created_at"           json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"           json:"updated_at"`
}

// ContentChunk is one indexed passage of a transcript.
type ContentChunk struct {
	ContentID uuid.UUID `db:"content_id" json:"content_id"`
	Seq       int       `db:"seq"        json:"seq"`
	Body      string    `db:"body"       json:"body"`
}

// StatusSnapshot is the answer to a status query for one Content record.
type StatusSnapshot struct {
	ContentID       uuid.UUID     `json:"content_id"`
	Status          ContentStatus `json:"status"`
	ProgressPercent int           `json:"progress_percent"`
	JobID           *uuid.UUID    `json:"job_id,omitempty"`
	JobStatus       JobStatus     `json:"job_status,omitempty"`
	ErrorDetail     *string       `json:"error_detail,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}
