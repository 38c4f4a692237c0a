package pipeline

import "fmt"

// Stage names used in error_detail and error events.
const (
	StageBegin         = "begin"
	StageMetadata      = "metadata"
	StageDuration      = "duration"
	StageTranscription = "transcription"
	StageStartOffset   = "start_offset"
	StageAnalysis      = "analysis"
	StageIndexing      = "indexing"
	StageCompletion    = "completion"
)

// StageError names the stage a job failed in. Its text is what lands in
// jobs.error_detail.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
