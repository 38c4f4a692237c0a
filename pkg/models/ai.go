package models

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// AIProvider is the interface every analysis backend implements.
// The pipeline only ever sees this interface, never a concrete provider.
type AIProvider interface {
	// Analyze returns provider-defined annotations for a transcript as a JSON object.
	Analyze(ctx context.Context, req AnalysisRequest) (json.RawMessage, error)
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
}

// AnalysisRequest is the input to an analysis call.
type AnalysisRequest struct {
	ContentID          uuid.UUID
	Title              string
	Transcript         string
	Segments           []Segment
	StartOffsetSeconds float64
	DurationSeconds    int
}
