// Package none is the offline provider. It records transcript statistics
// instead of calling a model so the pipeline can run without one.
package none

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

type Provider struct{}

func NewProvider() *Provider { return &Provider{} }

func (p *Provider) Name() string { return "none" }

type stats struct {
	WordCount     int     `json:"word_count"`
	SegmentCount  int     `json:"segment_count"`
	SermonSeconds float64 `json:"sermon_seconds,omitempty"`
}

func (p *Provider) Analyze(_ context.Context, req models.AnalysisRequest) (json.RawMessage, error) {
	s := stats{
		WordCount:    len(strings.Fields(req.Transcript)),
		SegmentCount: len(req.Segments),
	}
	if req.DurationSeconds > 0 {
		s.SermonSeconds = max(float64(req.DurationSeconds)-req.StartOffsetSeconds, 0)
	}
	return json.Marshal(s)
}

var _ models.AIProvider = (*Provider)(nil)
