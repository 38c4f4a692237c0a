package none

import (
	"context"
	"testing"

	"github.com/kiranshivaraju/sermonscribe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze(t *testing.T) {
	raw, err := NewProvider().Analyze(context.Background(), models.AnalysisRequest{
		Transcript:         "grace and peace to you",
		Segments:           []models.Segment{{Text: "grace and peace"}, {Text: "to you"}},
		DurationSeconds:    2700,
		StartOffsetSeconds: 300,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"word_count":5,"segment_count":2,"sermon_seconds":2400}`, string(raw))
}
