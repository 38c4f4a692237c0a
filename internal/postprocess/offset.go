// Package postprocess derives fields from extracted metadata and transcripts:
// the dated display title and the offset where the sermon itself begins.
package postprocess

import (
	"strings"
	"time"

	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// openingPhrases mark the usual start of the preaching portion of a service.
var openingPhrases = []string{
	"turn with me",
	"turn in your bibles",
	"open your bibles",
	"open your bible",
	"our text today",
	"our text this morning",
	"our scripture today",
	"today's scripture",
	"let's pray",
	"let us pray",
	"if you have your bibles",
	"please be seated",
}

// DetectStartOffset returns the start time, in seconds, of the first cue at or
// after floor whose text (joined with the next cue) contains an opening phrase.
// It returns 0 when nothing matches.
func DetectStartOffset(segments []models.Segment, floor time.Duration) float64 {
	floorSecs := floor.Seconds()
	for i, seg := range segments {
		if seg.Start < floorSecs {
			continue
		}
		text := seg.Text
		if i+1 < len(segments) {
			text += " " + segments[i+1].Text
		}
		if containsOpening(normalize(text)) {
			return seg.Start
		}
	}
	return 0
}

func containsOpening(text string) bool {
	for _, p := range openingPhrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("’", "'", ",", " ", ".", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
