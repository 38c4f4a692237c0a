// Package transcript acquires a transcript for a recording by trying a fixed
// sequence of strategies (tiers) until one yields usable text.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

var (
	// ErrTranscriptUnavailable means the tier answered but has nothing for this source.
	ErrTranscriptUnavailable = errors.New("transcript unavailable")
	// ErrEmptyTranscript means a tier returned a transcript with no text.
	ErrEmptyTranscript = errors.New("empty transcript")
	// ErrTierUnreachable means the tier's backend could not be contacted.
	ErrTierUnreachable = errors.New("transcript backend unreachable")
	// ErrTierTimeout means the tier ran past its deadline.
	ErrTierTimeout = errors.New("transcript tier timed out")
)

// Transcript is the text and cues produced by one tier.
type Transcript struct {
	Text     string
	Segments []models.Segment
}

func (t *Transcript) empty() bool {
	return t == nil || strings.TrimSpace(t.Text) == ""
}

// Acquirer is one tier of the waterfall.
type Acquirer interface {
	Tier() models.Tier
	Acquire(ctx context.Context, sourceURL string) (*Transcript, error)
}

// Attempt records one tier's failure.
type Attempt struct {
	Tier models.Tier
	Err  error
}

// Failure is returned when every tier failed. It carries each tier's cause.
type Failure struct {
	Attempts []Attempt
}

func (f *Failure) Error() string {
	parts := make([]string, 0, len(f.Attempts))
	for _, a := range f.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Tier, a.Err))
	}
	return "all transcription tiers failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes every tier's cause for errors.Is / errors.As.
func (f *Failure) Unwrap() []error {
	errs := make([]error, 0, len(f.Attempts))
	for _, a := range f.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}
