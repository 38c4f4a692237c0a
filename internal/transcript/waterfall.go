package transcript

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// Result is the winning transcript and the tier that produced it.
type Result struct {
	Transcript *Transcript
	Tier       models.Tier
}

// AttemptFunc is called before each tier runs, with the 1-based attempt number.
type AttemptFunc func(tier models.Tier, attempt, total int)

// Waterfall tries captions, then the transcript API, then local speech-to-text.
type Waterfall struct {
	tiers []Acquirer
}

// NewWaterfall requires exactly one acquirer per tier, in tier order.
func NewWaterfall(tiers ...Acquirer) (*Waterfall, error) {
	if len(tiers) != models.TierCount {
		return nil, fmt.Errorf("waterfall needs %d tiers, got %d", models.TierCount, len(tiers))
	}
	for i, t := range tiers {
		if want := models.Tier(i + 1); t.Tier() != want {
			return nil, fmt.Errorf("waterfall position %d holds %s, want %s", i+1, t.Tier(), want)
		}
	}
	return &Waterfall{tiers: tiers}, nil
}

// Acquire runs the tiers in order and returns the first non-empty transcript.
// Tier errors are not fatal; only exhaustion returns an error, always a *Failure.
func (w *Waterfall) Acquire(ctx context.Context, sourceURL string, onAttempt AttemptFunc) (*Result, error) {
	failure := &Failure{}
	total := len(w.tiers)

	for i, t := range w.tiers {
		tier := t.Tier()
		if onAttempt != nil {
			onAttempt(tier, i+1, total)
		}

		tr, err := t.Acquire(ctx, sourceURL)
		if err == nil && tr.empty() {
			err = ErrEmptyTranscript
		}
		if err != nil {
			slog.Info("transcription tier failed", "tier", tier.String(), "url", sourceURL, "error", err)
			failure.Attempts = append(failure.Attempts, Attempt{Tier: tier, Err: err})
			continue
		}

		slog.Info("transcription tier succeeded", "tier", tier.String(), "url", sourceURL, "segments", len(tr.Segments))
		return &Result{Transcript: tr, Tier: tier}, nil
	}
	return nil, failure
}
