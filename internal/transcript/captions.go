package transcript

import (
	"context"
	"time"

	"github.com/kiranshivaraju/sermonscribe/internal/media"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// CaptionSource fetches published caption cues for a URL.
type CaptionSource interface {
	Captions(ctx context.Context, sourceURL string) ([]models.Segment, error)
}

// CaptionTier uses the source's own captions.
type CaptionTier struct {
	source  CaptionSource
	timeout time.Duration
}

func NewCaptionTier(source CaptionSource, timeout time.Duration) *CaptionTier {
	return &CaptionTier{source: source, timeout: timeout}
}

func (c *CaptionTier) Tier() models.Tier { return models.TierCaptions }

func (c *CaptionTier) Acquire(ctx context.Context, sourceURL string) (*Transcript, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	segments, err := c.source.Captions(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	return &Transcript{Text: media.JoinSegments(segments), Segments: segments}, nil
}
