package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/sermonscribe/internal/config"
	"github.com/kiranshivaraju/sermonscribe/internal/media"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// APITier asks a public transcript service for an existing transcript.
type APITier struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	maxElapsed time.Duration
}

func NewAPITier(cfg config.TranscriptAPIConfig) *APITier {
	maxElapsed := cfg.RetryMaxElapsed
	if maxElapsed <= 0 {
		// Zero would make backoff retry forever.
		maxElapsed = 45 * time.Second
	}
	return &APITier{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		client:     &http.Client{Timeout: cfg.Timeout},
		maxElapsed: maxElapsed,
	}
}

func (a *APITier) Tier() models.Tier { return models.TierTranscriptAPI }

type apiTranscriptResponse struct {
	Text     string           `json:"text"`
	Segments []models.Segment `json:"segments"`
}

// Acquire retries server errors and transport failures with exponential
// backoff. A 404 or any other 4xx stops immediately.
func (a *APITier) Acquire(ctx context.Context, sourceURL string) (*Transcript, error) {
	if a.baseURL == "" {
		return nil, fmt.Errorf("%w: transcript API not configured", ErrTranscriptUnavailable)
	}

	u := fmt.Sprintf("%s/v1/transcripts?url=%s", a.baseURL, url.QueryEscape(sourceURL))

	var out apiTranscriptResponse
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("building request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if a.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+a.apiKey)
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return classifyError(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrTranscriptUnavailable)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: status %d", ErrTierUnreachable, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("transcript API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
		}

		out = apiTranscriptResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding transcript response: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = a.maxElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(out.Text)
	if text == "" {
		text = media.JoinSegments(out.Segments)
	}
	return &Transcript{Text: text, Segments: out.Segments}, nil
}

// classifyError maps transport errors onto this package's sentinels.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return backoff.Permanent(fmt.Errorf("%w: %v", ErrTierTimeout, err))
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTierTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrTierUnreachable, err)
}
