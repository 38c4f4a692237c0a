// Package ai produces the opaque annotations stored on a content record.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// maxTranscriptBytes bounds what is sent to a provider.
const maxTranscriptBytes = 120_000

// Annotations is the payload persisted to content.analysis_payload.
type Annotations struct {
	Provider    string          `json:"provider"`
	GeneratedAt time.Time       `json:"generated_at"`
	Truncated   bool            `json:"truncated,omitempty"`
	Result      json.RawMessage `json:"result"`
}

// AnalysisService wraps a provider with a deadline and input limits.
type AnalysisService struct {
	provider models.AIProvider
	timeout  time.Duration
}

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(provider models.AIProvider, timeout time.Duration) *AnalysisService {
	return &AnalysisService{provider: provider, timeout: timeout}
}

// Name reports the underlying provider.
func (s *AnalysisService) Name() string { return s.provider.Name() }

// Analyze calls the provider and wraps its result in an Annotations envelope.
func (s *AnalysisService) Analyze(ctx context.Context, req models.AnalysisRequest) (json.RawMessage, error) {
	truncated := len(req.Transcript) > maxTranscriptBytes
	req.Transcript = truncateString(req.Transcript, maxTranscriptBytes)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := s.provider.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}
	if !json.Valid(result) {
		return nil, fmt.Errorf("%w: provider %s returned malformed JSON", ErrInvalidResponse, s.provider.Name())
	}

	return json.Marshal(Annotations{
		Provider:    s.provider.Name(),
		GeneratedAt: time.Now().UTC(),
		Truncated:   truncated,
		Result:      result,
	})
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

var _ models.AIProvider = (*AnalysisService)(nil)
