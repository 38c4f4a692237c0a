// Package llm holds the HTTP plumbing and prompt shared by the LLM-backed providers.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
)

// PostJSON sends body to url and decodes the response into out. Transport
// errors and 5xx responses are retried with exponential backoff until
// maxElapsed; other non-2xx responses fail at once.
func PostJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any, maxElapsed time.Duration) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("building request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return classifyError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, strings.TrimSpace(string(msg))))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrInvalidResponse, err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	if maxElapsed > 0 {
		bo.MaxElapsedTime = maxElapsed
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ErrInferenceTimeout) {
			return fmt.Errorf("%w: %v", ErrInferenceTimeout, ctxErr)
		}
		return err
	}
	return nil
}

// classifyError maps transport errors onto the provider sentinels.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return backoff.Permanent(fmt.Errorf("%w: %v", ErrInferenceTimeout, err))
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// ParseObject validates that raw is a single JSON object and returns it compacted.
func ParseObject(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	// Some models wrap JSON in a markdown fence.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("%w: expected a JSON object: %v", ErrInvalidResponse, err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return buf.Bytes(), nil
}

const SystemPrompt = `You annotate sermon transcripts. Reply with one JSON object only, using these keys:
"summary" (string, at most 3 sentences), "themes" (array of short strings),
"scripture_references" (array of strings such as "John 3:16"), "key_quotes" (array of strings
taken verbatim from the transcript).`

// UserPrompt renders the request into the user message.
func UserPrompt(req models.AnalysisRequest) string {
	var b strings.Builder
	if req.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", req.Title)
	}
	if req.DurationSeconds > 0 {
		fmt.Fprintf(&b, "Recording length: %d minutes\n", req.DurationSeconds/60)
	}
	if req.StartOffsetSeconds > 0 {
		fmt.Fprintf(&b, "The sermon begins about %d seconds into the recording.\n", int(req.StartOffsetSeconds))
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(req.Transcript)
	return b.String()
}
