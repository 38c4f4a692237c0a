package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/sermonscribe/internal/ai/llm"
	"github.com/kiranshivaraju/sermonscribe/internal/config"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// Provider implements models.AIProvider using the chat completions API.
type Provider struct {
	cfg        config.OpenAIConfig
	client     *http.Client
	maxElapsed time.Duration
}

func NewProvider(cfg config.OpenAIConfig, maxElapsed time.Duration) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{}, maxElapsed: maxElapsed}
}

func (p *Provider) Name() string { return "openai" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []message         `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
	Temperature    float64           `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

func (p *Provider) Analyze(ctx context.Context, req models.AnalysisRequest) (json.RawMessage, error) {
	body := chatRequest{
		Model: p.cfg.Model,
		Messages: []message{
			{Role: "system", Content: llm.SystemPrompt},
			{Role: "user", Content: llm.UserPrompt(req)},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
		Temperature:    0.2,
	}
	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}

	var out chatResponse
	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/chat/completions"
	if err := llm.PostJSON(ctx, p.client, url, headers, body, &out, p.maxElapsed); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", llm.ErrInvalidResponse)
	}
	return llm.ParseObject(out.Choices[0].Message.Content)
}

var _ models.AIProvider = (*Provider)(nil)
