package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/sermonscribe/internal/ai/llm"
	"github.com/kiranshivaraju/sermonscribe/internal/config"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// Provider implements models.AIProvider using Ollama's generate endpoint.
type Provider struct {
	cfg        config.OllamaConfig
	client     *http.Client
	maxElapsed time.Duration
}

func NewProvider(cfg config.OllamaConfig, maxElapsed time.Duration) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{}, maxElapsed: maxElapsed}
}

func (p *Provider) Name() string { return "ollama" }

type generateRequest struct {
	Model  string `json:"model"`
	System string `json:"system"`
	Prompt string `json:"prompt"`
	Format string `json:"format"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (p *Provider) Analyze(ctx context.Context, req models.AnalysisRequest) (json.RawMessage, error) {
	body := generateRequest{
		Model:  p.cfg.Model,
		System: llm.SystemPrompt,
		Prompt: llm.UserPrompt(req),
		Format: "json",
	}
	var out generateResponse
	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/api/generate"
	if err := llm.PostJSON(ctx, p.client, url, nil, body, &out, p.maxElapsed); err != nil {
		return nil, err
	}
	return llm.ParseObject(out.Response)
}

var _ models.AIProvider = (*Provider)(nil)
