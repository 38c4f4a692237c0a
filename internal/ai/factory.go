package ai

import (
	"fmt"

	"github.com/kiranshivaraju/sermonscribe/internal/ai/none"
	"github.com/kiranshivaraju/sermonscribe/internal/ai/ollama"
	"github.com/kiranshivaraju/sermonscribe/internal/ai/openai"
	"github.com/kiranshivaraju/sermonscribe/internal/config"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// NewProvider constructs the appropriate AI provider based on config.
// Called once at worker startup and again on reload.
func NewProvider(cfg config.AnalysisConfig) (models.AIProvider, error) {
	switch cfg.Provider {
	case "none":
		return none.NewProvider(), nil
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, cfg.InferenceTimeout), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI, cfg.InferenceTimeout), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of none, ollama, openai", cfg.Provider)
	}
}
