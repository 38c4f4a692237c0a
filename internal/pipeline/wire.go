package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/sermonscribe/internal/ai"
	"github.com/kiranshivaraju/sermonscribe/internal/broadcast"
	"github.com/kiranshivaraju/sermonscribe/internal/cache"
	"github.com/kiranshivaraju/sermonscribe/internal/config"
	"github.com/kiranshivaraju/sermonscribe/internal/index"
	"github.com/kiranshivaraju/sermonscribe/internal/media"
	"github.com/kiranshivaraju/sermonscribe/internal/store"
	"github.com/kiranshivaraju/sermonscribe/internal/transcript"
)

// NewDependencies builds the production stage implementations from cfg:
// yt-dlp for metadata and captions, the transcript API, whisper.cpp, the
// configured analysis provider, and the chunk indexer.
func NewDependencies(cfg *config.Config, st store.Store, events broadcast.Publisher, c cache.Cache) (Dependencies, error) {
	runner := media.ExecRunner{}
	ytdlp := media.NewYTDLP(cfg.Media, runner)

	waterfall, err := transcript.NewWaterfall(
		transcript.NewCaptionTier(ytdlp, cfg.Media.CaptionsTimeout),
		transcript.NewAPITier(cfg.TranscriptAPI),
		transcript.NewLocalSTTTier(ytdlp, runner, cfg.STT, cfg.Media.WorkDir),
	)
	if err != nil {
		return Dependencies{}, fmt.Errorf("build transcription waterfall: %w", err)
	}

	provider, err := ai.NewProvider(cfg.Analysis)
	if err != nil {
		return Dependencies{}, fmt.Errorf("create analysis provider: %w", err)
	}
	slog.Info("analysis provider initialized", "provider", provider.Name())

	return Dependencies{
		Store:       st,
		Metadata:    ytdlp,
		Transcriber: waterfall,
		Analyzer:    ai.NewAnalysisService(provider, cfg.Analysis.InferenceTimeout),
		Indexer:     index.NewIndexer(st, cfg.Pipeline.ChunkWords, cfg.Pipeline.ChunkOverlap),
		Events:      events,
		Cache:       c,
	}, nil
}
