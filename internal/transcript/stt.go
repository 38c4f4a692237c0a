package transcript

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kiranshivaraju/sermonscribe/internal/config"
	"github.com/kiranshivaraju/sermonscribe/internal/media"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// AudioSource downloads a recording's audio track into dir.
type AudioSource interface {
	DownloadAudio(ctx context.Context, sourceURL, dir string) (string, error)
}

// LocalSTTTier downloads the audio and runs whisper.cpp over it.
type LocalSTTTier struct {
	audio   AudioSource
	runner  media.Runner
	cfg     config.STTConfig
	workDir string
}

func NewLocalSTTTier(audio AudioSource, runner media.Runner, cfg config.STTConfig, workDir string) *LocalSTTTier {
	if runner == nil {
		runner = media.ExecRunner{}
	}
	return &LocalSTTTier{audio: audio, runner: runner, cfg: cfg, workDir: workDir}
}

func (l *LocalSTTTier) Tier() models.Tier { return models.TierLocalSTT }

func (l *LocalSTTTier) Acquire(ctx context.Context, sourceURL string) (*Transcript, error) {
	if l.cfg.ModelPath == "" {
		return nil, errors.New("whisper model path not configured")
	}
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	dir, err := os.MkdirTemp(l.workDir, "stt-*")
	if err != nil {
		return nil, fmt.Errorf("create stt dir: %w", err)
	}
	defer os.RemoveAll(dir)

	audioPath, err := l.audio.DownloadAudio(ctx, sourceURL, dir)
	if err != nil {
		return nil, l.wrapDeadline(ctx, err)
	}

	outBase := filepath.Join(dir, "transcript")
	if _, err := media.RunCommand(ctx, l.runner, l.cfg.WhisperPath, l.whisperArgs(audioPath, outBase)...); err != nil {
		return nil, l.wrapDeadline(ctx, fmt.Errorf("whisper transcription: %w", err))
	}

	f, err := os.Open(outBase + ".srt")
	if err != nil {
		return nil, fmt.Errorf("whisper completed but transcript file is missing: %w", err)
	}
	defer f.Close()

	segments, err := media.ParseSRT(f)
	if err != nil {
		return nil, err
	}
	return &Transcript{Text: media.JoinSegments(segments), Segments: segments}, nil
}

// whisperArgs builds whisper.cpp args for SRT export.
func (l *LocalSTTTier) whisperArgs(audioPath, outBase string) []string {
	args := []string{
		"-m", l.cfg.ModelPath,
		"-f", audioPath,
		"-of", outBase,
		"-osrt",
	}
	if l.cfg.Language != "" {
		args = append(args, "-l", l.cfg.Language)
	}
	if l.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(l.cfg.Threads))
	}
	if !l.cfg.UseGPU {
		args = append(args, "-ng")
	}
	return args
}

func (l *LocalSTTTier) wrapDeadline(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrTierTimeout, l.cfg.Timeout.Round(time.Second), err)
	}
	return err
}
