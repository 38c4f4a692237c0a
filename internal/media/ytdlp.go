package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kiranshivaraju/sermonscribe/internal/config"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// ErrNoCaptions is returned by Captions when the source publishes no caption
// track in any configured language.
var ErrNoCaptions = errors.New("no captions available")

// Metadata is what the metadata stage extracts from a source URL.
type Metadata struct {
	Title           string
	DurationSeconds int
	PublishedAt     *time.Time
}

// YTDLP wraps the yt-dlp binary.
type YTDLP struct {
	path      string
	languages []string
	workDir   string
	runner    Runner
}

// NewYTDLP builds a client from the media config.
func NewYTDLP(cfg config.MediaConfig, runner Runner) *YTDLP {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &YTDLP{
		path:      cfg.YTDLPPath,
		languages: cfg.CaptionLanguages,
		workDir:   cfg.WorkDir,
		runner:    runner,
	}
}

type ytdlpInfo struct {
	Title      string  `json:"title"`
	Duration   float64 `json:"duration"`
	UploadDate string  `json:"upload_date"`
	Timestamp  *int64  `json:"timestamp"`
}

// Metadata reads title, duration, and upload date without downloading media.
func (y *YTDLP) Metadata(ctx context.Context, sourceURL string) (*Metadata, error) {
	res, err := RunCommand(ctx, y.runner, y.path,
		"--dump-single-json", "--skip-download", "--no-warnings", "--no-playlist", sourceURL)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	return parseMetadata([]byte(res.Stdout))
}

func parseMetadata(data []byte) (*Metadata, error) {
	var info ytdlpInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if info.Duration <= 0 {
		return nil, errors.New("metadata has no duration")
	}

	md := &Metadata{
		Title:           strings.TrimSpace(info.Title),
		DurationSeconds: int(math.Round(info.Duration)),
	}
	switch {
	case info.UploadDate != "":
		t, err := time.Parse("20060102", info.UploadDate)
		if err != nil {
			return nil, fmt.Errorf("parse upload_date %q: %w", info.UploadDate, err)
		}
		md.PublishedAt = &t
	case info.Timestamp != nil:
		t := time.Unix(*info.Timestamp, 0).UTC()
		md.PublishedAt = &t
	}
	return md, nil
}

// Captions downloads the first available caption track in language order,
// preferring uploaded subtitles over automatic ones.
func (y *YTDLP) Captions(ctx context.Context, sourceURL string) ([]models.Segment, error) {
	dir, err := os.MkdirTemp(y.workDir, "captions-*")
	if err != nil {
		return nil, fmt.Errorf("create caption dir: %w", err)
	}
	defer os.RemoveAll(dir)

	_, err = RunCommand(ctx, y.runner, y.path,
		"--skip-download", "--no-warnings", "--no-playlist",
		"--write-subs", "--write-auto-subs",
		"--sub-langs", strings.Join(y.languages, ","),
		"--sub-format", "vtt",
		"-o", filepath.Join(dir, "captions.%(ext)s"),
		sourceURL)
	if err != nil {
		return nil, fmt.Errorf("download captions: %w", err)
	}

	path, ok := pickCaptionFile(dir, y.languages)
	if !ok {
		return nil, ErrNoCaptions
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open captions: %w", err)
	}
	defer f.Close()

	segments, err := ParseVTT(f)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, ErrNoCaptions
	}
	return segments, nil
}

// pickCaptionFile finds captions.<lang>.vtt for the first language present.
func pickCaptionFile(dir string, languages []string) (string, bool) {
	for _, lang := range languages {
		path := filepath.Join(dir, "captions."+lang+".vtt")
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "captions.*.vtt"))
	if len(matches) > 0 {
		return matches[0], true
	}
	return "", false
}

// DownloadAudio extracts the audio track as 16 kHz mono WAV into dir and
// returns the file path.
func (y *YTDLP) DownloadAudio(ctx context.Context, sourceURL, dir string) (string, error) {
	_, err := RunCommand(ctx, y.runner, y.path,
		"--no-warnings", "--no-playlist",
		"-x", "--audio-format", "wav",
		"--postprocessor-args", "ExtractAudio:-ac 1 -ar 16000",
		"-o", filepath.Join(dir, "audio.%(ext)s"),
		sourceURL)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}

	path := filepath.Join(dir, "audio.wav")
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("yt-dlp completed but audio file is missing: %w", err)
	}
	return path, nil
}
