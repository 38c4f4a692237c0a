package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the sermonscribe server and workers.
// It is built once per process and passed explicitly to the components that need it.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Pipeline      PipelineConfig
	Media         MediaConfig
	TranscriptAPI TranscriptAPIConfig
	STT           STTConfig
	Analysis      AnalysisConfig
	Auth          AuthConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// Standalone runs with in-memory store, queue, and broadcast so that a single
	// process works without Postgres or Redis.
	Standalone   bool
	InlineWorker bool
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL           string
	QueueKey      string
	EventsChannel string
}

type PipelineConfig struct {
	MinDuration        time.Duration
	MaxDuration        time.Duration
	HeartbeatInterval  time.Duration
	DequeueTimeout     time.Duration
	ReconcileInterval  time.Duration
	ReconcileThreshold time.Duration
	StuckThreshold     time.Duration
	SubscriberBuffer   int
	StartOffsetFloor   time.Duration
	ChunkWords         int
	ChunkOverlap       int
}

type MediaConfig struct {
	YTDLPPath        string
	CaptionLanguages []string
	WorkDir          string
	MetadataTimeout  time.Duration
	CaptionsTimeout  time.Duration
}

type TranscriptAPIConfig struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
}

type STTConfig struct {
	WhisperPath string
	ModelPath   string
	Language    string
	Threads     int
	UseGPU      bool
	Timeout     time.Duration
}

type AnalysisConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	Ollama           OllamaConfig
	OpenAI           OpenAIConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type AuthConfig struct {
	AdminAPIKey       string
	RequestsPerMinute int
}

var validProviders = map[string]bool{
	"none":   true,
	"ollama": true,
	"openai": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         envInt("SERMONSCRIBE_PORT", 8080),
			Env:          envString("SERMONSCRIBE_ENV", "development"),
			Standalone:   envBool("SERMONSCRIBE_STANDALONE", false),
			InlineWorker: envBool("SERMONSCRIBE_INLINE_WORKER", false),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL:           os.Getenv("REDIS_URL"),
			QueueKey:      envString("REDIS_QUEUE_KEY", "sermonscribe:jobs"),
			EventsChannel: envString("REDIS_EVENTS_CHANNEL", "sermonscribe:events"),
		},
		Pipeline: PipelineConfig{
			MinDuration:        envDuration("PIPELINE_MIN_DURATION", 10*time.Minute),
			MaxDuration:        envDuration("PIPELINE_MAX_DURATION", 3*time.Hour),
			HeartbeatInterval:  envDuration("PIPELINE_HEARTBEAT_INTERVAL", 30*time.Second),
			DequeueTimeout:     envDuration("PIPELINE_DEQUEUE_TIMEOUT", 5*time.Second),
			ReconcileInterval:  envDuration("PIPELINE_RECONCILE_INTERVAL", time.Minute),
			ReconcileThreshold: envDuration("PIPELINE_RECONCILE_THRESHOLD", 2*time.Minute),
			StuckThreshold:     envDuration("PIPELINE_STUCK_THRESHOLD", 2*time.Hour),
			SubscriberBuffer:   envInt("PIPELINE_SUBSCRIBER_BUFFER", 64),
			StartOffsetFloor:   envDuration("PIPELINE_START_OFFSET_FLOOR", 2*time.Minute),
			ChunkWords:         envInt("INDEX_CHUNK_WORDS", 200),
			ChunkOverlap:       envInt("INDEX_CHUNK_OVERLAP", 40),
		},
		Media: MediaConfig{
			YTDLPPath:        envString("YTDLP_PATH", "yt-dlp"),
			CaptionLanguages: envList("CAPTION_LANGUAGES", []string{"en", "en-US", "en-GB"}),
			WorkDir:          envString("MEDIA_WORK_DIR", os.TempDir()),
			MetadataTimeout:  envDuration("MEDIA_METADATA_TIMEOUT", 2*time.Minute),
			CaptionsTimeout:  envDuration("MEDIA_CAPTIONS_TIMEOUT", 3*time.Minute),
		},
		TranscriptAPI: TranscriptAPIConfig{
			BaseURL:         os.Getenv("TRANSCRIPT_API_URL"),
			APIKey:          os.Getenv("TRANSCRIPT_API_KEY"),
			Timeout:         envDuration("TRANSCRIPT_API_TIMEOUT", 30*time.Second),
			RetryMaxElapsed: envDuration("TRANSCRIPT_API_RETRY_MAX_ELAPSED", 45*time.Second),
		},
		STT: STTConfig{
			WhisperPath: envString("WHISPER_PATH", "whisper-cli"),
			ModelPath:   os.Getenv("WHISPER_MODEL_PATH"),
			Language:    envString("WHISPER_LANGUAGE", "en"),
			Threads:     envInt("WHISPER_THREADS", 4),
			UseGPU:      envBool("STT_USE_GPU", false),
			Timeout:     envDurationSecs("STT_TIMEOUT_SECS", 45*time.Minute),
		},
		Analysis: AnalysisConfig{
			Provider:         envString("ANALYSIS_PROVIDER", "none"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 120*time.Second),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			OpenAI: OpenAIConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
		},
		Auth: AuthConfig{
			AdminAPIKey:       os.Getenv("ADMIN_API_KEY"),
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
	}

	if cfg.Server.Standalone {
		cfg.Server.InlineWorker = true
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !c.Server.Standalone {
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required")
		}
	}

	if c.Pipeline.MinDuration < 0 {
		return fmt.Errorf("PIPELINE_MIN_DURATION must not be negative, got %s", c.Pipeline.MinDuration)
	}
	if c.Pipeline.MaxDuration <= c.Pipeline.MinDuration {
		return fmt.Errorf("PIPELINE_MAX_DURATION (%s) must be greater than PIPELINE_MIN_DURATION (%s)",
			c.Pipeline.MaxDuration, c.Pipeline.MinDuration)
	}
	if c.Pipeline.HeartbeatInterval <= 0 {
		return fmt.Errorf("PIPELINE_HEARTBEAT_INTERVAL must be positive, got %s", c.Pipeline.HeartbeatInterval)
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"PIPELINE_DEQUEUE_TIMEOUT", c.Pipeline.DequeueTimeout},
		{"PIPELINE_RECONCILE_INTERVAL", c.Pipeline.ReconcileInterval},
		{"PIPELINE_RECONCILE_THRESHOLD", c.Pipeline.ReconcileThreshold},
		{"PIPELINE_STUCK_THRESHOLD", c.Pipeline.StuckThreshold},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	if c.Pipeline.SubscriberBuffer <= 0 {
		return fmt.Errorf("PIPELINE_SUBSCRIBER_BUFFER must be positive, got %d", c.Pipeline.SubscriberBuffer)
	}
	if c.Pipeline.ChunkWords <= 0 || c.Pipeline.ChunkOverlap < 0 || c.Pipeline.ChunkOverlap >= c.Pipeline.ChunkWords {
		return fmt.Errorf("INDEX_CHUNK_OVERLAP (%d) must be between 0 and INDEX_CHUNK_WORDS (%d)",
			c.Pipeline.ChunkOverlap, c.Pipeline.ChunkWords)
	}

	if c.TranscriptAPI.BaseURL != "" &&
		!strings.HasPrefix(c.TranscriptAPI.BaseURL, "http://") && !strings.HasPrefix(c.TranscriptAPI.BaseURL, "https://") {
		return fmt.Errorf("TRANSCRIPT_API_URL must start with http:// or https://, got %q", c.TranscriptAPI.BaseURL)
	}

	if !validProviders[c.Analysis.Provider] {
		return fmt.Errorf("ANALYSIS_PROVIDER must be one of none, ollama, openai; got %q", c.Analysis.Provider)
	}
	if c.Analysis.Provider == "openai" && c.Analysis.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when ANALYSIS_PROVIDER is openai")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
