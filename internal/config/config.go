// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port                 int           `yaml:"port"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	TriggerToken         string        `yaml:"trigger_token"`           // bearer token for POST /internal/scheduler/tick; empty leaves it open
	WebhookRatePerMinute int           `yaml:"webhook_rate_per_minute"` // per client IP, needs redis
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres|sqlite
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"` // optional; enables webhook dedup and tick single-flight
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // webhook dedup retention
}

type SchedulerConfig struct {
	LiveTickCron string        `yaml:"live_tick_cron"` // empty disables the in-process trigger
	TickTimeout  time.Duration `yaml:"tick_timeout"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
}

type WorkerConfig struct {
	Count          int           `yaml:"count"`
	MaxAttempts    int           `yaml:"max_attempts"`
	LeaseTTL       time.Duration `yaml:"lease_ttl"`
	JobTimeout     time.Duration `yaml:"job_timeout"`
	PollMin        time.Duration `yaml:"poll_min"`
	PollMax        time.Duration `yaml:"poll_max"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
}

type SweeperConfig struct {
	Interval time.Duration `yaml:"interval"`
	Batch    int           `yaml:"batch"`
}

type PipelineConfig struct {
	FrameFPS            float64 `yaml:"frame_fps"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	DetectConcurrency   int     `yaml:"detect_concurrency"`
}

type VideoHostConfig struct {
	StreamBaseURL     string        `yaml:"stream_base_url"`
	SigningKeyID      string        `yaml:"signing_key_id"`
	SigningPrivateKey string        `yaml:"signing_private_key"` // base64 PEM, enables signed playback
	TokenTTL          time.Duration `yaml:"token_ttl"`
	WebhookSecret     string        `yaml:"webhook_secret"`
	WebhookTolerance  time.Duration `yaml:"webhook_tolerance"`
	FFmpegPath        string        `yaml:"ffmpeg_path"`
	TempDir           string        `yaml:"temp_dir"`
}

type DetectorConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Model         string        `yaml:"model"` // e.g. "coco/3"
	APIKey        string        `yaml:"api_key"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Timeout       time.Duration `yaml:"timeout"`
}

type AIConfig struct {
	Provider         string        `yaml:"provider"`          // gemini|openai
	FallbackProvider string        `yaml:"fallback_provider"` // optional second provider tried on transient failure
	GeminiKey        string        `yaml:"gemini_key"`
	GeminiURL        string        `yaml:"gemini_url"`
	OpenAIKey        string        `yaml:"openai_key"`
	OpenAIBaseURL    string        `yaml:"openai_base_url"`
	Model            string        `yaml:"model"`
	MaxOutputTokens  int           `yaml:"max_output_tokens"`
	ConcurrentLimit  int           `yaml:"concurrent_limit"` // max concurrent multimodal calls
	KeyFrames        int           `yaml:"key_frames"`       // frames sent per segment by frame-based providers
	UploadTimeout    time.Duration `yaml:"upload_timeout"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Worker    WorkerConfig    `yaml:"worker"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	VideoHost VideoHostConfig `yaml:"video_host"`
	Detector  DetectorConfig  `yaml:"detector"`
	AI        AIConfig        `yaml:"ai"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(configPath string, dev bool) (*Config, error) {
	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes YAML, applies environment overrides and defaults, then validates.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	cfg.HTTP.RequestTimeout = defaultDuration(cfg.HTTP.RequestTimeout, 15*time.Second)
	if cfg.HTTP.WebhookRatePerMinute <= 0 {
		cfg.HTTP.WebhookRatePerMinute = 600
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = defaultDuration(cfg.Redis.TTL, 24*time.Hour)

	cfg.Scheduler.TickTimeout = defaultDuration(cfg.Scheduler.TickTimeout, 30*time.Second)
	cfg.Scheduler.LockTTL = defaultDuration(cfg.Scheduler.LockTTL, 50*time.Second)

	if cfg.Worker.Count <= 0 {
		cfg.Worker.Count = 4
	}
	if cfg.Worker.MaxAttempts <= 0 {
		cfg.Worker.MaxAttempts = 3
	}
	cfg.Worker.LeaseTTL = defaultDuration(cfg.Worker.LeaseTTL, 5*time.Minute)
	cfg.Worker.JobTimeout = defaultDuration(cfg.Worker.JobTimeout, 10*time.Minute)
	cfg.Worker.PollMin = defaultDuration(cfg.Worker.PollMin, 500*time.Millisecond)
	cfg.Worker.PollMax = defaultDuration(cfg.Worker.PollMax, 10*time.Second)
	cfg.Worker.RetryBaseDelay = defaultDuration(cfg.Worker.RetryBaseDelay, 30*time.Second)
	cfg.Worker.RetryMaxDelay = defaultDuration(cfg.Worker.RetryMaxDelay, 10*time.Minute)

	cfg.Sweeper.Interval = defaultDuration(cfg.Sweeper.Interval, time.Minute)
	if cfg.Sweeper.Batch <= 0 {
		cfg.Sweeper.Batch = 100
	}

	if cfg.Pipeline.FrameFPS <= 0 {
		cfg.Pipeline.FrameFPS = 8
	}
	if cfg.Pipeline.ConfidenceThreshold <= 0 {
		cfg.Pipeline.ConfidenceThreshold = 0.3
	}
	if cfg.Pipeline.DetectConcurrency <= 0 {
		cfg.Pipeline.DetectConcurrency = 4
	}

	if cfg.VideoHost.StreamBaseURL == "" {
		cfg.VideoHost.StreamBaseURL = "https://stream.mux.com"
	}
	cfg.VideoHost.TokenTTL = defaultDuration(cfg.VideoHost.TokenTTL, 15*time.Minute)
	cfg.VideoHost.WebhookTolerance = defaultDuration(cfg.VideoHost.WebhookTolerance, 5*time.Minute)
	if cfg.VideoHost.FFmpegPath == "" {
		cfg.VideoHost.FFmpegPath = "ffmpeg"
	}

	if cfg.Detector.BaseURL == "" {
		cfg.Detector.BaseURL = "https://detect.roboflow.com"
	}
	cfg.Detector.Timeout = defaultDuration(cfg.Detector.Timeout, 15*time.Second)

	cfg.AI.Provider = strings.ToLower(strings.TrimSpace(cfg.AI.Provider))
	cfg.AI.FallbackProvider = strings.ToLower(strings.TrimSpace(cfg.AI.FallbackProvider))
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "gemini"
	}
	if cfg.AI.Model == "" {
		switch cfg.AI.Provider {
		case "openai":
			cfg.AI.Model = "gpt-4o-mini"
		default:
			cfg.AI.Model = "gemini-2.0-flash"
		}
	}
	if cfg.AI.MaxOutputTokens <= 0 {
		cfg.AI.MaxOutputTokens = 2048
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 4
	}
	if cfg.AI.KeyFrames <= 0 {
		cfg.AI.KeyFrames = 6
	}
	cfg.AI.UploadTimeout = defaultDuration(cfg.AI.UploadTimeout, 2*time.Minute)
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	switch c.AI.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("ai.provider %q is not supported", c.AI.Provider)
	}
	switch c.AI.FallbackProvider {
	case "", "gemini", "openai", "noop":
	default:
		return fmt.Errorf("ai.fallback_provider %q is not supported", c.AI.FallbackProvider)
	}
	if c.AI.FallbackProvider == c.AI.Provider {
		c.AI.FallbackProvider = ""
	}
	if c.Worker.PollMax < c.Worker.PollMin {
		return errors.New("worker.poll_max must be >= worker.poll_min")
	}
	if c.Pipeline.ConfidenceThreshold > 1 {
		return errors.New("pipeline.confidence_threshold must be within [0,1]")
	}
	return nil
}

func defaultDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
