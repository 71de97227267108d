package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the process-wide configuration, populated once at startup from
// the environment and never mutated afterwards.
type Config struct {
	Addr string `envconfig:"ADDR" default:":8000"`

	// BrowserEngine selects the session implementation: "standard" drives a
	// local Chrome over CDP, "stealth" launches a hardened playwright context.
	BrowserEngine string `envconfig:"BROWSER_ENGINE" default:"stealth"`
	Headless      bool   `envconfig:"HEADLESS" default:"true"`
	ProxyURL      string `envconfig:"PROXY_URL"`
	ProxyUser     string `envconfig:"PROXY_USER"`
	ProxyPass     string `envconfig:"PROXY_PASS"`

	DefaultModel    string        `envconfig:"DEFAULT_MODEL" default:"gpt-4o"`
	DefaultMaxSteps int           `envconfig:"DEFAULT_MAX_STEPS" default:"50"`
	MaxStepsLimit   int           `envconfig:"MAX_STEPS_LIMIT" default:"100"`
	MaxRunDuration  time.Duration `envconfig:"MAX_RUN_DURATION" default:"10m"`

	ScanDir     string `envconfig:"SCAN_DIR" default:"scans"`
	ArtifactDir string `envconfig:"ARTIFACT_DIR" default:"artifacts"`
	FFmpegPath  string `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	FrameRate   int    `envconfig:"FRAME_RATE" default:"2"`

	MaxConcurrentRuns int64 `envconfig:"MAX_CONCURRENT_RUNS" default:"4"`
	RateLimitPerHour  int   `envconfig:"RATE_LIMIT_PER_HOUR" default:"100"`
	RateLimitBurst    int   `envconfig:"RATE_LIMIT_BURST" default:"10"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BrowserEngine != "standard" && c.BrowserEngine != "stealth" {
		return fmt.Errorf("BROWSER_ENGINE must be \"standard\" or \"stealth\", got %q", c.BrowserEngine)
	}
	if c.DefaultMaxSteps <= 0 || c.MaxStepsLimit <= 0 {
		return fmt.Errorf("step budgets must be positive")
	}
	if c.DefaultMaxSteps > c.MaxStepsLimit {
		return fmt.Errorf("DEFAULT_MAX_STEPS %d exceeds MAX_STEPS_LIMIT %d", c.DefaultMaxSteps, c.MaxStepsLimit)
	}
	if c.MaxRunDuration <= 0 {
		return fmt.Errorf("MAX_RUN_DURATION must be positive")
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("FRAME_RATE must be positive")
	}
	if c.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_RUNS must be positive")
	}
	return nil
}
