package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Server      ServerConfig   `toml:"server"`
	Analysis    AnalysisConfig `toml:"analysis"`
	SEO         SEOConfig      `toml:"seo"`
	Storage     StorageConfig  `toml:"storage"`
	Logging     LoggingConfig  `toml:"logging"`
}

// ServerConfig describes the remote analysis server endpoints
type ServerConfig struct {
	BaseURL        string        `toml:"base_url" validate:"required,url"` // Analysis server base URL
	IPLookupURL    string        `toml:"ip_lookup_url" validate:"omitempty,url"`
	RequestTimeout time.Duration `toml:"request_timeout"` // Timeout for non-streaming requests
}

// AnalysisConfig contains defaults for analysis sessions
type AnalysisConfig struct {
	Bots          []string      `toml:"bots"`           // Default bot selection passed to the stream endpoint
	AIEnrichment  bool          `toml:"ai_enrichment"`  // Request AI content enrichment by default
	StreamTimeout time.Duration `toml:"stream_timeout"` // Overall deadline for one analysis stream (0 = none)
}

// SEOConfig controls the secondary SEO-analysis poller
type SEOConfig struct {
	PollInterval time.Duration `toml:"poll_interval"` // Interval between status polls
	PollTimeout  time.Duration `toml:"poll_timeout"`  // Hard deadline before the sub-job is abandoned
	RateLimit    int           `toml:"rate_limit"`    // Max status requests per second
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// DefaultConfig returns the configuration defaults applied before any file
// or environment overrides.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			BaseURL:        "http://localhost:8085",
			IPLookupURL:    "https://api.ipify.org",
			RequestTimeout: 30 * time.Second,
		},
		Analysis: AnalysisConfig{
			Bots:          []string{"googlebot"},
			AIEnrichment:  false,
			StreamTimeout: 0,
		},
		SEO: SEOConfig{
			PollInterval: 2 * time.Second,
			PollTimeout:  5 * time.Minute,
			RateLimit:    5,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/vigil",
				ResetOnStartup: false,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadConfig loads configuration from defaults, then the given TOML files in
// order (later files override earlier ones), then environment variables.
func LoadConfig(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("VIGIL_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if baseURL := os.Getenv("VIGIL_SERVER_BASE_URL"); baseURL != "" {
		config.Server.BaseURL = baseURL
	}
	if ipURL := os.Getenv("VIGIL_SERVER_IP_LOOKUP_URL"); ipURL != "" {
		config.Server.IPLookupURL = ipURL
	}
	if timeout := os.Getenv("VIGIL_SERVER_REQUEST_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Server.RequestTimeout = d
		}
	}

	if bots := os.Getenv("VIGIL_ANALYSIS_BOTS"); bots != "" {
		parts := []string{}
		for _, b := range strings.Split(bots, ",") {
			if trimmed := strings.TrimSpace(b); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			config.Analysis.Bots = parts
		}
	}
	if enrich := os.Getenv("VIGIL_ANALYSIS_AI_ENRICHMENT"); enrich != "" {
		if e, err := strconv.ParseBool(enrich); err == nil {
			config.Analysis.AIEnrichment = e
		}
	}
	if timeout := os.Getenv("VIGIL_ANALYSIS_STREAM_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Analysis.StreamTimeout = d
		}
	}

	if interval := os.Getenv("VIGIL_SEO_POLL_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.SEO.PollInterval = d
		}
	}
	if timeout := os.Getenv("VIGIL_SEO_POLL_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.SEO.PollTimeout = d
		}
	}

	if badgerPath := os.Getenv("VIGIL_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if level := os.Getenv("VIGIL_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("VIGIL_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// IsDevelopment returns true when running in the development environment
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}
