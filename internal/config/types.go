package config

import (
	"time"

	"github.com/wardenhq/llm-warden/internal/audit"
	"github.com/wardenhq/llm-warden/internal/cache"
)

// Config represents the main configuration structure
type Config struct {
	Server     ServerConfig      `yaml:"server" mapstructure:"server"`
	Rules      RulesConfig       `yaml:"rules" mapstructure:"rules"`
	Pipeline   PipelineConfig    `yaml:"pipeline" mapstructure:"pipeline"`
	Classifier ClassifierConfig  `yaml:"classifier" mapstructure:"classifier"`
	Upstream   UpstreamConfig    `yaml:"upstream" mapstructure:"upstream"`
	Cache      cache.Config      `yaml:"cache" mapstructure:"cache"`
	Audit      AuditConfig       `yaml:"audit" mapstructure:"audit"`
	Logging    LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	RateLimit  RateLimitConfig   `yaml:"rate_limit" mapstructure:"rate_limit"`
	Events     EventsConfig      `yaml:"events" mapstructure:"events"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// RulesConfig tells the registry where ruleset files live
type RulesConfig struct {
	Dir   string `yaml:"dir" mapstructure:"dir"`
	Watch bool   `yaml:"watch" mapstructure:"watch"`
}

// PipelineConfig tunes the enforcement pipeline
type PipelineConfig struct {
	BlockThreshold    float64       `yaml:"block_threshold" mapstructure:"block_threshold"`
	WarnThreshold     float64       `yaml:"warn_threshold" mapstructure:"warn_threshold"`
	FailOpen          bool          `yaml:"fail_open" mapstructure:"fail_open"`
	MatchBudget       time.Duration `yaml:"match_budget" mapstructure:"match_budget"`
	ClassifierTimeout time.Duration `yaml:"classifier_timeout" mapstructure:"classifier_timeout"`
	ModelTimeout      time.Duration `yaml:"model_timeout" mapstructure:"model_timeout"`
}

// ClassifierConfig selects the classifier capability
type ClassifierConfig struct {
	Type    string        `yaml:"type" mapstructure:"type"` // pattern or http
	URL     string        `yaml:"url" mapstructure:"url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// UpstreamConfig contains the external model service configuration
type UpstreamConfig struct {
	URL     string        `yaml:"url" mapstructure:"url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// AuditConfig selects the audit persistence backend
type AuditConfig struct {
	Backend      string            `yaml:"backend" mapstructure:"backend"` // log or postgres
	QueueSize    int               `yaml:"queue_size" mapstructure:"queue_size"`
	WriteTimeout time.Duration     `yaml:"write_timeout" mapstructure:"write_timeout"`
	Store        audit.StoreConfig `yaml:"store" mapstructure:"store"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// RateLimitConfig contains per-client request limiting configuration
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// EventsConfig contains WebSocket event streaming configuration
type EventsConfig struct {
	Enabled        bool     `yaml:"enabled" mapstructure:"enabled"`
	Path           string   `yaml:"path" mapstructure:"path"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Rules: RulesConfig{
			Dir:   "rules",
			Watch: true,
		},
		Pipeline: PipelineConfig{
			BlockThreshold:    0.8,
			WarnThreshold:     0.5,
			FailOpen:          false,
			MatchBudget:       50 * time.Millisecond,
			ClassifierTimeout: 2 * time.Second,
			ModelTimeout:      30 * time.Second,
		},
		Classifier: ClassifierConfig{
			Type:    "pattern",
			Timeout: 2 * time.Second,
		},
		Upstream: UpstreamConfig{
			Timeout: 30 * time.Second,
		},
		Cache: cache.Config{
			Enabled:    false,
			RedisURL:   "redis://localhost:6379/0",
			DefaultTTL: 10 * time.Minute,
			KeyPrefix:  "warden:verdicts",
		},
		Audit: AuditConfig{
			Backend:      "log",
			QueueSize:    256,
			WriteTimeout: 5 * time.Second,
			Store: audit.StoreConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Events: EventsConfig{
			Enabled:        true,
			Path:           "/ws",
			AllowedOrigins: []string{"*"},
		},
	}
	return cfg
}
