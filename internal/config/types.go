package config

import (
	"time"

	"github.com/raaihank/ad-sentinel/internal/audit"
	"github.com/raaihank/ad-sentinel/internal/cache"
	"github.com/raaihank/ad-sentinel/internal/feedback"
	"github.com/raaihank/ad-sentinel/internal/gemini"
	"github.com/raaihank/ad-sentinel/internal/score"
	"github.com/raaihank/ad-sentinel/internal/store"
)

// Config represents the main configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Engine    EngineConfig    `yaml:"engine" mapstructure:"engine"`
	Patterns  PatternsConfig  `yaml:"patterns" mapstructure:"patterns"`
	Scoring   score.Config    `yaml:"scoring" mapstructure:"scoring"`
	Audit     audit.Config    `yaml:"audit" mapstructure:"audit"`
	Gemini    gemini.Config   `yaml:"gemini" mapstructure:"gemini"`
	Store     store.Config    `yaml:"store" mapstructure:"store"`
	Cache     cache.Config    `yaml:"cache" mapstructure:"cache"`
	Feedback  feedback.Config `yaml:"feedback" mapstructure:"feedback"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// EngineConfig contains analysis pipeline configuration.
type EngineConfig struct {
	// WindowChars bounds the context window captured around each match.
	WindowChars int `yaml:"window_chars" mapstructure:"window_chars"`
	// Workers is the batch analysis parallelism.
	Workers int `yaml:"workers" mapstructure:"workers"`
	// AuditEnabled toggles the external model pass.
	AuditEnabled bool `yaml:"audit_enabled" mapstructure:"audit_enabled"`
	// ConfidenceModifiers maps pattern id ("*" for any) to context type to a
	// multiplier applied when the context softens a match.
	ConfidenceModifiers map[string]map[string]float64 `yaml:"confidence_modifiers" mapstructure:"confidence_modifiers"`
}

// PatternsConfig locates the versioned pattern library.
type PatternsConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// WebSocketConfig contains the event hub configuration.
type WebSocketConfig struct {
	Enabled             bool     `yaml:"enabled" mapstructure:"enabled"`
	Path                string   `yaml:"path" mapstructure:"path"`
	AllowedOrigins      []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	BroadcastDetections bool     `yaml:"broadcast_detections" mapstructure:"broadcast_detections"`
	BroadcastRequests   bool     `yaml:"broadcast_requests" mapstructure:"broadcast_requests"`
}

// GetDefaults returns a configuration with sensible defaults.
func GetDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Engine: EngineConfig{
			WindowChars:  50,
			Workers:      4,
			AuditEnabled: true,
			ConfidenceModifiers: map[string]map[string]float64{
				"*": {
					"quotation":  0.5,
					"question":   0.6,
					"negation":   0.4,
					"disclaimer": 0.7,
				},
			},
		},
		Patterns: PatternsConfig{
			File: "configs/patterns.yaml",
		},
		Scoring: score.DefaultConfig(),
		Audit:   audit.DefaultConfig(),
		Gemini: gemini.Config{
			URL:            "http://localhost:9090/v1/analyze",
			Model:          "gemini-2.0-flash",
			Timeout:        30 * time.Second,
			MaxAttempts:    3,
			BackoffBase:    2 * time.Second,
			RequestsPerSec: 2,
		},
		Store: store.Config{
			Enabled:         false,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Cache: cache.Config{
			Enabled:        false,
			RedisURL:       "redis://localhost:6379/0",
			MaxConnections: 10,
			MinIdleConns:   2,
			DefaultTTL:     time.Hour,
			KeyPrefix:      "adsentinel",
		},
		Feedback: feedback.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		WebSocket: WebSocketConfig{
			Enabled:             true,
			Path:                "/ws",
			AllowedOrigins:      []string{"*"},
			BroadcastDetections: true,
			BroadcastRequests:   true,
		},
	}
}
