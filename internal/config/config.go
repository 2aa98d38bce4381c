// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	AppStore AppStoreConfig `mapstructure:"appstore"`
	Model    ModelConfig    `mapstructure:"model"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port               int `mapstructure:"port"`
	RequestTimeoutSec  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSec int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// AppStoreConfig points at the store catalog endpoints.
type AppStoreConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	Country    string `mapstructure:"country"`
	StoreFront string `mapstructure:"store_front"`
}

// ModelConfig governs generative keyword calls.
type ModelConfig struct {
	APIKey        string  `mapstructure:"api_key"`
	Name          string  `mapstructure:"name"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	Temperature   float64 `mapstructure:"temperature"`
	MinKeywords   int     `mapstructure:"min_keywords"`
	ScreenshotCap int     `mapstructure:"screenshot_cap"`
}

// ScoringConfig points at the keyword scoring provider.
type ScoringConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
}

// HTTPConfig configures the shared outbound HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	// RPS throttles outbound requests per upstream host; zero disables.
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// PipelineConfig bounds the enrichment fan-out.
type PipelineConfig struct {
	RelatedCap int `mapstructure:"related_cap"`
	ScoreCap   int `mapstructure:"score_cap"`
}

// PubSubConfig holds metadata for progress event publishing.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ASO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("appstore.base_url", "https://itunes.apple.com")
	v.SetDefault("appstore.country", "us")
	v.SetDefault("appstore.store_front", "143441,32")
	// Empty-string defaults register the keys so AutomaticEnv overrides
	// survive Unmarshal.
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("model.api_key", "")
	v.SetDefault("scoring.base_url", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("model.name", "claude-3-5-sonnet-20241022")
	v.SetDefault("model.max_tokens", 2000)
	v.SetDefault("model.temperature", 0.3)
	v.SetDefault("model.min_keywords", 15)
	v.SetDefault("model.screenshot_cap", 4)
	v.SetDefault("scoring.enabled", true)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "aso-pipeline/0.1")
	v.SetDefault("pipeline.related_cap", 3)
	v.SetDefault("pipeline.score_cap", 15)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key must be set")
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("model.max_tokens must be > 0")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be within [0, 1]")
	}
	if c.Pipeline.RelatedCap <= 0 {
		return fmt.Errorf("pipeline.related_cap must be > 0")
	}
	if c.Pipeline.ScoreCap <= 0 {
		return fmt.Errorf("pipeline.score_cap must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scoring.Enabled && c.Scoring.BaseURL == "" {
		return fmt.Errorf("scoring.base_url must be set when scoring is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// HTTPTimeout converts the outbound client timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds a single API request end to end.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSec) * time.Second
}

// ShutdownTimeout bounds graceful server shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSec) * time.Second
}
