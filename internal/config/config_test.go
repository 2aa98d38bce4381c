package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout_seconds: 60
  shutdown_timeout_seconds: 5
auth:
  enabled: true
  api_key: secret
appstore:
  base_url: https://store.internal
  country: de
model:
  api_key: sk-ant-test
  name: claude-3-5-sonnet-20241022
  max_tokens: 1500
  temperature: 0.5
  min_keywords: 20
  screenshot_cap: 2
scoring:
  enabled: true
  base_url: https://scores.internal
http:
  timeout_seconds: 45
  user_agent: aso-test-agent
pipeline:
  related_cap: 5
  score_cap: 10
pubsub:
  enabled: true
  project_id: proj
  topic_name: aso-progress
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Errorf("Auth = %+v, want enabled with key", cfg.Auth)
	}
	if cfg.AppStore.BaseURL != "https://store.internal" || cfg.AppStore.Country != "de" {
		t.Errorf("AppStore = %+v", cfg.AppStore)
	}
	if cfg.AppStore.StoreFront != "143441,32" {
		t.Errorf("AppStore.StoreFront default lost: %q", cfg.AppStore.StoreFront)
	}
	if cfg.Model.MaxTokens != 1500 || cfg.Model.Temperature != 0.5 {
		t.Errorf("Model = %+v", cfg.Model)
	}
	if cfg.Pipeline.RelatedCap != 5 || cfg.Pipeline.ScoreCap != 10 {
		t.Errorf("Pipeline = %+v", cfg.Pipeline)
	}
	if cfg.HTTPTimeout() != 45*time.Second {
		t.Errorf("HTTPTimeout() = %v, want 45s", cfg.HTTPTimeout())
	}
	if cfg.ShutdownTimeout() != 5*time.Second {
		t.Errorf("ShutdownTimeout() = %v, want 5s", cfg.ShutdownTimeout())
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ASO_MODEL_API_KEY", "sk-ant-env")
	t.Setenv("ASO_SCORING_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Model.APIKey != "sk-ant-env" {
		t.Errorf("Model.APIKey = %q, want value from environment", cfg.Model.APIKey)
	}
	if cfg.Model.Name != "claude-3-5-sonnet-20241022" {
		t.Errorf("Model.Name = %q", cfg.Model.Name)
	}
	if cfg.Model.ScreenshotCap != 4 || cfg.Model.MinKeywords != 15 {
		t.Errorf("Model caps = %+v", cfg.Model)
	}
	if cfg.Pipeline.RelatedCap != 3 || cfg.Pipeline.ScoreCap != 15 {
		t.Errorf("Pipeline = %+v", cfg.Pipeline)
	}
	if cfg.AppStore.BaseURL != "https://itunes.apple.com" {
		t.Errorf("AppStore.BaseURL = %q", cfg.AppStore.BaseURL)
	}
}

func TestValidateErrors(t *testing.T) {
	base := func() Config {
		return Config{
			Server:   ServerConfig{Port: 8080},
			Model:    ModelConfig{APIKey: "k", MaxTokens: 2000, Temperature: 0.3},
			HTTP:     HTTPConfig{TimeoutSeconds: 30},
			Pipeline: PipelineConfig{RelatedCap: 3, ScoreCap: 15},
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"missing port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"missing model key", func(c *Config) { c.Model.APIKey = "" }, "model.api_key"},
		{"bad temperature", func(c *Config) { c.Model.Temperature = 1.5 }, "model.temperature"},
		{"zero related cap", func(c *Config) { c.Pipeline.RelatedCap = 0 }, "pipeline.related_cap"},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"scoring without url", func(c *Config) { c.Scoring.Enabled = true }, "scoring.base_url"},
		{"pubsub without topic", func(c *Config) {
			c.PubSub.Enabled = true
			c.PubSub.ProjectID = "proj"
		}, "pubsub"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("Validate() = %v, want mention of %q", err, tc.wantSub)
			}
		})
	}
}
