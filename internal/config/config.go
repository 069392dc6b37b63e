// Package config loads layered configuration: defaults, then a JSON file
// at $XDG_CONFIG_HOME/fifthdraft/config.json, then FIFTHDRAFT_* environment
// variables. Secrets come from the environment or the secrets file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	Anthropic AnthropicConfig
	Tavily    TavilyConfig
	Ollama    OllamaConfig
	Related   RelatedConfig
	Research  ResearchConfig
}

type ServerConfig struct {
	Port int
	// APIToken guards the REST API. Empty disables auth.
	APIToken string
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
}

type TavilyConfig struct {
	APIKey  string
	BaseURL string
	// CacheTTL is a Go duration string. Empty or "0" disables caching.
	CacheTTL      string
	RatePerSecond float64
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type RelatedConfig struct {
	Threshold float64
	Limit     int
}

type ResearchConfig struct {
	MaxQueries int
}

func defaults() Config {
	return Config{
		Server:    ServerConfig{Port: 4100},
		Log:       LogConfig{Level: "info"},
		Storage:   StorageConfig{DataDir: defaultDataDir()},
		Anthropic: AnthropicConfig{Model: "claude-3-5-sonnet-20241022", MaxTokens: 4096},
		Tavily:    TavilyConfig{BaseURL: "https://api.tavily.com"},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Related:  RelatedConfig{Threshold: 0.7, Limit: 5},
		Research: ResearchConfig{MaxQueries: 5},
	}
}

// Load reads configuration. Missing secrets are not an error here; the
// clients that need them fail at construction.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), fileSecrets{path: secretsFilePath()})
}

// secretReader abstracts the secrets file for testing.
type secretReader interface {
	Get(key string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if _, err := cfg.Tavily.CacheDuration(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// CacheDuration parses CacheTTL.
func (t TavilyConfig) CacheDuration() (time.Duration, error) {
	if t.CacheTTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(t.CacheTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid tavily.cache_ttl %q: %w", t.CacheTTL, err)
	}
	return d, nil
}

// SlogLevel maps Log.Level to a slog level. Unknown values map to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "fifthdraft-data"
		}
	}
	return filepath.Join(dir, "fifthdraft")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "fifthdraft", "config.json")
}
