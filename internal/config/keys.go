package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FIFTHDRAFT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "FIFTHDRAFT_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "log.level", typ: kString, env: "FIFTHDRAFT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FIFTHDRAFT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "anthropic.api_key", typ: kString, env: "FIFTHDRAFT_ANTHROPIC_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Anthropic.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Anthropic.APIKey },
	},
	{
		key: "anthropic.model", typ: kString, env: "FIFTHDRAFT_ANTHROPIC_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Anthropic.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Anthropic.Model },
	},
	{
		key: "anthropic.max_tokens", typ: kInt, env: "FIFTHDRAFT_ANTHROPIC_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Anthropic.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Anthropic.MaxTokens },
	},
	{
		key: "tavily.api_key", typ: kString, env: "FIFTHDRAFT_TAVILY_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Tavily.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Tavily.APIKey },
	},
	{
		key: "tavily.base_url", typ: kString, env: "FIFTHDRAFT_TAVILY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Tavily.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Tavily.BaseURL },
	},
	{
		key: "tavily.cache_ttl", typ: kString, env: "FIFTHDRAFT_TAVILY_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Tavily.CacheTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Tavily.CacheTTL },
	},
	{
		key: "tavily.rate_per_second", typ: kFloat, env: "FIFTHDRAFT_TAVILY_RATE_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Tavily.RatePerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Tavily.RatePerSecond },
	},
	{
		key: "ollama.base_url", typ: kString, env: "FIFTHDRAFT_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "FIFTHDRAFT_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "related.threshold", typ: kFloat, env: "FIFTHDRAFT_RELATED_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Related.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Related.Threshold },
	},
	{
		key: "related.limit", typ: kInt, env: "FIFTHDRAFT_RELATED_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Related.Limit = v.(int) },
		extract: func(cfg Config) any { return cfg.Related.Limit },
	},
	{
		key: "research.max_queries", typ: kInt, env: "FIFTHDRAFT_RESEARCH_MAX_QUERIES",
		apply:   func(cfg *Config, v any) { cfg.Research.MaxQueries = v.(int) },
		extract: func(cfg Config) any { return cfg.Research.MaxQueries },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		if v, err := parseValue(s.typ, raw); err == nil {
			s.apply(cfg, v)
		} else {
			slog.Warn("config: ignoring invalid value", "key", s.key, "value", raw, "error", err)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		if v, err := parseValue(s.typ, raw); err == nil {
			s.apply(cfg, v)
		} else {
			slog.Warn("config: ignoring invalid env var", "env", s.env, "value", raw, "error", err)
		}
	}
}

// parseValue converts raw to the Go type apply expects for typ.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	default:
		return raw, nil
	}
}
