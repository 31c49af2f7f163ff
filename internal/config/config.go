// Package config assembles the service configuration from the environment,
// with per-route rate limits optionally read from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/utils"
)

type Config struct {
	Port string

	DefaultModel     string
	AuxModel         string
	DefaultReasoning string

	MaxTurns             int
	MaxParallelToolCalls int
	MaxInputSize         int
	MinToolSelection     int
	StreamMaxDuration    time.Duration

	RateLimits RateLimits
}

type RateLimit struct {
	Limit         int `yaml:"limit"`
	WindowSeconds int `yaml:"window_seconds"`
}

func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// RateLimits maps a route key to its budget. Routes absent from the map
// run unlimited.
type RateLimits map[string]RateLimit

func Load(log *logger.Logger) (*Config, error) {
	cfg := &Config{
		Port:                 utils.GetEnv("PORT", "8080", log),
		DefaultModel:         utils.GetEnv("OPENAI_MODEL", "gpt-4o-mini", log),
		AuxModel:             utils.GetEnv("AUX_MODEL", "", log),
		DefaultReasoning:     utils.GetEnv("DEFAULT_REASONING", "none", log),
		MaxTurns:             utils.GetEnvAsInt("MAX_TURNS", 10, log),
		MaxParallelToolCalls: utils.GetEnvAsInt("MAX_PARALLEL_TOOL_CALLS", 5, log),
		MaxInputSize:         utils.GetEnvAsInt("MAX_INPUT_SIZE", 10000, log),
		MinToolSelection:     utils.GetEnvAsInt("MIN_TOOL_SELECTION", 5, log),
		StreamMaxDuration:    time.Duration(utils.GetEnvAsInt("STREAM_MAX_DURATION_SECONDS", 300, log)) * time.Second,
	}

	limits, err := loadRateLimits(log)
	if err != nil {
		return nil, err
	}
	cfg.RateLimits = limits
	return cfg, nil
}

func loadRateLimits(log *logger.Logger) (RateLimits, error) {
	path := utils.GetEnv("RATE_LIMITS_PATH", "", log)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rate limits file: %w", err)
		}
		var doc struct {
			Routes RateLimits `yaml:"routes"`
		}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse rate limits file: %w", err)
		}
		return doc.Routes, nil
	}

	// Env fallback covers the one route that matters.
	limits := RateLimits{}
	if chat := utils.GetEnvAsInt("RATE_LIMIT_CHAT", 20, log); chat > 0 {
		limits["chat"] = RateLimit{
			Limit:         chat,
			WindowSeconds: utils.GetEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60, log),
		}
	}
	return limits, nil
}
