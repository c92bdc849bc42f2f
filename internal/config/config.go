// Package config loads the relay's process configuration from the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var ErrConfiguration = errors.New("configuration error")

const (
	DefaultLogLevel          = "info"
	DefaultHistoryLimit      = 10
	DefaultDedupeEvents      = true
	DefaultEventTTL          = 24 * time.Hour
	DefaultStoreTimeout      = 3 * time.Second
	DefaultOpenAIBaseURL     = "https://api.openai.com/v1"
	DefaultOpenAIModel       = "gpt-4o-mini"
	DefaultOpenAIMaxTokens   = 300
	DefaultOpenAITemperature = 0.7
	DefaultOpenAITimeout     = 20 * time.Second
	DefaultSearchBaseURL     = "https://www.googleapis.com"
	DefaultSearchMaxResults  = 3
	DefaultSearchTimeout     = 5 * time.Second
	DefaultLineBaseURL       = "https://api.line.me"
	DefaultReplyTimeout      = 5 * time.Second
	DefaultMaxReplyChars     = 300
)

// SSM parameter names, relative to ParamPrefix.
const (
	ParamOpenAIToken            = "/openai-token"
	ParamLineChannelSecret      = "/line-channel-secret"
	ParamLineChannelAccessToken = "/line-channel-access-token"
	ParamSearchAPIKey           = "/search-api-key"
)

type Config struct {
	StateTable     string `mapstructure:"state_table" validate:"required"`
	ParamPrefix    string `mapstructure:"param_prefix" validate:"required,startswith=/"`
	SearchEngineID string `mapstructure:"search_engine_id" validate:"required"`

	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	HistoryLimit int           `mapstructure:"history_limit" validate:"gt=0,lte=100"`
	DedupeEvents bool          `mapstructure:"dedupe_events"`
	EventTTL     time.Duration `mapstructure:"event_ttl" validate:"gt=0"`
	StoreTimeout time.Duration `mapstructure:"store_timeout" validate:"gt=0"`

	OpenAIBaseURL     string        `mapstructure:"openai_base_url" validate:"required,url"`
	OpenAIModel       string        `mapstructure:"openai_model" validate:"required"`
	OpenAIMaxTokens   int           `mapstructure:"openai_max_tokens" validate:"gt=0"`
	OpenAITemperature float64       `mapstructure:"openai_temperature" validate:"gte=0,lte=2"`
	OpenAITopP        *float64      `mapstructure:"-" validate:"omitempty,gte=0,lte=1"`
	OpenAITimeout     time.Duration `mapstructure:"openai_timeout" validate:"gt=0"`

	SearchBaseURL    string        `mapstructure:"search_base_url" validate:"required,url"`
	SearchMaxResults int           `mapstructure:"search_max_results" validate:"gt=0,lte=10"`
	SearchSite       string        `mapstructure:"search_site"`
	SearchTimeout    time.Duration `mapstructure:"search_timeout" validate:"gt=0"`

	LineBaseURL  string        `mapstructure:"line_base_url" validate:"required,url"`
	ReplyTimeout time.Duration `mapstructure:"reply_timeout" validate:"gt=0"`

	Persona       string `mapstructure:"persona"`
	MaxReplyChars int    `mapstructure:"max_reply_chars" validate:"gt=0"`
}

// Load reads configuration from environment variables over built-in
// defaults and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	// Keys without a default are invisible to Unmarshal unless bound.
	for _, key := range []string{"state_table", "param_prefix", "search_engine_id", "search_site", "persona", "openai_top_p"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("%w: bind %s: %v", ErrConfiguration, key, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}
	if v.IsSet("openai_top_p") && strings.TrimSpace(v.GetString("openai_top_p")) != "" {
		topP := v.GetFloat64("openai_top_p")
		cfg.OpenAITopP = &topP
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)

	v.SetDefault("history_limit", DefaultHistoryLimit)
	v.SetDefault("dedupe_events", DefaultDedupeEvents)
	v.SetDefault("event_ttl", DefaultEventTTL)
	v.SetDefault("store_timeout", DefaultStoreTimeout)

	v.SetDefault("openai_base_url", DefaultOpenAIBaseURL)
	v.SetDefault("openai_model", DefaultOpenAIModel)
	v.SetDefault("openai_max_tokens", DefaultOpenAIMaxTokens)
	v.SetDefault("openai_temperature", DefaultOpenAITemperature)
	v.SetDefault("openai_timeout", DefaultOpenAITimeout)

	v.SetDefault("search_base_url", DefaultSearchBaseURL)
	v.SetDefault("search_max_results", DefaultSearchMaxResults)
	v.SetDefault("search_timeout", DefaultSearchTimeout)

	v.SetDefault("line_base_url", DefaultLineBaseURL)
	v.SetDefault("reply_timeout", DefaultReplyTimeout)

	v.SetDefault("max_reply_chars", DefaultMaxReplyChars)
}

func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// Param returns the full SSM parameter name for one of the Param* names.
func (c *Config) Param(name string) string {
	return c.ParamPrefix + name
}

// SlogLevel maps LogLevel onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
