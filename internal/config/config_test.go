package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("STATE_TABLE", "relay-state")
	t.Setenv("PARAM_PREFIX", "/line-relay/")
	t.Setenv("SEARCH_ENGINE_ID", "engine-1")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "relay-state", cfg.StateTable)
	require.Equal(t, "/line-relay", cfg.ParamPrefix)
	require.Equal(t, "engine-1", cfg.SearchEngineID)
	require.Equal(t, DefaultLogLevel, cfg.LogLevel)
	require.Equal(t, 10, cfg.HistoryLimit)
	require.True(t, cfg.DedupeEvents)
	require.Equal(t, 24*time.Hour, cfg.EventTTL)
	require.Equal(t, 3*time.Second, cfg.StoreTimeout)
	require.Equal(t, DefaultOpenAIModel, cfg.OpenAIModel)
	require.Equal(t, 300, cfg.OpenAIMaxTokens)
	require.InDelta(t, 0.7, cfg.OpenAITemperature, 1e-9)
	require.Nil(t, cfg.OpenAITopP)
	require.Equal(t, 20*time.Second, cfg.OpenAITimeout)
	require.Equal(t, 3, cfg.SearchMaxResults)
	require.Empty(t, cfg.SearchSite)
	require.Equal(t, DefaultLineBaseURL, cfg.LineBaseURL)
	require.Equal(t, 5*time.Second, cfg.ReplyTimeout)
	require.Equal(t, 300, cfg.MaxReplyChars)
	require.Equal(t, "/line-relay/openai-token", cfg.Param(ParamOpenAIToken))
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("HISTORY_LIMIT", "4")
	t.Setenv("DEDUPE_EVENTS", "false")
	t.Setenv("EVENT_TTL", "2h")
	t.Setenv("OPENAI_MODEL", "gpt-4.1-mini")
	t.Setenv("OPENAI_TEMPERATURE", "0.2")
	t.Setenv("OPENAI_TOP_P", "0.9")
	t.Setenv("SEARCH_SITE", "jma.go.jp")
	t.Setenv("SEARCH_TIMEOUT", "1500ms")
	t.Setenv("PERSONA", "You are a ship's navigator.")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	require.Equal(t, 4, cfg.HistoryLimit)
	require.False(t, cfg.DedupeEvents)
	require.Equal(t, 2*time.Hour, cfg.EventTTL)
	require.Equal(t, "gpt-4.1-mini", cfg.OpenAIModel)
	require.InDelta(t, 0.2, cfg.OpenAITemperature, 1e-9)
	require.NotNil(t, cfg.OpenAITopP)
	require.InDelta(t, 0.9, *cfg.OpenAITopP, 1e-9)
	require.Equal(t, "jma.go.jp", cfg.SearchSite)
	require.Equal(t, 1500*time.Millisecond, cfg.SearchTimeout)
	require.Equal(t, "You are a ship's navigator.", cfg.Persona)
}

func TestLoad_MissingRequired(t *testing.T) {
	cases := []string{"STATE_TABLE", "PARAM_PREFIX", "SEARCH_ENGINE_ID"}
	for _, missing := range cases {
		t.Run(missing, func(t *testing.T) {
			setRequired(t)
			t.Setenv(missing, "")

			_, err := Load()
			require.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"LOG_LEVEL":          "verbose",
		"HISTORY_LIMIT":      "0",
		"OPENAI_TEMPERATURE": "3",
		"OPENAI_TOP_P":       "1.5",
		"SEARCH_MAX_RESULTS": "11",
		"LINE_BASE_URL":      "not a url",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, val)

			_, err := Load()
			require.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	require.Equal(t, slog.LevelInfo, (&Config{LogLevel: "info"}).SlogLevel())
	require.Equal(t, slog.LevelWarn, (&Config{LogLevel: "warn"}).SlogLevel())
	require.Equal(t, slog.LevelError, (&Config{LogLevel: "error"}).SlogLevel())
	require.Equal(t, slog.LevelInfo, (&Config{}).SlogLevel())
}
