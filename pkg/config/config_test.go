package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Gateway.Host)
	assert.Equal(t, 3001, cfg.Gateway.Port)
	assert.Equal(t, "http://localhost:5173", cfg.Gateway.CORSOrigin)
	assert.Equal(t, 30, cfg.Session.TTLMinutes)
	assert.Equal(t, 5, cfg.Session.SweepMinutes)
	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.OpenAIModel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RELAY_PORT", "8080")
	t.Setenv("SESSION_TTL_MINUTES", "5")
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("CORS_ORIGIN", "https://ioperator.ai")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Gateway.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddr())
	assert.Equal(t, 5, cfg.Session.TTLMinutes)
	assert.Equal(t, ProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, "https://ioperator.ai", cfg.Gateway.CORSOrigin)
}

func TestValidate_Rejects(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"RELAY_PORT": "0"}},
		{"negative ttl", map[string]string{"SESSION_TTL_MINUTES": "-1"}},
		{"zero sweep", map[string]string{"SESSION_SWEEP_MINUTES": "0"}},
		{"unknown provider", map[string]string{"LLM_PROVIDER": "bard"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDurations(t *testing.T) {
	t.Setenv("SESSION_TTL_MINUTES", "30")
	t.Setenv("LLM_TIMEOUT_SECONDS", "15")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "30m0s", cfg.SessionTTL().String())
	assert.Equal(t, "5m0s", cfg.SweepInterval().String())
	assert.Equal(t, "15s", cfg.LLMTimeout().String())
}
