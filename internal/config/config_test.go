package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digital-twin-engine/internal/domain"
)

func newValidatedManager(t *testing.T) *Manager {
	t.Helper()
	viper.Reset()
	m, err := NewManager()
	require.NoError(t, err)
	return m
}

func TestDefaultsProduceValidConfig(t *testing.T) {
	m := newValidatedManager(t)
	require.NoError(t, m.Validate())

	cfg := m.GetConfig()
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 2.0, cfg.Engine.ZScoreThreshold, 1e-9)
	assert.Equal(t, uint32(5), cfg.Engine.FailureThreshold)
	assert.Equal(t, "twin:alerts", cfg.Alerts.RedisChannel)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("TWIN_ENGINE_SERVER_PORT", "9090")
	t.Setenv("TWIN_ENGINE_STORE_BACKEND", "sqlite")
	t.Setenv("TWIN_ENGINE_LOGGING_LEVEL", "debug")

	m := newValidatedManager(t)
	require.NoError(t, m.Validate())

	cfg := m.GetConfig()
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *domain.Config)
	}{
		{"bad port", func(c *domain.Config) { c.Server.Port = -1 }},
		{"unknown backend", func(c *domain.Config) { c.Store.Backend = "etcd" }},
		{"postgres without url", func(c *domain.Config) { c.Store.Backend = "postgres"; c.Store.PostgresURL = "" }},
		{"redis enabled without addr", func(c *domain.Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }},
		{"zero zscore", func(c *domain.Config) { c.Engine.ZScoreThreshold = 0 }},
		{"zero failure threshold", func(c *domain.Config) { c.Engine.FailureThreshold = 0 }},
		{"unnamed signal", func(c *domain.Config) {
			c.Engine.Signals = []domain.SignalConfig{{Name: "", ClinicalWeight: 0.5}}
		}},
		{"weight out of range", func(c *domain.Config) {
			c.Engine.Signals = []domain.SignalConfig{{Name: "symptom_score", ClinicalWeight: 1.5}}
		}},
		{"model without url", func(c *domain.Config) {
			c.Models = []domain.ModelConfig{{Name: "forecast"}}
		}},
		{"duplicate model", func(c *domain.Config) {
			c.Models = []domain.ModelConfig{
				{Name: "forecast", BaseURL: "http://a"},
				{Name: "forecast", BaseURL: "http://b"},
			}
		}},
		{"bad log level", func(c *domain.Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newValidatedManager(t)
			tt.mutate(m.GetConfig())
			assert.Error(t, m.Validate())
		})
	}
}
