package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/digital-twin-engine/internal/domain"
)

// Manager loads and validates the engine configuration using Viper.
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from file, environment and defaults.
func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/twin-engine/")

	viper.SetEnvPrefix("TWIN_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	// Config file is optional; defaults and environment cover the rest.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values.
func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Store defaults
	viper.SetDefault("store.backend", "memory")
	viper.SetDefault("store.sqlite_path", "twin-engine.db")
	viper.SetDefault("store.postgres_url", "")

	// Redis defaults
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttl", "24h")

	// Engine defaults
	viper.SetDefault("engine.short_window", "6h")
	viper.SetDefault("engine.medium_window", "72h")
	viper.SetDefault("engine.long_window", "504h")
	viper.SetDefault("engine.baseline_lookback", "720h")
	viper.SetDefault("engine.zscore_threshold", 2.0)
	viper.SetDefault("engine.min_window_samples", 4)
	viper.SetDefault("engine.model_timeout", "5s")
	viper.SetDefault("engine.refresh_timeout", "15s")
	viper.SetDefault("engine.failure_threshold", 5)
	viper.SetDefault("engine.breaker_cooldown", "60s")
	viper.SetDefault("engine.lkg_cache_size", 4096)

	// Alert defaults
	viper.SetDefault("alerts.clinical_weight_threshold", 0.7)
	viper.SetDefault("alerts.confidence_floor", 0.5)
	viper.SetDefault("alerts.confidence_high_mark", 0.8)
	viper.SetDefault("alerts.degraded_for", "30m")
	viper.SetDefault("alerts.suppression_window", "4h")
	viper.SetDefault("alerts.redis_channel", "twin:alerts")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration.
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// Reload reloads the configuration.
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration.
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Store.Backend {
	case "memory":
	case "sqlite":
		if config.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite backend")
		}
	case "postgres":
		if config.Store.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid store backend: %s", config.Store.Backend)
	}

	if config.Redis.Enabled && config.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}

	if config.Engine.ZScoreThreshold <= 0 {
		return fmt.Errorf("zscore threshold must be positive")
	}
	if config.Engine.FailureThreshold == 0 {
		return fmt.Errorf("failure threshold must be positive")
	}
	for _, sig := range config.Engine.Signals {
		if sig.Name == "" {
			return fmt.Errorf("tracked signal requires a name")
		}
		if sig.ClinicalWeight < 0 || sig.ClinicalWeight > 1 {
			return fmt.Errorf("clinical weight for signal %s must be within [0,1]", sig.Name)
		}
	}

	seen := make(map[string]bool, len(config.Models))
	for _, model := range config.Models {
		if model.Name == "" {
			return fmt.Errorf("model requires a name")
		}
		if seen[model.Name] {
			return fmt.Errorf("duplicate model name: %s", model.Name)
		}
		seen[model.Name] = true
		if model.BaseURL == "" {
			return fmt.Errorf("model %s requires a base URL", model.Name)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}
