package domain

import (
	"time"
)

// Config represents the main engine configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Models  []ModelConfig `mapstructure:"models"`
	Alerts  AlertsConfig  `mapstructure:"alerts"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig represents the operational HTTP surface.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// StoreConfig selects the event and snapshot store backends.
// Backend is one of "memory", "sqlite", "postgres".
type StoreConfig struct {
	Backend     string `mapstructure:"backend"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresURL string `mapstructure:"postgres_url"`
}

// RedisConfig configures the optional distributed tier for the
// last-known-good prediction cache and the redis alert sink.
type RedisConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Addr    string        `mapstructure:"addr"`
	DB      int           `mapstructure:"db"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// SignalConfig declares one tracked signal and its clinical severity weight.
type SignalConfig struct {
	Name           string  `mapstructure:"name"`
	ClinicalWeight float64 `mapstructure:"clinical_weight"`
}

// EngineConfig tunes the temporal aggregator, orchestrator and façade.
type EngineConfig struct {
	Signals          []SignalConfig `mapstructure:"signals"`
	ShortWindow      time.Duration  `mapstructure:"short_window"`
	MediumWindow     time.Duration  `mapstructure:"medium_window"`
	LongWindow       time.Duration  `mapstructure:"long_window"`
	BaselineLookback time.Duration  `mapstructure:"baseline_lookback"`
	ZScoreThreshold  float64        `mapstructure:"zscore_threshold"`
	MinWindowSamples int            `mapstructure:"min_window_samples"`
	ModelTimeout     time.Duration  `mapstructure:"model_timeout"`
	RefreshTimeout   time.Duration  `mapstructure:"refresh_timeout"`
	FailureThreshold uint32         `mapstructure:"failure_threshold"`
	BreakerCooldown  time.Duration  `mapstructure:"breaker_cooldown"`
	LKGCacheSize     int            `mapstructure:"lkg_cache_size"`
}

// ModelConfig declares one external prediction service.
type ModelConfig struct {
	Name      string        `mapstructure:"name"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit int           `mapstructure:"rate_limit"`
}

// AlertsConfig tunes alert generation and delivery.
type AlertsConfig struct {
	ClinicalWeightThreshold float64       `mapstructure:"clinical_weight_threshold"`
	ConfidenceFloor         float64       `mapstructure:"confidence_floor"`
	ConfidenceHighMark      float64       `mapstructure:"confidence_high_mark"`
	DegradedFor             time.Duration `mapstructure:"degraded_for"`
	SuppressionWindow       time.Duration `mapstructure:"suppression_window"`
	WebhookURL              string        `mapstructure:"webhook_url"`
	WebsocketURL            string        `mapstructure:"websocket_url"`
	RedisChannel            string        `mapstructure:"redis_channel"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
