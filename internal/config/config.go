package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the engine configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Analysis Policy         `mapstructure:"analysis"`
}

// ServerConfig represents the HTTP surface configuration
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	AuthToken      string        `mapstructure:"auth_token"`
	RatePerMinute  int           `mapstructure:"rate_per_minute"`
	RateBurst      int           `mapstructure:"rate_burst"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
}

// DatabaseConfig represents the optional report archive
type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	Enabled        bool          `mapstructure:"enabled"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LoggingConfig represents logger configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AlertsConfig represents alert fan-out configuration
type AlertsConfig struct {
	MinSeverity string   `mapstructure:"min_severity"`
	HistorySize int      `mapstructure:"history_size"`
	Webhooks    []string `mapstructure:"webhooks"`
	NATSURL     string   `mapstructure:"nats_url"`
	NATSSubject string   `mapstructure:"nats_subject"`
}

// BatchConfig represents batch screening configuration
type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	MaxJobs     int `mapstructure:"max_jobs"`
}

// Load reads configuration from an optional file and SOLGUARD_ prefixed
// environment variables. An empty path searches the usual locations.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/solana-guard")
	}

	v.SetEnvPrefix("SOLGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{Analysis: DefaultPolicy()}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Analysis.Validate(); err != nil {
		return nil, fmt.Errorf("analysis policy: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.rate_per_minute", 120)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.session_ttl", "1h")

	// Database defaults
	v.SetDefault("database.url", "")
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.connect_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Alert defaults
	v.SetDefault("alerts.min_severity", "high")
	v.SetDefault("alerts.history_size", 500)
	v.SetDefault("alerts.nats_url", "")
	v.SetDefault("alerts.nats_subject", "solguard.alerts")

	// Batch defaults
	v.SetDefault("batch.concurrency", 8)
	v.SetDefault("batch.max_jobs", 1000)

	// Policy knobs that are commonly tuned from the environment
	p := DefaultPolicy()
	v.SetDefault("analysis.poisoning_similarity", p.PoisoningSimilarity)
	v.SetDefault("analysis.max_explored_paths", p.MaxExploredPaths)
	v.SetDefault("analysis.max_centrality_nodes", p.MaxCentralityNodes)
	v.SetDefault("analysis.louvain_enabled", p.LouvainEnabled)
	v.SetDefault("analysis.louvain_seed", p.LouvainSeed)
	v.SetDefault("analysis.louvain_resolution", p.LouvainResolution)
}
