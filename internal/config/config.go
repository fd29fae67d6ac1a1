// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Browser BrowserConfig `mapstructure:"browser"`
	Solver  SolverConfig  `mapstructure:"solver"`
	Session SessionConfig `mapstructure:"session"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FetchConfig governs job validation limits and attempt behavior.
type FetchConfig struct {
	MaxURLs            int     `mapstructure:"max_urls"`
	DefaultConcurrency int     `mapstructure:"default_concurrency"`
	MaxConcurrency     int     `mapstructure:"max_concurrency"`
	DefaultRetries     int     `mapstructure:"default_retries"`
	MaxWaitSeconds     int     `mapstructure:"max_wait_seconds"`
	NavTimeoutSec      int     `mapstructure:"nav_timeout_seconds"`
	SettleExtraSec     int     `mapstructure:"settle_extra_seconds"`
	ProxyPerAttempt    bool    `mapstructure:"proxy_per_attempt"`
	HostQPS            float64 `mapstructure:"host_qps"`
}

// BrowserConfig configures the headless rendering subsystem.
type BrowserConfig struct {
	Headless  bool   `mapstructure:"headless"`
	UserAgent string `mapstructure:"user_agent"`
}

// SolverConfig points at the challenge solver service.
type SolverConfig struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// SessionConfig controls the domain session cache.
type SessionConfig struct {
	MaxStaleMinutes     int `mapstructure:"max_stale_minutes"`
	CleanupIntervalMins int `mapstructure:"cleanup_interval_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FETCHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("fetch.max_urls", 1000)
	v.SetDefault("fetch.default_concurrency", 5)
	v.SetDefault("fetch.max_concurrency", 20)
	v.SetDefault("fetch.default_retries", 2)
	v.SetDefault("fetch.max_wait_seconds", 60)
	v.SetDefault("fetch.nav_timeout_seconds", 60)
	v.SetDefault("fetch.settle_extra_seconds", 5)
	v.SetDefault("fetch.proxy_per_attempt", false)
	v.SetDefault("fetch.host_qps", 0)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("solver.url", "http://localhost:8191")
	v.SetDefault("solver.timeout_seconds", 60)
	v.SetDefault("session.max_stale_minutes", 30)
	v.SetDefault("session.cleanup_interval_minutes", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.MaxURLs <= 0 {
		return fmt.Errorf("fetch.max_urls must be > 0")
	}
	if c.Fetch.DefaultConcurrency <= 0 {
		return fmt.Errorf("fetch.default_concurrency must be > 0")
	}
	if c.Fetch.MaxConcurrency < c.Fetch.DefaultConcurrency {
		return fmt.Errorf("fetch.max_concurrency must be >= fetch.default_concurrency")
	}
	if c.Fetch.DefaultRetries < 0 {
		return fmt.Errorf("fetch.default_retries must be >= 0")
	}
	if c.Fetch.HostQPS < 0 {
		return fmt.Errorf("fetch.host_qps must be >= 0")
	}
	if c.Solver.URL == "" {
		return fmt.Errorf("solver.url must be set")
	}
	if c.Session.MaxStaleMinutes <= 0 {
		return fmt.Errorf("session.max_stale_minutes must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// NavTimeout converts the navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Fetch.NavTimeoutSec) * time.Second
}

// SettleExtra converts the settle window into a duration.
func (c Config) SettleExtra() time.Duration {
	return time.Duration(c.Fetch.SettleExtraSec) * time.Second
}

// MaxWait converts the per-URL wait ceiling into a duration.
func (c Config) MaxWait() time.Duration {
	return time.Duration(c.Fetch.MaxWaitSeconds) * time.Second
}

// SolverTimeout converts the solver budget into a duration.
func (c Config) SolverTimeout() time.Duration {
	return time.Duration(c.Solver.TimeoutSeconds) * time.Second
}

// SessionMaxStale converts the staleness threshold into a duration.
func (c Config) SessionMaxStale() time.Duration {
	return time.Duration(c.Session.MaxStaleMinutes) * time.Minute
}

// SessionCleanupInterval converts the sweep cadence into a duration.
func (c Config) SessionCleanupInterval() time.Duration {
	return time.Duration(c.Session.CleanupIntervalMins) * time.Minute
}
