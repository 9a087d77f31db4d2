// Package config loads and validates gateway configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Retry     RetryConfig     `mapstructure:"retry"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// BackendConfig points at the upstream scraping service and sets the
// timeouts used when talking to it. The probe timeout is deliberately
// short and independent of the wait bound; the forward timeout is
// generous because scraping is slow.
type BackendConfig struct {
	URL                  string `mapstructure:"url"`
	ProbeTimeoutSeconds  int    `mapstructure:"probe_timeout_seconds"`
	ProbeIntervalSeconds int    `mapstructure:"probe_interval_seconds"`
	WakeTimeoutSeconds   int    `mapstructure:"wake_timeout_seconds"`
	ForwardTimeoutSecs   int    `mapstructure:"forward_timeout_seconds"`
}

// RetryConfig governs the deferral behavior when the backend is asleep.
type RetryConfig struct {
	RetryAfterSeconds   int `mapstructure:"retry_after_seconds"`
	MaxBlockWaitSeconds int `mapstructure:"max_block_wait_seconds"`
}

// RateLimitConfig throttles clients per IP. RPS <= 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WAKEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy env names from the hosted deployment keep working.
	bindings := map[string]string{
		"backend.url":                  "RENDER_SERVICE_URL",
		"retry.retry_after_seconds":    "RETRY_AFTER",
		"retry.max_block_wait_seconds": "MAX_BLOCK_WAIT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

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
	v.SetDefault("backend.probe_timeout_seconds", 5)
	v.SetDefault("backend.probe_interval_seconds", 2)
	v.SetDefault("backend.wake_timeout_seconds", 10)
	v.SetDefault("backend.forward_timeout_seconds", 60)
	v.SetDefault("retry.retry_after_seconds", 30)
	v.SetDefault("retry.max_block_wait_seconds", 20)
	v.SetDefault("ratelimit.rps", 0)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url must be set (RENDER_SERVICE_URL)")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.url must be an absolute URL: %q", c.Backend.URL)
	}
	if c.Backend.ProbeTimeoutSeconds <= 0 {
		return fmt.Errorf("backend.probe_timeout_seconds must be > 0")
	}
	if c.Backend.ProbeIntervalSeconds <= 0 {
		return fmt.Errorf("backend.probe_interval_seconds must be > 0")
	}
	if c.Backend.ForwardTimeoutSecs <= 0 {
		return fmt.Errorf("backend.forward_timeout_seconds must be > 0")
	}
	if c.Retry.RetryAfterSeconds <= 0 {
		return fmt.Errorf("retry.retry_after_seconds must be > 0")
	}
	if c.Retry.MaxBlockWaitSeconds < 0 {
		return fmt.Errorf("retry.max_block_wait_seconds must be >= 0")
	}
	if c.Retry.MaxBlockWaitSeconds > 0 &&
		c.Backend.ProbeIntervalSeconds > c.Retry.MaxBlockWaitSeconds {
		return fmt.Errorf("backend.probe_interval_seconds must not exceed retry.max_block_wait_seconds")
	}
	return nil
}

// ProbeTimeout returns the liveness probe timeout as a duration.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Backend.ProbeTimeoutSeconds) * time.Second
}

// ProbeInterval returns the re-probe interval used in the wait loop.
func (c Config) ProbeInterval() time.Duration {
	return time.Duration(c.Backend.ProbeIntervalSeconds) * time.Second
}

// WakeTimeout returns the advisory wake call timeout.
func (c Config) WakeTimeout() time.Duration {
	return time.Duration(c.Backend.WakeTimeoutSeconds) * time.Second
}

// ForwardTimeout returns the work call timeout.
func (c Config) ForwardTimeout() time.Duration {
	return time.Duration(c.Backend.ForwardTimeoutSecs) * time.Second
}

// MaxBlockWait returns the upper bound on per-request blocking.
func (c Config) MaxBlockWait() time.Duration {
	return time.Duration(c.Retry.MaxBlockWaitSeconds) * time.Second
}
