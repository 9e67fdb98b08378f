// Package config provides centralized configuration management for
// chainhound. Values are read through viper and decoded into the typed
// Config struct; the active configuration is held behind an atomic pointer
// so live updates never expose a torn read to concurrent readers.
package config

import (
	"fmt"
	"sync/atomic"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Runtime holds the active configuration. Readers call Active and get a
// consistent snapshot; Swap atomically replaces the whole configuration.
type Runtime struct {
	ptr atomic.Pointer[Config]
}

// NewRuntime creates a runtime holder seeded with cfg.
func NewRuntime(cfg *Config) *Runtime {
	r := &Runtime{}
	if cfg != nil {
		r.ptr.Store(cfg)
	}
	return r
}

// Active returns the current configuration snapshot.
func (r *Runtime) Active() *Config {
	if r == nil {
		return nil
	}
	return r.ptr.Load()
}

// Swap atomically replaces the active configuration and returns the
// previous one.
func (r *Runtime) Swap(cfg *Config) *Config {
	if r == nil || cfg == nil {
		return nil
	}
	return r.ptr.Swap(cfg)
}

// Load decodes the merged viper settings into a typed Config.
// Duration fields accept string forms ("200ms", "30s").
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.GetViper()
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is required")
	}
	if c.Throttle.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("throttle.max_concurrent_requests must be positive")
	}
	if c.Throttle.RequestsPerSecond <= 0 {
		return fmt.Errorf("throttle.requests_per_second must be positive")
	}
	if c.Throttle.BackoffFloor <= 0 {
		return fmt.Errorf("throttle.backoff_floor must be positive")
	}
	if c.Throttle.MaxBackoffDelay < c.Throttle.BackoffFloor {
		return fmt.Errorf("throttle.max_backoff_delay must be at least the backoff floor")
	}
	if c.Throttle.RequestTimeout <= 0 {
		return fmt.Errorf("throttle.request_timeout must be positive")
	}
	if c.Executor.MaxConcurrentExecutions <= 0 {
		return fmt.Errorf("executor.max_concurrent_executions must be positive")
	}
	if c.Executor.MaxRetries < 0 {
		return fmt.Errorf("executor.max_retries must not be negative")
	}
	if c.Executor.StalenessTimeout <= 0 {
		return fmt.Errorf("executor.staleness_timeout must be positive")
	}
	if c.Executor.MaxRiskScore < 0 || c.Executor.MaxRiskScore > 1 {
		return fmt.Errorf("executor.max_risk_score must be within [0, 1]")
	}
	return nil
}

// SetDefaults installs default configuration values on v.
func SetDefaults(v *viper.Viper) {
	if v == nil {
		v = viper.GetViper()
	}

	// Throttle defaults
	v.SetDefault("throttle.max_concurrent_requests", 3)
	v.SetDefault("throttle.requests_per_second", 5)
	v.SetDefault("throttle.backoff_floor", "1s")
	v.SetDefault("throttle.max_backoff_delay", "30s")
	v.SetDefault("throttle.request_timeout", "30s")

	// Executor defaults
	v.SetDefault("executor.max_concurrent_executions", 3)
	v.SetDefault("executor.min_profit_threshold", 0.0)
	v.SetDefault("executor.max_cost_threshold", 1e18)
	v.SetDefault("executor.max_risk_score", 0.8)
	v.SetDefault("executor.staleness_timeout", "60s")
	v.SetDefault("executor.max_retries", 3)
	v.SetDefault("executor.confirmation_timeout", "30s")
	v.SetDefault("executor.target_cooldown", "0s")

	// Ledger defaults
	v.SetDefault("ledger.endpoint", "http://localhost:8899")
	v.SetDefault("ledger.endpoints_file", "")

	// Cooldown defaults
	v.SetDefault("cooldown.backend", "memory")
	v.SetDefault("cooldown.redis_addr", "localhost:6379")
	v.SetDefault("cooldown.redis_db", 0)

	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "./chainhound.db")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
}
