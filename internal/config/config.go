package config

import "time"

// Config represents the complete application configuration.
// Layering: built-in defaults, an optional YAML config file, then
// CHAINHOUND_* environment variables.
type Config struct {
	Throttle ThrottleConfig `mapstructure:"throttle"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Cooldown CooldownConfig `mapstructure:"cooldown"`
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ThrottleConfig paces outbound calls to the shared ledger endpoint.
type ThrottleConfig struct {
	// MaxConcurrentRequests caps simultaneously in-flight upstream calls.
	MaxConcurrentRequests int `mapstructure:"max_concurrent_requests"`

	// RequestsPerSecond spaces successive dispatches by 1/rps.
	RequestsPerSecond int `mapstructure:"requests_per_second"`

	// BackoffFloor is the initial backoff after a rate-limit signal and
	// the value backoff resets to after any success.
	BackoffFloor time.Duration `mapstructure:"backoff_floor"`

	// MaxBackoffDelay caps the exponential backoff growth.
	MaxBackoffDelay time.Duration `mapstructure:"max_backoff_delay"`

	// RequestTimeout is the hard per-request dispatch timeout.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ExecutorConfig controls opportunity validation and execution.
type ExecutorConfig struct {
	MaxConcurrentExecutions int           `mapstructure:"max_concurrent_executions"`
	MinProfitThreshold      float64       `mapstructure:"min_profit_threshold"`
	MaxCostThreshold        float64       `mapstructure:"max_cost_threshold"`
	MaxRiskScore            float64       `mapstructure:"max_risk_score"`
	StalenessTimeout        time.Duration `mapstructure:"staleness_timeout"`
	MaxRetries              int           `mapstructure:"max_retries"`
	ConfirmationTimeout     time.Duration `mapstructure:"confirmation_timeout"`

	// TargetCooldown blocks re-enqueueing a target for this long after an
	// execution settles. Zero disables the cooldown check.
	TargetCooldown time.Duration `mapstructure:"target_cooldown"`
}

// LedgerConfig locates the upstream RPC endpoint.
type LedgerConfig struct {
	Endpoint string `mapstructure:"endpoint"`

	// EndpointsFile optionally points at a YAML route table mapping
	// protocol tags to endpoint descriptors.
	EndpointsFile string `mapstructure:"endpoints_file"`
}

// CooldownConfig selects the target cooldown backend.
type CooldownConfig struct {
	Backend   string `mapstructure:"backend"` // "memory" or "redis"
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso.
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}
