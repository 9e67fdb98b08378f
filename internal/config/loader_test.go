package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)

	require.Equal(t, 3, cfg.Throttle.MaxConcurrentRequests)
	require.Equal(t, 5, cfg.Throttle.RequestsPerSecond)
	require.Equal(t, time.Second, cfg.Throttle.BackoffFloor)
	require.Equal(t, 30*time.Second, cfg.Throttle.MaxBackoffDelay)
	require.Equal(t, 30*time.Second, cfg.Throttle.RequestTimeout)

	require.Equal(t, 3, cfg.Executor.MaxConcurrentExecutions)
	require.Equal(t, 60*time.Second, cfg.Executor.StalenessTimeout)
	require.Equal(t, 3, cfg.Executor.MaxRetries)
	require.Equal(t, 0.8, cfg.Executor.MaxRiskScore)
	require.Zero(t, cfg.Executor.TargetCooldown)

	require.Equal(t, "localhost", cfg.Server.Host)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "libsql", cfg.Store.Driver)
	require.Equal(t, "memory", cfg.Cooldown.Backend)
	require.Equal(t, "info", cfg.Logging.Level)
	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoadDecodesDurationStrings(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("throttle.backoff_floor", "250ms")
	v.Set("executor.staleness_timeout", "90s")

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, cfg.Throttle.BackoffFloor)
	require.Equal(t, 90*time.Second, cfg.Executor.StalenessTimeout)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	base := func() *viper.Viper {
		v := viper.New()
		SetDefaults(v)
		return v
	}

	t.Run("ZeroConcurrency", func(t *testing.T) {
		v := base()
		v.Set("throttle.max_concurrent_requests", 0)
		_, err := Load(v)
		require.Error(t, err)
	})

	t.Run("BackoffCeilingBelowFloor", func(t *testing.T) {
		v := base()
		v.Set("throttle.backoff_floor", "10s")
		v.Set("throttle.max_backoff_delay", "1s")
		_, err := Load(v)
		require.Error(t, err)
	})

	t.Run("NegativeRetries", func(t *testing.T) {
		v := base()
		v.Set("executor.max_retries", -1)
		_, err := Load(v)
		require.Error(t, err)
	})

	t.Run("RiskScoreOutOfRange", func(t *testing.T) {
		v := base()
		v.Set("executor.max_risk_score", 1.5)
		_, err := Load(v)
		require.Error(t, err)
	})

	t.Run("NilConfig", func(t *testing.T) {
		var cfg *Config
		require.Error(t, cfg.Validate())
	})
}

func TestRuntimeSwapIsAtomic(t *testing.T) {
	first := &Config{Throttle: ThrottleConfig{MaxConcurrentRequests: 1}}
	second := &Config{Throttle: ThrottleConfig{MaxConcurrentRequests: 9}}

	rt := NewRuntime(first)
	require.Same(t, first, rt.Active())

	prev := rt.Swap(second)
	require.Same(t, first, prev)
	require.Same(t, second, rt.Active())

	// Swapping nil is a no-op.
	require.Nil(t, rt.Swap(nil))
	require.Same(t, second, rt.Active())
}
