package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/chainhound/chainhound/internal/config"
	"github.com/chainhound/chainhound/internal/cooldown"
	"github.com/chainhound/chainhound/internal/core"
	"github.com/chainhound/chainhound/internal/core/executor"
	"github.com/chainhound/chainhound/internal/core/throttle"
	errwrap "github.com/chainhound/chainhound/internal/errors"
	"github.com/chainhound/chainhound/internal/events"
	"github.com/chainhound/chainhound/internal/ledger"
	"github.com/chainhound/chainhound/internal/observability"
	"github.com/chainhound/chainhound/internal/server"
	"github.com/chainhound/chainhound/internal/server/handlers"
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the execution pipeline and HTTP API",
	Long: `Run the full pipeline: the request throttle against the configured
ledger endpoint, the bounded execution queue, and the HTTP API for
opportunity ingestion and observability.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload config and apply throttle/executor limits live`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to load configuration", err)
		}
		if err := cfg.Validate(); err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration", err)
		}
		runtime := config.NewRuntime(cfg)

		logLevel := cfg.Logging.Level
		if verbose {
			logLevel = "debug"
		}
		observability.InitPipelineLogger("chainhound", logLevel)
		logger := observability.PipelineLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics("chainhound", cfg.Metrics.Port); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}

		logger.Info("Initializing pipeline",
			zap.String("version", versionInfo.Version),
			zap.String("ledger_endpoint", cfg.Ledger.Endpoint),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", cfg.Metrics.Port))

		// Persistence
		db, err := openStore(cmd.Context())
		if err != nil {
			ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Failed to open store", err)
		}

		// Event bus for lifecycle notifications
		bus := events.NewBus()

		// Target cooldown backend
		var cooldowns cooldown.Store
		switch cfg.Cooldown.Backend {
		case "redis":
			client := redis.NewClient(&redis.Options{
				Addr: cfg.Cooldown.RedisAddr,
				DB:   cfg.Cooldown.RedisDB,
			})
			if err := client.Ping(cmd.Context()).Err(); err != nil {
				ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Failed to connect to redis cooldown backend", err)
			}
			cooldowns = cooldown.NewRedisStore(client)
		default:
			cooldowns = cooldown.NewMemoryStore()
		}

		// Ledger routes and transport
		routes := ledger.DefaultRoutes()
		if cfg.Ledger.EndpointsFile != "" {
			routes, err = ledger.LoadRoutes(cfg.Ledger.EndpointsFile)
			if err != nil {
				ExitWithCode(logger, foundry.ExitConfigInvalid, "Failed to load ledger routes", err)
			}
		}

		transport := ledger.NewHTTPTransport(cfg.Ledger.Endpoint)
		thr := throttle.New(cfg.Throttle, transport, logger)
		client := ledger.NewClient(thr, routes)

		execs := []executor.ProtocolExecutor{
			ledger.NewOpExecutor(core.ProtocolArbitrage, client),
			ledger.NewOpExecutor(core.ProtocolLiquidation, client),
		}
		queue := executor.New(runtime, bus, logger, execs,
			executor.WithPersister(db),
			executor.WithCooldowns(cooldowns))

		// Log lifecycle events from the bus
		eventCh, cancelEvents := bus.Subscribe(
			events.TopicQueued, events.TopicExecuted,
			events.TopicFailed, events.TopicDiscarded)
		go func() {
			for ev := range eventCh {
				fields := []zap.Field{zap.String("topic", string(ev.Topic))}
				if ev.Opportunity != nil {
					fields = append(fields,
						zap.String("opportunity_id", ev.Opportunity.ID),
						zap.String("protocol", string(ev.Opportunity.Protocol)),
						zap.String("target", ev.Opportunity.Target))
				}
				if ev.Result != nil {
					fields = append(fields,
						zap.Float64("realized_profit", ev.Result.RealizedProfit))
				}
				if ev.Error != "" {
					fields = append(fields, zap.String("error", ev.Error))
				}
				logger.Info("Opportunity lifecycle event", fields...)
			}
		}()

		// Health checks
		hm := handlers.NewHealthManager(versionInfo.Version)
		hm.RegisterChecker("store", db)
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}

		srv := server.New(cfg.Server.Host, cfg.Server.Port, server.Deps{
			Ingest:     queue,
			Queue:      queue,
			Throttle:   thr,
			Executions: db,
			Health:     hm,
		})

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Graceful shutdown handlers run LIFO: the HTTP server stops taking
		// work first, then the queue drains, then the throttle, then the
		// supporting pieces.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			cancelEvents()
			bus.Close()
			return db.Close()
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Stopping request throttle...")
			thr.Stop()
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Stopping execution queue...")
			queue.Stop()
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		// SIGHUP reloads config and applies the new limits live
		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: attempting config reload")

			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); ok {
					logger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				logger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			next, err := config.Load(viper.GetViper())
			if err != nil {
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			if err := next.Validate(); err != nil {
				return errwrap.WrapConfigInvalid(ctx, err, "reloaded config is invalid")
			}

			runtime.Swap(next)
			thr.SetConfig(next.Throttle)
			bus.Publish(events.Event{Topic: events.TopicConfigUpdated, At: time.Now()})

			logger.Info("Configuration reloaded successfully",
				zap.String("file", viper.ConfigFileUsed()))
			return nil
		})

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			logger.Info("Starting HTTP server...",
				zap.String("host", cfg.Server.Host),
				zap.Int("port", cfg.Server.Port))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "pipeline error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("host", "localhost", "server host")
	runCmd.Flags().IntP("port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", runCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", runCmd.Flags().Lookup("port"))
}
