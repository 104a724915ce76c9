package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/playclock/internal/auth"
	"github.com/goodtune/playclock/internal/clock"
	"github.com/goodtune/playclock/internal/config"
	"github.com/goodtune/playclock/internal/metrics"
	"github.com/goodtune/playclock/internal/playtime"
	"github.com/goodtune/playclock/internal/storage"
	"github.com/goodtune/playclock/internal/storage/redis"
	"github.com/goodtune/playclock/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start PlayClock server",
	Long:  `Start the PlayClock server with the enforcement sweeper and metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting PlayClock")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to get systemd listeners")
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	env, err := openEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := env.store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("redis_host", cfg.Storage.Redis.Host).
		Int("redis_port", cfg.Storage.Redis.Port).
		Str("timezone", env.clock.Location.String()).
		Msg("Storage initialized")

	// Start enforcement sweeper
	sweeper := playtime.NewSweeper(env.manager, playtime.SweeperConfig{
		Interval:     parseDuration(cfg.Sweeper.Interval, playtime.DefaultSweepInterval),
		CloseExpired: cfg.Sweeper.CloseExpired,
		AfterSweep: func(playtime.SweepResult) {
			if err := systemd.NotifyWatchdog(); err != nil {
				logger.Debug().Err(err).Msg("Failed to send systemd watchdog notification")
			}
		},
	}, logger)

	if err := sweeper.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start enforcement sweeper: %w", err)
	}

	logger.Info().
		Str("interval", cfg.Sweeper.Interval).
		Bool("close_expired", cfg.Sweeper.CloseExpired).
		Msg("Enforcement sweeper started")

	// Start Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		sweeper.Stop()
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	logger.Info().Msg("PlayClock startup complete")
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// The sweeper finishes any in-flight close before returning
	sweeper.Stop()

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("PlayClock stopped")
	return nil
}

// engine bundles the collaborators shared by the server and the
// operator subcommands.
type engine struct {
	store   storage.Store
	clock   clock.RealClock
	manager *playtime.Manager
}

func openEngine(cfg *config.Config, logger zerolog.Logger) (*engine, error) {
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	clk, err := clock.NewRealClock(cfg.Playtime.Timezone)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load timezone: %w", err)
	}

	manager, err := playtime.NewManager(
		store.Accounts(),
		store.Sessions(),
		store.Locker(),
		auth.NewArgon2idHasher(),
		clk,
		playtime.Config{
			SessionTTL: parseDuration(cfg.Playtime.SessionTTL, playtime.DefaultSessionTTL),
		},
		logger,
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize session manager: %w", err)
	}

	return &engine{store: store, clock: clk, manager: manager}, nil
}

// openStorage initializes the configured storage backend. The in-memory
// store is process-local, so the server and the CLI cannot share it.
func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "redis"
	}

	switch storageType {
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (only 'redis' is supported)", storageType)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
