package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pengpeng/duel-server/internal/config"
	"github.com/pengpeng/duel-server/internal/match"
	"github.com/pengpeng/duel-server/internal/relay"
	"github.com/pengpeng/duel-server/internal/retry"
	"github.com/pengpeng/duel-server/internal/room"
	"github.com/pengpeng/duel-server/internal/server"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting duel server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Initialize the room store
	var store room.Store
	switch cfg.Store.Driver {
	case "postgres":
		pool, poolErr := pgxpool.New(ctx, cfg.Store.DSN)
		if poolErr != nil {
			logger.Fatal("failed to connect to database", zap.Error(poolErr))
		}
		defer pool.Close()

		pg := room.NewPostgresStore(pool)
		if schemaErr := pg.EnsureSchema(ctx); schemaErr != nil {
			logger.Fatal("failed to ensure schema", zap.Error(schemaErr))
		}
		store = pg
		logger.Info("postgres room store initialized")
	default:
		store = room.NewMemoryStore(nil)
		logger.Info("in-memory room store initialized")
	}

	// Initialize the room lifecycle manager
	roomMgr := room.NewManager(store, room.ManagerOptions{
		AutoStart: cfg.Room.AutoStart,
		JoinRetry: retry.Policy{
			MaxAttempts: cfg.Room.JoinMaxAttempts,
			BaseDelay:   cfg.Room.JoinBaseDelay,
			MaxDelay:    cfg.Room.JoinMaxDelay,
		},
		Logger: logger.Named("room"),
	})
	logger.Info("room manager initialized",
		zap.Bool("auto_start", cfg.Room.AutoStart),
		zap.Duration("stale_after", cfg.Room.StaleAfter),
	)

	// Initialize the turn relay
	var turnRelay relay.Relay
	var pushRelay *relay.PushRelay
	switch cfg.Relay.Mode {
	case "poll":
		turnRelay = relay.NewPollRelay(store, cfg.Relay.Backlog, logger.Named("relay"))
		logger.Info("poll relay initialized", zap.Int("backlog", cfg.Relay.Backlog))
	default:
		pushRelay = relay.NewPushRelay(cfg.Relay.Backlog, logger.Named("relay"))
		turnRelay = pushRelay
		logger.Info("push relay initialized", zap.Int("retain", cfg.Relay.Backlog))
	}

	// Initialize the match coordinator
	coordinator := match.NewCoordinator(roomMgr, turnRelay, logger.Named("match"))
	logger.Info("match coordinator initialized")

	// Schedule the stale-room reclamation sweep
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		logger.Fatal("failed to create scheduler", zap.Error(err))
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.Room.SweepInterval),
		gocron.NewTask(func() {
			removed, sweepErr := roomMgr.ReclaimStale(ctx, cfg.Room.StaleAfter)
			if sweepErr != nil {
				logger.Warn("stale room sweep failed", zap.Error(sweepErr))
				return
			}
			if removed > 0 {
				logger.Info("stale room sweep finished", zap.Int("removed", removed))
			}
		}),
	)
	if err != nil {
		logger.Fatal("failed to schedule reclamation job", zap.Error(err))
	}
	scheduler.Start()
	defer func() { _ = scheduler.Shutdown() }()

	// Start the HTTP/WebSocket transport
	srv := server.New(cfg.Server.Address, coordinator, pushRelay, logger.Named("http"))
	go func() {
		if serveErr := srv.Run(); serveErr != nil {
			logger.Error("http server error", zap.Error(serveErr))
		}
	}()

	logger.Info("duel server initialized",
		zap.String("version", version),
		zap.String("address", cfg.Server.Address),
		zap.String("store", cfg.Store.Driver),
		zap.String("relay", cfg.Relay.Mode),
	)

	// Wait for termination signal
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	logger.Info("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	logger.Info("duel server stopped")
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
