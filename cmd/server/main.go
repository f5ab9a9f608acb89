package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/GiacomoSorbiWork/Volteras/internal/config"
	"github.com/GiacomoSorbiWork/Volteras/internal/core"
	"github.com/GiacomoSorbiWork/Volteras/internal/logging"
	"github.com/GiacomoSorbiWork/Volteras/internal/web"
)

func main() {
	configPath := pflag.StringP("config", "c", os.Getenv(config.ConfigFileEnv), "path to a YAML config file")
	migrate := pflag.Bool("migrate", true, "create the vehicle_data table and indexes on startup")
	pflag.Parse()

	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	logger.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	pool, err := connect(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		logger.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		logger.Info("connected to database")
	}

	store := core.NewPgStore(pool, logger)
	if *migrate {
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		logger.Info("schema ready")
	}

	locker, closeLocker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to set up finalize lock", "error", err)
		os.Exit(1)
	}
	defer closeLocker()

	service := core.NewService(store, locker, cfg, logger)
	server := web.NewServer(service, cfg, logger)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active finalize calls so no bulk load is cut off
		uploadStatus := service.UploadLimiterStatus()
		if uploadStatus.Active > 0 {
			logger.Info("waiting for uploads to complete", "active", uploadStatus.Active)
			if err := service.WaitForUploads(shutdownCtx); err != nil {
				logger.Warn("uploads did not complete in time", "error", err)
			} else {
				logger.Info("all uploads completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	<-done
	logger.Info("server stopped")
}

// newPoolConfig builds the pool settings. Sessions run in UTC so naive
// timestamps are read as UTC instants.
func newPoolConfig(cfg *config.Config) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	// Apply pool configuration from config
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime
	poolConfig.ConnConfig.RuntimeParams["timezone"] = "UTC"

	return poolConfig, nil
}

// connect opens and verifies the connection pool.
func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := newPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// newLocker builds the finalize lock selected by LOCK_BACKEND.
func newLocker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (core.Locker, func(), error) {
	if !strings.EqualFold(cfg.Lock.Backend, "redis") {
		return core.NopLocker{}, func() {}, nil
	}

	client, err := core.NewRedisClient(ctx, cfg.Lock.RedisAddr, cfg.Lock.RedisPassword, cfg.Lock.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("finalize lock enabled", "backend", "redis", "addr", cfg.Lock.RedisAddr, "ttl", cfg.Lock.TTL)
	return core.NewRedisLocker(client, cfg.Lock.TTL), func() { _ = client.Close() }, nil
}
