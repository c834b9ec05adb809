package main

import (
	"context"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"fieldsync/internal/api"
	"fieldsync/internal/config"
	"fieldsync/internal/export"
	"fieldsync/internal/logging"
	"fieldsync/internal/metrics"
	"fieldsync/internal/netmon"
	"fieldsync/internal/notify"
	"fieldsync/internal/queue"
	"fieldsync/internal/remote"
	"fieldsync/internal/scheduler"
	"fieldsync/internal/store"
	"fieldsync/internal/syncer"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, logger); err != nil {
		return err
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv := initKV(ctx, cfg, db, logger)
	defer kv.Close()

	bus := notify.NewBus()
	notify.AttachLogSink(bus, logger)

	monitor := initMonitor(cfg, logger)
	monitor.Start(ctx)
	defer monitor.Stop()

	sched := scheduler.NewRetryScheduler(logger)
	opQueue := queue.New(kv, bus, sched, cfg.Retry.MaxRetries, logger)
	client := remote.NewClient(cfg.Remote, logger)

	coord := syncer.New(opQueue, kv, db, client, monitor, bus, sched,
		cfg.RetryStrategy(), cfg.MergeSettings(), logger)
	syncer.RegisterNoteHandlers(coord, client, db, logger)
	defer coord.Stop()

	coord.Start(ctx)
	coord.StartAutoSync(time.Duration(cfg.Sync.AutoSyncIntervalSeconds) * time.Second)

	if cfg.API.Enabled {
		exporter := export.NewExporter(cfg.Exports.Path, logger)
		apiServer := api.NewServer(cfg.API, opQueue, coord, monitor, exporter, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().Msg("sync daemon started")
	<-ctx.Done()
	logger.Info().Msg("shutting down")
	coord.Wait()
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := baseLogger.With().Str("component", "syncd").Logger()
	return cfg, &logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	for _, dir := range []string{filepath.Dir(cfg.Database.Path), cfg.Exports.Path} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error().Err(err).Str("dir", dir).Msg("create directory")
			return err
		}
	}
	return nil
}

// initKV picks the queue/token storage backend. With Redis configured, the
// daemon writes through Redis and falls back to SQLite when it is down;
// without it, SQLite alone carries the durable state.
func initKV(ctx context.Context, cfg *config.Config, db *store.SQLiteStore, logger *zerolog.Logger) store.KV {
	if cfg.Redis.Address == "" {
		return db
	}

	client := store.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable at startup, failover starts on sqlite")
	}

	redisKV := store.NewRedisStore(client, cfg.App.Name)
	return store.NewFailoverKV(redisKV, db, logger)
}

// initMonitor probes the remote host's TCP port. A base URL that cannot be
// parsed leaves the monitor under manual control, permanently online.
func initMonitor(cfg *config.Config, logger *zerolog.Logger) *netmon.Monitor {
	interval := time.Duration(cfg.Sync.ProbeIntervalSeconds) * time.Second

	u, err := url.Parse(cfg.Remote.BaseURL)
	if err != nil || u.Host == "" {
		logger.Warn().Str("base_url", cfg.Remote.BaseURL).Msg("cannot derive probe address, connectivity checks disabled")
		return netmon.New(nil, interval, logger)
	}

	addr := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		addr = u.Host + ":" + port
	}
	return netmon.New(netmon.DialProbe(addr, 5*time.Second), interval, logger)
}
