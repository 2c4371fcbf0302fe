package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/coaching-appointment-scheduling/internal/config"
	"github.com/hackgods/coaching-appointment-scheduling/internal/db"
	"github.com/hackgods/coaching-appointment-scheduling/internal/logger"
	"github.com/hackgods/coaching-appointment-scheduling/internal/notify"
	redisclient "github.com/hackgods/coaching-appointment-scheduling/internal/redis"
)

// notification-worker delivers outbox rows that no api-server instance
// claimed, for example after a crash between commit and dispatch.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("notification-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.String("transport", cfg.Notify.Transport),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: 2,
	})
	if err != nil {
		log.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis")

	gateway, closeGateway, err := notify.NewGateway(cfg.Notify, log)
	if err != nil {
		log.Fatal("notification gateway error", zap.Error(err))
	}
	defer func() { _ = closeGateway() }()

	dispatcher := notify.NewDispatcher(gateway, notify.NewPgOutbox(pgPool), log, notify.DispatcherOptions{
		Timeout: cfg.Notify.Timeout,
		Rate:    cfg.Notify.Rate,
	})
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)

	// Run once at startup
	runOnce(rootCtx, log, dispatcher, locker, cfg.WorkerInterval)

	if err := dispatcher.RunSweeper(rootCtx, cfg.WorkerInterval, cfg.WorkerInterval, locker); err != nil {
		log.Error("sweeper stopped", zap.Error(err))
	}
	log.Info("shutdown signal received, notification-worker stopped")
}

func runOnce(ctx context.Context, log *zap.Logger, d *notify.Dispatcher, locker redisclient.Locker, grace time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	err := locker.WithLock(runCtx, "notification-outbox-sweep", func(ctx context.Context) error {
		n, err := d.Sweep(ctx, grace, 500)
		if err != nil {
			return err
		}
		log.Info("startup sweep complete", zap.Int("delivered", n), zap.Duration("took", time.Since(start)))
		return nil
	})
	if err != nil {
		log.Warn("startup sweep skipped", zap.Error(err))
	}
}
