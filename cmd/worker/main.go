// File: cmd/worker/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"buildforge/internal/config"
	pg "buildforge/internal/infra/db/postgres"
	"buildforge/internal/infra/logging"
	"buildforge/internal/infra/metrics"
	red "buildforge/internal/infra/redis"
	"buildforge/internal/infra/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()

	eventLog, err := red.NewStreamLog(ctx, redisClient, cfg.Queue.Stream, cfg.Queue.Group)
	if err != nil {
		logger.Fatal().Err(err).Msg("event log")
	}

	runner := worker.NewRunner(
		eventLog,
		pg.NewJobRepo(pool),
		pg.NewJobLogRepo(pool),
		red.NewLogBus(redisClient),
		red.NewPoolState(redisClient),
		&worker.ShellExecutor{Command: cfg.Worker.Command},
		cfg.Scaler.PoolID,
		cfg.Worker,
		cfg.Queue.MaxAttempts,
		logger,
	)

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		<-sigc
		logger.Info().Msg("shutdown requested")
		cancel()
	}()

	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("worker stopped")
		os.Exit(1)
	}
}
