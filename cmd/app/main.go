// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"buildforge/internal/config"
	pg "buildforge/internal/infra/db/postgres"
	"buildforge/internal/infra/logging"
	"buildforge/internal/infra/metrics"
	red "buildforge/internal/infra/redis"
	"buildforge/internal/infra/scaler"
	"buildforge/internal/infra/sched"
	"buildforge/internal/infra/substrate"
	"buildforge/internal/infra/web"
	"buildforge/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()

	eventLog, err := red.NewStreamLog(ctx, redisClient, cfg.Queue.Stream, cfg.Queue.Group)
	if err != nil {
		logger.Fatal().Err(err).Msg("event log")
	}
	limiter := red.SourceLimiter{RL: red.NewRateLimiter(redisClient)}
	poolState := red.NewPoolState(redisClient)
	logBus := red.NewLogBus(redisClient)
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	jobRepo := pg.NewJobRepo(pool)
	jobLogRepo := pg.NewJobLogRepo(pool)
	txManager := pg.NewTxManager(pool)

	// ---- Use cases ----
	ingestUC := usecase.NewIngestUseCase(eventLog, jobRepo, limiter, cfg.Ingest, logger)
	queryUC := usecase.NewJobQueryUseCase(jobRepo, jobLogRepo, logBus, txManager, logger)

	// ---- Autoscaling controller ----
	procs := substrate.NewProcSubstrate(cfg.Scaler.WorkerBin, *cfgPath, logger)
	controller := scaler.NewController(eventLog, poolState, procs, locker, cfg.Scaler, logger)
	go func() { _ = controller.Run(ctx) }()

	// ---- Reclaim sweeper ----
	sweeper := sched.NewReclaimSweeper(cfg.Queue, cfg.Registry.HistoryLimit, eventLog, jobRepo, logger)
	go func() { _ = sweeper.Run(ctx) }()

	// ---- HTTP ----
	srv := web.NewServer(ingestUC, queryUC, cfg.Server.APIKey, logger, pool, redisClient)
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     srv.Router(),
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}
