package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fertiguard/internal/alerts"
	"fertiguard/internal/analysis"
	"fertiguard/internal/anomaly"
	"fertiguard/internal/api"
	"fertiguard/internal/config"
	"fertiguard/internal/ingest"
	"fertiguard/internal/logging"
	"fertiguard/internal/maintenance"
	"fertiguard/internal/model"
	"fertiguard/internal/reliability"
	"fertiguard/internal/snapshot"
	"fertiguard/internal/storage"
)

const version = "0.3.0"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "fertiguard.yaml", "path to configuration file")
	flag.Parse()

	manager, err := config.NewManager(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("config file not found, using defaults", slog.String("path", configPath))
			manager = config.NewStatic(nil)
		} else {
			slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
			os.Exit(1)
		}
	}
	cfg := manager.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting fertiguard", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("failed to open storage", "err", err)
		os.Exit(1)
	}
	if err := store.Init(ctx); err != nil {
		logger.Error("failed to init storage", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	snap := snapshot.NewStore()

	engine := anomaly.NewEngine(cfg, store, logger)
	estimator := reliability.NewEstimator(cfg, store, logger)
	scheduler := maintenance.NewScheduler(cfg, store, logger)
	runner := analysis.NewRunner(cfg, store, estimator, scheduler, snap, logger)

	readings := make(chan model.SensorReading, cfg.Ingest.ChannelBuffer)
	processor := ingest.NewProcessor(store, engine, alertsStore, logger)
	processor.Start(ctx, readings)
	ingest.StartKafka(ctx, cfg.Ingest.Kafka, readings, logger)
	ingest.StartREST(ctx, cfg.Ingest.REST, readings, logger)

	runner.Start(ctx, cfg.Analysis.Interval)

	api.Start(ctx, manager, store, alertsStore, snap, engine, scheduler, runner, logger, version)

	stop := make(chan struct{})
	go manager.Watch(0, func(updated *config.Config) {
		engine.UpdateConfig(updated)
		logger.Info("configuration reloaded")
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, stop)
	defer close(stop)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
	cancel()
}
