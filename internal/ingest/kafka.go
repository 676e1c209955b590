package ingest

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"fertiguard/internal/config"
	"fertiguard/internal/model"
)

func StartKafka(ctx context.Context, cfg config.KafkaConfig, out chan<- model.SensorReading, logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			reading, err := ParseReading(m.Value)
			if err != nil {
				if logger != nil {
					logger.Warn("kafka payload rejected", "err", err)
				}
				continue
			}
			SendNonBlocking(ctx, out, reading, logger)
		}
	}()
}
