package ingest

import (
	"context"
	"log/slog"
	"time"

	"fertiguard/internal/alerts"
	"fertiguard/internal/anomaly"
	"fertiguard/internal/model"
	"fertiguard/internal/storage"
)

// Processor persists each incoming reading and runs it through the anomaly
// engine. Detection failures are logged, not propagated: a broken check must
// never block ingestion.
type Processor struct {
	store  storage.Store
	engine *anomaly.Engine
	alerts *alerts.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewProcessor(store storage.Store, engine *anomaly.Engine, alertsStore *alerts.Store, logger *slog.Logger) *Processor {
	return &Processor{
		store:  store,
		engine: engine,
		alerts: alertsStore,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (p *Processor) Process(ctx context.Context, reading model.SensorReading) {
	if reading.Timestamp.IsZero() {
		reading.Timestamp = p.now()
	}

	// Anomaly classification consults the history window, so it runs before
	// the reading itself is persisted.
	found, err := p.engine.Detect(ctx, reading)
	if err != nil && p.logger != nil {
		p.logger.Error("anomaly detection failed", "sensor", reading.SensorName, "err", err)
	}

	if err := p.store.InsertReading(ctx, reading); err != nil {
		if p.logger != nil {
			p.logger.Error("reading insert failed", "sensor", reading.SensorName, "err", err)
		}
		return
	}

	for _, a := range found {
		id, err := p.store.CreateAlert(ctx, a.SensorName, a.Kind, a.Message, a.Severity)
		if err != nil {
			if p.logger != nil {
				p.logger.Error("alert persist failed", "sensor", a.SensorName, "err", err)
			}
			continue
		}
		if p.alerts != nil {
			p.alerts.Add(model.Alert{
				ID:         id,
				SensorName: a.SensorName,
				Kind:       a.Kind,
				Message:    a.Message,
				Severity:   a.Severity,
				CreatedAt:  p.now(),
			})
		}
	}
}

// Start consumes readings from the channel until the context is cancelled.
func (p *Processor) Start(ctx context.Context, in <-chan model.SensorReading) {
	go func() {
		for {
			select {
			case r := <-in:
				p.Process(ctx, r)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// SendNonBlocking offers a reading to the channel, dropping it when the
// buffer is full rather than stalling the transport.
func SendNonBlocking(ctx context.Context, out chan<- model.SensorReading, r model.SensorReading, logger *slog.Logger) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("reading channel full, dropping reading", "sensor", r.SensorName)
		}
		return false
	}
}
