package analysis

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"fertiguard/internal/config"
	"fertiguard/internal/maintenance"
	"fertiguard/internal/model"
	"fertiguard/internal/reliability"
	"fertiguard/internal/snapshot"
	"fertiguard/internal/storage"
)

// Report summarizes one predictive analysis pass over the monitored sensors.
type Report struct {
	Timestamp             time.Time                 `json:"timestamp"`
	SensorsAnalyzed       int                       `json:"sensors_analyzed"`
	Predictions           []model.FailurePrediction `json:"predictions"`
	MaintenancesScheduled int                       `json:"maintenances_scheduled"`
	HighRiskSensors       []string                  `json:"high_risk_sensors"`
	Failed                map[string]string         `json:"failed,omitempty"`
}

// Runner drives the periodic predictive analysis: for every configured
// sensor it estimates age, evaluates the lifetime model, persists the
// prediction and lets the scheduler act on it. One sensor failing never
// aborts the rest of the batch.
type Runner struct {
	estimator *reliability.Estimator
	scheduler *maintenance.Scheduler
	store     storage.Store
	snap      *snapshot.Store
	cfg       *config.Config
	logger    *slog.Logger
	now       func() time.Time
}

func NewRunner(cfg *config.Config, store storage.Store, estimator *reliability.Estimator, scheduler *maintenance.Scheduler, snap *snapshot.Store, logger *slog.Logger) *Runner {
	return &Runner{
		estimator: estimator,
		scheduler: scheduler,
		store:     store,
		snap:      snap,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Sensors returns the monitored sensor names in stable order.
func (r *Runner) Sensors() []string {
	names := make([]string, 0, len(r.cfg.Thresholds))
	for name := range r.cfg.Thresholds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Runner) Run(ctx context.Context) Report {
	report := Report{
		Timestamp: r.now(),
		Failed:    make(map[string]string),
	}
	for _, sensor := range r.Sensors() {
		if ctx.Err() != nil {
			break
		}
		pred, err := r.analyzeOne(ctx, sensor)
		if err != nil {
			report.Failed[sensor] = err.Error()
			if r.logger != nil {
				r.logger.Error("sensor analysis failed", "sensor", sensor, "err", err)
			}
			continue
		}
		report.Predictions = append(report.Predictions, pred)
		report.SensorsAnalyzed++

		if pred.FailureProbability > r.cfg.Maintenance.ScheduleMinProbability {
			_, created, err := r.scheduler.Schedule(ctx, pred)
			if err != nil {
				report.Failed[sensor] = err.Error()
				if r.logger != nil {
					r.logger.Error("maintenance scheduling failed", "sensor", sensor, "err", err)
				}
			} else if created {
				report.MaintenancesScheduled++
			}
		}
		if pred.FailureProbability > r.cfg.Maintenance.HighRiskProbability {
			report.HighRiskSensors = append(report.HighRiskSensors, sensor)
		}
	}
	if r.snap != nil {
		r.snap.Update(report.Predictions)
	}
	if len(report.Failed) == 0 {
		report.Failed = nil
	}
	if r.logger != nil {
		r.logger.Info("predictive analysis finished",
			"sensors_analyzed", report.SensorsAnalyzed,
			"maintenances_scheduled", report.MaintenancesScheduled,
			"high_risk", len(report.HighRiskSensors),
		)
	}
	return report
}

func (r *Runner) analyzeOne(ctx context.Context, sensor string) (model.FailurePrediction, error) {
	pred, err := r.estimator.Analyze(ctx, sensor)
	if err != nil {
		return model.FailurePrediction{}, err
	}
	if _, err := r.store.SavePrediction(ctx, pred); err != nil {
		return model.FailurePrediction{}, err
	}
	return pred, nil
}

// Start runs the analysis on a fixed cadence until the context is cancelled.
func (r *Runner) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.cfg.Analysis.Interval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Run(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}
