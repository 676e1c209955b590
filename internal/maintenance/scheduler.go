package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fertiguard/internal/config"
	"fertiguard/internal/model"
	"fertiguard/internal/storage"
)

// Scheduler turns failure predictions into maintenance urgency tiers and
// planned maintenance records. Tier thresholds are part of the reliability
// contract, not free-floating business logic.
type Scheduler struct {
	store  storage.Store
	logger *slog.Logger
	cfg    *config.Config
	now    func() time.Time
}

func NewScheduler(cfg *config.Config, store storage.Store, logger *slog.Logger) *Scheduler {
	return NewSchedulerWithClock(cfg, store, logger, nil)
}

func NewSchedulerWithClock(cfg *config.Config, store storage.Store, logger *slog.Logger, now func() time.Time) *Scheduler {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Scheduler{store: store, logger: logger, cfg: cfg, now: now}
}

// Tier maps a failure probability and optional predicted failure date to a
// maintenance type and scheduled date.
func (s *Scheduler) Tier(probability float64, predictedFailure *time.Time) (model.MaintenanceType, time.Time) {
	now := s.now()
	switch {
	case probability < 0.3:
		if predictedFailure != nil {
			return model.MaintenancePreventiveInspection, predictedFailure.Add(-30 * 24 * time.Hour)
		}
		return model.MaintenancePreventiveInspection, now.Add(90 * 24 * time.Hour)
	case probability < 0.6:
		if predictedFailure != nil {
			return model.MaintenancePreventive, predictedFailure.Add(-14 * 24 * time.Hour)
		}
		return model.MaintenancePreventive, now.Add(30 * 24 * time.Hour)
	case probability < 0.8:
		if predictedFailure != nil {
			return model.MaintenanceUrgent, predictedFailure.Add(-7 * 24 * time.Hour)
		}
		return model.MaintenanceUrgent, now.Add(7 * 24 * time.Hour)
	default:
		return model.MaintenanceEmergency, now.Add(24 * time.Hour)
	}
}

// Schedule creates a planned maintenance record for the prediction unless an
// equivalent planned record already exists for the same sensor and type, in
// which case it returns (0, false, nil).
func (s *Scheduler) Schedule(ctx context.Context, pred model.FailurePrediction) (int64, bool, error) {
	mtype, scheduled := s.Tier(pred.FailureProbability, pred.PredictedFailureAt)

	existing, err := s.store.MaintenanceRecords(ctx, model.StatusPlanned)
	if err != nil {
		return 0, false, fmt.Errorf("schedule maintenance for %s: %w", pred.SensorName, err)
	}
	for _, rec := range existing {
		if rec.SensorName == pred.SensorName && rec.Type == mtype {
			return 0, false, nil
		}
	}

	var desc strings.Builder
	fmt.Fprintf(&desc, "Maintenance %s for %s. ", mtype, pred.SensorName)
	fmt.Fprintf(&desc, "Failure probability: %.1f%%. ", pred.FailureProbability*100)
	if pred.PredictedFailureAt != nil {
		fmt.Fprintf(&desc, "Predicted failure on: %s.", pred.PredictedFailureAt.Format("2006-01-02 15:04"))
	}

	id, err := s.store.CreateMaintenanceRecord(ctx, pred.SensorName, mtype, desc.String(), scheduled)
	if err != nil {
		return 0, false, fmt.Errorf("schedule maintenance for %s: %w", pred.SensorName, err)
	}
	if s.logger != nil {
		s.logger.Info("maintenance scheduled",
			"sensor", pred.SensorName,
			"type", string(mtype),
			"scheduled_date", scheduled,
			"failure_probability", pred.FailureProbability,
		)
	}
	return id, true, nil
}

// Recommendations maps the latest failure probability of a sensor to a list
// of advisory records. Pure reporting, no persistence.
func (s *Scheduler) Recommendations(ctx context.Context, sensor string) ([]model.Recommendation, error) {
	predictions, err := s.store.LatestPredictions(ctx)
	if err != nil {
		return nil, fmt.Errorf("recommendations for %s: %w", sensor, err)
	}
	var pred *model.FailurePrediction
	for i := range predictions {
		if predictions[i].SensorName == sensor {
			pred = &predictions[i]
			break
		}
	}
	if pred == nil {
		return []model.Recommendation{{
			Type:        "INFO",
			Title:       "Analysis required",
			Description: "No prediction available for this sensor. Run a predictive analysis first.",
			Priority:    model.PriorityLow,
		}}, nil
	}

	p := pred.FailureProbability
	switch {
	case p < 0.2:
		return []model.Recommendation{{
			Type:        "PREVENTIVE",
			Title:       "Routine preventive maintenance",
			Description: "Perform a monthly visual check and quarterly calibration.",
			Priority:    model.PriorityLow,
		}}, nil
	case p < 0.5:
		return []model.Recommendation{
			{
				Type:        "PREVENTIVE",
				Title:       "Thorough inspection recommended",
				Description: "Check connections, clean the probe and verify measurement accuracy.",
				Priority:    model.PriorityMedium,
			},
			{
				Type:        "MONITORING",
				Title:       "Reinforced monitoring",
				Description: "Increase monitoring frequency and watch for anomalies.",
				Priority:    model.PriorityMedium,
			},
		}, nil
	case p < 0.8:
		return []model.Recommendation{
			{
				Type:        "URGENT",
				Title:       "Urgent maintenance required",
				Description: "Plan an intervention within 7 days. Check every component.",
				Priority:    model.PriorityHigh,
			},
			{
				Type:        "REPLACEMENT",
				Title:       "Replacement preparation",
				Description: "Order spare parts and prepare the sensor replacement.",
				Priority:    model.PriorityHigh,
			},
		}, nil
	default:
		return []model.Recommendation{
			{
				Type:        "EMERGENCY",
				Title:       "Emergency intervention",
				Description: "Failure risk is imminent. Intervention required within 24 hours.",
				Priority:    model.PriorityCritical,
			},
			{
				Type:        "REPLACEMENT",
				Title:       "Immediate replacement",
				Description: "Replace the sensor as soon as possible to avoid a system outage.",
				Priority:    model.PriorityCritical,
			},
		}, nil
	}
}

// CostSavings reports current maintenance spend against a hypothetical
// all-preventive schedule.
func (s *Scheduler) CostSavings(ctx context.Context) (model.CostReport, error) {
	records, err := s.store.MaintenanceRecords(ctx, "")
	if err != nil {
		return model.CostReport{}, fmt.Errorf("cost savings: %w", err)
	}

	var breakdown model.CostBreakdown
	for _, rec := range records {
		switch rec.Type {
		case model.MaintenancePreventiveInspection, model.MaintenancePreventive:
			breakdown.Preventive++
		case model.MaintenanceUrgent:
			breakdown.Corrective++
		case model.MaintenanceEmergency:
			breakdown.Emergency++
		}
	}

	total := breakdown.Preventive + breakdown.Corrective + breakdown.Emergency
	if total == 0 {
		return model.CostReport{Breakdown: breakdown}, nil
	}

	current := float64(breakdown.Preventive)*s.cfg.Maintenance.PreventiveCost +
		float64(breakdown.Corrective)*s.cfg.Maintenance.CorrectiveCost +
		float64(breakdown.Emergency)*s.cfg.Maintenance.EmergencyCost
	optimal := float64(total) * s.cfg.Maintenance.PreventiveCost

	savings := current - optimal
	if savings < 0 {
		savings = 0
	}
	return model.CostReport{
		CurrentCosts:     current,
		OptimalCosts:     optimal,
		PotentialSavings: savings,
		PreventiveRatio:  float64(breakdown.Preventive) / float64(total),
		Breakdown:        breakdown,
	}, nil
}
