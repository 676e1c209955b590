package reliability

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"fertiguard/internal/config"
	"fertiguard/internal/model"
	"fertiguard/internal/storage"
)

// imminentFailureLead is the conservative placeholder horizon reported once
// cumulative failure probability passes 0.9; the quantile function is not
// extrapolated beyond that point.
const imminentFailureLead = 24 * time.Hour

// stableSlopeEpsilon is the absolute slope below which a degradation fit
// counts as stable, in raw sensor units per hour.
const stableSlopeEpsilon = 0.01

// Estimator derives failure probability and remaining useful life for each
// sensor from a per-class Weibull lifetime model plus the sensor's history.
type Estimator struct {
	store  storage.Store
	logger *slog.Logger
	cfg    *config.Config
	now    func() time.Time
}

func NewEstimator(cfg *config.Config, store storage.Store, logger *slog.Logger) *Estimator {
	return NewEstimatorWithClock(cfg, store, logger, nil)
}

func NewEstimatorWithClock(cfg *config.Config, store storage.Store, logger *slog.Logger, now func() time.Time) *Estimator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Estimator{store: store, logger: logger, cfg: cfg, now: now}
}

// Predict evaluates the Weibull lifetime model for a sensor at the given
// operating age. It touches no history; confidence and trend are layered on
// by Analyze. A sensor with no configured lifetime class is reported as
// zero-risk rather than failing the run.
func (e *Estimator) Predict(sensor string, ageHours float64) model.FailurePrediction {
	pred := model.FailurePrediction{
		SensorName:       sensor,
		Reliability:      1,
		AgeHours:         ageHours,
		DegradationTrend: model.TrendUnknown,
	}
	params, ok := e.cfg.LifetimeFor(sensor)
	if !ok {
		return pred
	}
	dist := distuv.Weibull{K: params.Shape, Lambda: params.Scale}

	effectiveAge := ageHours - params.Location
	if effectiveAge < 0 {
		effectiveAge = 0
	}
	p := dist.CDF(effectiveAge)
	pred.FailureProbability = p
	pred.Reliability = 1 - p
	pred.MTTFHours = params.Location + dist.Mean()

	now := e.now()
	if p < 0.9 {
		remaining := dist.Quantile(0.9) - effectiveAge
		if remaining < 0 {
			remaining = 0
		}
		at := now.Add(time.Duration(remaining * float64(time.Hour)))
		pred.PredictedFailureAt = &at
	} else {
		at := now.Add(imminentFailureLead)
		pred.PredictedFailureAt = &at
	}
	return pred
}

// ConfidenceScore is a monotonic step function of how much history exists
// for the sensor. It models trust in the data volume, not statistical rigor.
func (e *Estimator) ConfidenceScore(ctx context.Context, sensor string) (float64, error) {
	readings, err := e.store.RecentReadings(ctx, sensor, 1000)
	if err != nil {
		return 0, fmt.Errorf("confidence score for %s: %w", sensor, err)
	}
	switch n := len(readings); {
	case n < 10:
		return 0.1, nil
	case n < 50:
		return 0.4, nil
	case n < 200:
		return 0.7, nil
	default:
		return 0.9, nil
	}
}

// EstimateAge derives operating age in hours from the oldest stored reading.
// No history means a freshly installed sensor (age 0). When timestamps are
// unusable the reading count divided by the assumed sampling rate stands in
// as a rough approximation.
func (e *Estimator) EstimateAge(ctx context.Context, sensor string) (float64, error) {
	readings, err := e.store.RecentReadings(ctx, sensor, e.cfg.Analysis.AgeLimit)
	if err != nil {
		return 0, fmt.Errorf("estimate age for %s: %w", sensor, err)
	}
	if len(readings) == 0 {
		return 0, nil
	}
	oldest := readings[len(readings)-1]
	if oldest.Timestamp.IsZero() {
		if e.logger != nil {
			e.logger.Warn("unparseable first-reading timestamp, falling back to count heuristic", "sensor", sensor)
		}
		return float64(len(readings)) / e.cfg.Analysis.AssumedReadingsPerHour, nil
	}
	age := e.now().Sub(oldest.Timestamp).Hours()
	if age < 0 {
		age = 0
	}
	return age, nil
}

// TrendResult is the outcome of a degradation fit.
type TrendResult struct {
	Trend      model.Trend
	Rate       float64
	Confidence float64
	DataPoints int
}

// DegradationTrend fits value against elapsed hours over the recent history
// and classifies the slope. Trend confidence is the absolute Pearson
// correlation of the same fit, zero when undefined.
func (e *Estimator) DegradationTrend(ctx context.Context, sensor string) (TrendResult, error) {
	readings, err := e.store.RecentReadings(ctx, sensor, e.cfg.Analysis.HistoryLimit)
	if err != nil {
		return TrendResult{Trend: model.TrendUnknown}, fmt.Errorf("degradation trend for %s: %w", sensor, err)
	}

	// Chronological order, rows with broken timestamps excluded.
	hours := make([]float64, 0, len(readings))
	values := make([]float64, 0, len(readings))
	var start time.Time
	for i := len(readings) - 1; i >= 0; i-- {
		r := readings[i]
		if r.Timestamp.IsZero() {
			continue
		}
		if start.IsZero() {
			start = r.Timestamp
		}
		hours = append(hours, r.Timestamp.Sub(start).Hours())
		values = append(values, r.Value)
	}
	if len(values) < 10 {
		return TrendResult{Trend: model.TrendInsufficientData, DataPoints: len(values)}, nil
	}

	_, slope := stat.LinearRegression(hours, values, nil, false)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return TrendResult{Trend: model.TrendUnknown, DataPoints: len(values)}, nil
	}
	trend := model.TrendStable
	if math.Abs(slope) >= stableSlopeEpsilon {
		if slope > 0 {
			trend = model.TrendImproving
		} else {
			trend = model.TrendDegrading
		}
	}
	confidence := math.Abs(stat.Correlation(hours, values, nil))
	if math.IsNaN(confidence) {
		confidence = 0
	}
	return TrendResult{
		Trend:      trend,
		Rate:       slope,
		Confidence: confidence,
		DataPoints: len(values),
	}, nil
}

// Analyze composes age estimation, the lifetime model, confidence scoring
// and the degradation fit into one full prediction for a sensor.
func (e *Estimator) Analyze(ctx context.Context, sensor string) (model.FailurePrediction, error) {
	age, err := e.EstimateAge(ctx, sensor)
	if err != nil {
		return model.FailurePrediction{}, err
	}
	pred := e.Predict(sensor, age)

	confidence, err := e.ConfidenceScore(ctx, sensor)
	if err != nil {
		return model.FailurePrediction{}, err
	}
	pred.ConfidenceScore = confidence

	trend, err := e.DegradationTrend(ctx, sensor)
	if err != nil {
		return model.FailurePrediction{}, err
	}
	pred.DegradationTrend = trend.Trend
	pred.DegradationRate = trend.Rate
	pred.TrendConfidence = trend.Confidence
	pred.TrendDataPoints = trend.DataPoints
	pred.CreatedAt = e.now()
	return pred, nil
}
