package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"fertiguard/internal/config"
	"fertiguard/internal/model"
	"fertiguard/internal/storage"
)

// absoluteLimits are physical bounds independent of operating thresholds. A
// value outside them can only come from a broken or miscalibrated probe, so
// the calibration check fires regardless of history or toggles.
var absoluteLimits = map[string]struct{ Min, Max float64 }{
	"ph":           {0, 14},
	"temperature":  {-50, 100},
	"humidity":     {0, 100},
	"water_level":  {0, 100},
	"conductivity": {0, 10000},
	"nitrogen":     {0, 5000},
	"phosphorus":   {0, 2000},
	"potassium":    {0, 3000},
}

// Engine classifies one reading at a time against static bounds, a rolling
// statistical baseline and a short-term trend baseline. It holds no state
// beyond the history window cache.
type Engine struct {
	store  storage.Store
	logger *slog.Logger
	cfg    atomic.Value
	cache  *windowCache
	now    func() time.Time
}

func NewEngine(cfg *config.Config, store storage.Store, logger *slog.Logger) *Engine {
	return NewEngineWithClock(cfg, store, logger, nil)
}

// NewEngineWithClock injects the clock used for cache expiry and
// communication-gap measurement.
func NewEngineWithClock(cfg *config.Config, store storage.Store, logger *slog.Logger, now func() time.Time) *Engine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	e := &Engine{
		store:  store,
		logger: logger,
		cache:  newWindowCache(now),
		now:    now,
	}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) Reset() {
	e.cache.reset()
}

// Detect runs every check independently and unions the results. Checks that
// need history are skipped quietly when there is not enough of it; a failing
// store read is returned as an error alongside whatever the store-free checks
// already produced, so callers never mistake an outage for a clean reading.
func (e *Engine) Detect(ctx context.Context, reading model.SensorReading) ([]model.Anomaly, error) {
	cfg := e.config()
	out := make([]model.Anomaly, 0, 2)

	if cfg.Detection.CalibrationEnabled {
		if a, ok := e.checkCalibration(reading); ok {
			out = append(out, a)
		}
	}
	if a, ok := e.checkThreshold(cfg, reading); ok {
		out = append(out, a)
	}

	window, err := e.recentWindow(ctx, cfg, reading.SensorName, cfg.Detection.StatWindow)
	if err != nil {
		return out, fmt.Errorf("history window for %s: %w", reading.SensorName, err)
	}
	if a, ok := e.checkStatistical(cfg, reading, window); ok {
		out = append(out, a)
	}
	if a, ok := e.checkTrend(cfg, reading, window); ok {
		out = append(out, a)
	}

	if cfg.Detection.CommGapEnabled {
		a, ok, err := e.checkCommunication(ctx, cfg, reading)
		if err != nil {
			return out, fmt.Errorf("communication check for %s: %w", reading.SensorName, err)
		}
		if ok {
			out = append(out, a)
		}
	}

	if e.logger != nil && len(out) > 0 {
		for _, a := range out {
			e.logger.Warn("anomaly detected",
				"sensor", a.SensorName,
				"kind", string(a.Kind),
				"severity", string(a.Severity),
			)
		}
	}
	return out, nil
}

func (e *Engine) checkThreshold(cfg *config.Config, r model.SensorReading) (model.Anomaly, bool) {
	spec, ok := cfg.ThresholdFor(r.SensorName)
	if !ok {
		return model.Anomaly{}, false
	}
	if r.Value < spec.Min {
		return model.Anomaly{
			SensorName: r.SensorName,
			Kind:       model.KindThresholdLow,
			Severity:   model.SeverityHigh,
			Message: fmt.Sprintf("%s below minimum threshold: %g %s < %g %s",
				r.SensorName, r.Value, spec.Unit, spec.Min, spec.Unit),
			Value: r.Value,
			Bound: spec.Min,
		}, true
	}
	if r.Value > spec.Max {
		return model.Anomaly{
			SensorName: r.SensorName,
			Kind:       model.KindThresholdHigh,
			Severity:   model.SeverityHigh,
			Message: fmt.Sprintf("%s above maximum threshold: %g %s > %g %s",
				r.SensorName, r.Value, spec.Unit, spec.Max, spec.Unit),
			Value: r.Value,
			Bound: spec.Max,
		}, true
	}
	return model.Anomaly{}, false
}

func (e *Engine) checkStatistical(cfg *config.Config, r model.SensorReading, window []model.SensorReading) (model.Anomaly, bool) {
	if len(window) < cfg.Detection.StatMinCount {
		return model.Anomaly{}, false
	}
	mean, std := meanStd(window)
	if std == 0 {
		// Flat signal, z-score undefined.
		return model.Anomaly{}, false
	}
	z := math.Abs(r.Value-mean) / std

	limit := cfg.Detection.DefaultZLimit
	if spec, ok := cfg.ThresholdFor(r.SensorName); ok && spec.ZScoreLimit > 0 {
		limit = spec.ZScoreLimit
	}
	if z <= limit {
		return model.Anomaly{}, false
	}
	severity := model.SeverityMedium
	if z >= limit+1 {
		severity = model.SeverityHigh
	}
	return model.Anomaly{
		SensorName: r.SensorName,
		Kind:       model.KindStatistical,
		Severity:   severity,
		Message: fmt.Sprintf("statistically abnormal value for %s: %g %s (z-score: %.2f)",
			r.SensorName, r.Value, r.Unit, z),
		Value:  r.Value,
		ZScore: z,
		Mean:   mean,
		Std:    std,
	}, true
}

// checkTrend flags rapid deviation from the mean of the five most recent
// readings. Policy note: the percent-deviation variant is used here; the
// older mean-successive-difference variant is superseded. Bands are
// configurable (default 20/30/50%).
func (e *Engine) checkTrend(cfg *config.Config, r model.SensorReading, window []model.SensorReading) (model.Anomaly, bool) {
	if len(window) < cfg.Detection.TrendMinCount {
		return model.Anomaly{}, false
	}
	n := 5
	if len(window) < n {
		n = len(window)
	}
	var sum float64
	for _, w := range window[:n] {
		sum += w.Value
	}
	recentMean := sum / float64(n)
	if recentMean == 0 {
		return model.Anomaly{}, false
	}
	rate := math.Abs(r.Value-recentMean) / math.Abs(recentMean)
	if rate <= cfg.Detection.TrendDeviation {
		return model.Anomaly{}, false
	}
	severity := model.SeverityLow
	if rate >= cfg.Detection.TrendHigh {
		severity = model.SeverityHigh
	} else if rate >= cfg.Detection.TrendMedium {
		severity = model.SeverityMedium
	}
	return model.Anomaly{
		SensorName: r.SensorName,
		Kind:       model.KindTrend,
		Severity:   severity,
		Message: fmt.Sprintf("rapid variation detected for %s: %.1f%% change",
			r.SensorName, rate*100),
		Value:        r.Value,
		RateOfChange: rate,
	}, true
}

func (e *Engine) checkCommunication(ctx context.Context, cfg *config.Config, r model.SensorReading) (model.Anomaly, bool, error) {
	// Deliberately uncached: a five-minute-stale window would hide exactly
	// the gaps this check exists to find.
	prev, err := e.store.RecentReadings(ctx, r.SensorName, 1)
	if err != nil {
		return model.Anomaly{}, false, err
	}
	if len(prev) == 0 || prev[0].Timestamp.IsZero() {
		return model.Anomaly{}, false, nil
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}
	gap := ts.Sub(prev[0].Timestamp)
	if gap <= cfg.Detection.CommGap {
		return model.Anomaly{}, false, nil
	}
	return model.Anomaly{
		SensorName: r.SensorName,
		Kind:       model.KindCommunication,
		Severity:   model.SeverityMedium,
		Message: fmt.Sprintf("prolonged communication loss for %s: %.1f minutes",
			r.SensorName, gap.Minutes()),
		Gap: gap,
	}, true, nil
}

func (e *Engine) checkCalibration(r model.SensorReading) (model.Anomaly, bool) {
	limits, ok := absoluteLimits[r.SensorName]
	if !ok {
		return model.Anomaly{}, false
	}
	if r.Value >= limits.Min && r.Value <= limits.Max {
		return model.Anomaly{}, false
	}
	bound := limits.Min
	if r.Value > limits.Max {
		bound = limits.Max
	}
	return model.Anomaly{
		SensorName: r.SensorName,
		Kind:       model.KindCalibration,
		Severity:   model.SeverityCritical,
		Message: fmt.Sprintf("physically impossible value for %s: %g %s",
			r.SensorName, r.Value, r.Unit),
		Value: r.Value,
		Bound: bound,
	}, true
}

// DetectCorrelation inspects a batch of simultaneous readings for physically
// implausible joint states. Currently covers the temperature/humidity inverse
// correlation around the NPK probe.
func (e *Engine) DetectCorrelation(batch []model.SensorReading) []model.Anomaly {
	var temp, humidity *model.SensorReading
	for i := range batch {
		switch batch[i].SensorName {
		case "temperature":
			temp = &batch[i]
		case "humidity":
			humidity = &batch[i]
		}
	}
	if temp == nil || humidity == nil {
		return nil
	}
	if temp.Value > 30 && humidity.Value > 80 {
		return []model.Anomaly{{
			SensorName: "temperature_humidity",
			Kind:       model.KindCorrelation,
			Severity:   model.SeverityMedium,
			Message: fmt.Sprintf("abnormal correlation: high temperature (%g°C) with high humidity (%g%%)",
				temp.Value, humidity.Value),
			PairValues: map[string]float64{
				"temperature": temp.Value,
				"humidity":    humidity.Value,
			},
		}}
	}
	return nil
}

// Summary counts persisted alerts per kind bucket since the given time.
func (e *Engine) Summary(ctx context.Context, since time.Time) (map[string]int, error) {
	alerts, err := e.store.RecentAlerts(ctx, 1000)
	if err != nil {
		return nil, fmt.Errorf("alert summary: %w", err)
	}
	summary := map[string]int{
		"total":         0,
		"threshold":     0,
		"statistical":   0,
		"trend":         0,
		"communication": 0,
		"correlation":   0,
		"calibration":   0,
	}
	for _, a := range alerts {
		if a.CreatedAt.Before(since) {
			continue
		}
		summary["total"]++
		switch a.Kind {
		case model.KindThresholdLow, model.KindThresholdHigh:
			summary["threshold"]++
		case model.KindStatistical:
			summary["statistical"]++
		case model.KindTrend:
			summary["trend"]++
		case model.KindCommunication:
			summary["communication"]++
		case model.KindCorrelation:
			summary["correlation"]++
		case model.KindCalibration:
			summary["calibration"]++
		}
	}
	return summary, nil
}

// HealthScore grades a sensor 0-100 from its recent alert load and data
// regularity.
func (e *Engine) HealthScore(ctx context.Context, sensor string) (float64, error) {
	alerts, err := e.store.RecentAlerts(ctx, 100)
	if err != nil {
		return 0, fmt.Errorf("health score: %w", err)
	}
	score := 100.0
	for _, a := range alerts {
		if a.SensorName != sensor {
			continue
		}
		switch a.Severity {
		case model.SeverityCritical:
			score -= 25
		case model.SeverityHigh:
			score -= 15
		case model.SeverityMedium:
			score -= 8
		case model.SeverityLow:
			score -= 3
		}
	}
	recent, err := e.store.RecentReadings(ctx, sensor, 10)
	if err != nil {
		return 0, fmt.Errorf("health score: %w", err)
	}
	if len(recent) < 5 {
		score -= 20
	}
	return math.Max(0, math.Min(100, score)), nil
}

func (e *Engine) recentWindow(ctx context.Context, cfg *config.Config, sensor string, limit int) ([]model.SensorReading, error) {
	return e.cache.get(ctx, sensor, limit, cfg.Detection.CacheTTL, func(ctx context.Context) ([]model.SensorReading, error) {
		return e.store.RecentReadings(ctx, sensor, limit)
	})
}

// meanStd returns the sample mean and population standard deviation of the
// window values.
func meanStd(window []model.SensorReading) (float64, float64) {
	n := float64(len(window))
	var sum float64
	for _, r := range window {
		sum += r.Value
	}
	mean := sum / n
	var sq float64
	for _, r := range window {
		d := r.Value - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}
