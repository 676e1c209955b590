package anomaly

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fertiguard/internal/config"
	"fertiguard/internal/model"
	"fertiguard/internal/storage"
)

type fakeStore struct {
	readings   map[string][]model.SensorReading
	alerts     []model.Alert
	fetchCount int
	readErr    error
}

func (f *fakeStore) Init(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }

func (f *fakeStore) InsertReading(ctx context.Context, r model.SensorReading) error { return nil }

func (f *fakeStore) RecentReadings(ctx context.Context, sensor string, limit int) ([]model.SensorReading, error) {
	f.fetchCount++
	if f.readErr != nil {
		return nil, f.readErr
	}
	rs := f.readings[sensor]
	if limit < len(rs) {
		rs = rs[:limit]
	}
	return rs, nil
}

func (f *fakeStore) ReadingsInRange(ctx context.Context, sensor string, start, end time.Time) ([]model.SensorReading, error) {
	return nil, nil
}

func (f *fakeStore) CreateAlert(ctx context.Context, sensor string, kind model.AnomalyKind, message string, severity model.Severity) (int64, error) {
	f.alerts = append(f.alerts, model.Alert{SensorName: sensor, Kind: kind, Message: message, Severity: severity, CreatedAt: time.Now()})
	return int64(len(f.alerts)), nil
}

func (f *fakeStore) RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	return f.alerts, nil
}

func (f *fakeStore) SavePrediction(ctx context.Context, p model.FailurePrediction) (int64, error) {
	return 1, nil
}

func (f *fakeStore) LatestPredictions(ctx context.Context) ([]model.FailurePrediction, error) {
	return nil, nil
}

func (f *fakeStore) CreateMaintenanceRecord(ctx context.Context, sensor string, mtype model.MaintenanceType, description string, scheduled time.Time) (int64, error) {
	return 1, nil
}

func (f *fakeStore) MaintenanceRecords(ctx context.Context, status model.MaintenanceStatus) ([]model.MaintenanceRecord, error) {
	return nil, nil
}

func (f *fakeStore) UpdateMaintenanceStatus(ctx context.Context, id int64, status model.MaintenanceStatus, completed *time.Time) error {
	return nil
}

var _ storage.Store = (*fakeStore)(nil)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Detection.CacheTTL = 0 // no caching unless a test opts in
	return cfg
}

// history returns n readings of the given values cycled, newest first, one
// minute apart ending at end.
func history(sensor, unit string, end time.Time, values ...float64) []model.SensorReading {
	out := make([]model.SensorReading, len(values))
	for i, v := range values {
		out[i] = model.SensorReading{
			SensorName: sensor,
			Value:      v,
			Unit:       unit,
			Timestamp:  end.Add(-time.Duration(i) * time.Minute),
		}
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func kinds(anomalies []model.Anomaly) map[model.AnomalyKind]model.Anomaly {
	out := make(map[model.AnomalyKind]model.Anomaly, len(anomalies))
	for _, a := range anomalies {
		out[a.Kind] = a
	}
	return out
}

func TestThresholdHigh(t *testing.T) {
	store := &fakeStore{readings: map[string][]model.SensorReading{}}
	eng := NewEngine(testConfig(), store, nil)

	got, err := eng.Detect(context.Background(), model.SensorReading{
		SensorName: "ph", Value: 9.5, Unit: "pH", Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one anomaly, got %d: %v", len(got), got)
	}
	a := got[0]
	if a.Kind != model.KindThresholdHigh {
		t.Fatalf("expected threshold_high, got %s", a.Kind)
	}
	for _, want := range []string{"ph", "9.5", "8.5", "pH"} {
		if !strings.Contains(a.Message, want) {
			t.Errorf("message %q missing %q", a.Message, want)
		}
	}
}

func TestThresholdLow(t *testing.T) {
	store := &fakeStore{readings: map[string][]model.SensorReading{}}
	eng := NewEngine(testConfig(), store, nil)

	got, err := eng.Detect(context.Background(), model.SensorReading{
		SensorName: "ph", Value: 4.0, Unit: "pH", Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(got) != 1 || got[0].Kind != model.KindThresholdLow {
		t.Fatalf("expected one threshold_low, got %v", got)
	}
	if got[0].Bound != 5.5 {
		t.Errorf("bound = %v, want 5.5", got[0].Bound)
	}
}

func TestInsideBoundsNoThresholdAnomaly(t *testing.T) {
	store := &fakeStore{readings: map[string][]model.SensorReading{}}
	eng := NewEngine(testConfig(), store, nil)

	got, err := eng.Detect(context.Background(), model.SensorReading{
		SensorName: "ph", Value: 7.0, Unit: "pH", Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no anomalies, got %v", got)
	}
}

func TestStatisticalZeroVarianceSkipped(t *testing.T) {
	now := time.Now()
	store := &fakeStore{readings: map[string][]model.SensorReading{
		"temperature": history("temperature", "°C", now, repeat(25, 20)...),
	}}
	eng := NewEngine(testConfig(), store, nil)

	// Inside thresholds, flat history: no check may fire on sigma 0.
	got, err := eng.Detect(context.Background(), model.SensorReading{
		SensorName: "temperature", Value: 28, Unit: "°C", Timestamp: now,
	})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if _, ok := kinds(got)[model.KindStatistical]; ok {
		t.Fatalf("statistical anomaly on zero-variance history: %v", got)
	}
}

func TestStatisticalZScoreFires(t *testing.T) {
	cfg := testConfig()
	// Sensor without an operating threshold spec: the default z limit (3.0)
	// applies and the threshold check stays out of the picture.
	delete(cfg.Thresholds, "salinity")
	now := time.Now()

	// 25 readings at 10 and 25 at 20: mean 15, population std 5.
	values := append(repeat(10, 25), repeat(20, 25)...)
	store := &fakeStore{readings: map[string][]model.SensorReading{
		"salinity": history("salinity", "ppm", now, values...),
	}}
	eng := NewEngine(cfg, store, nil)

	// Probe 40 gives z = |40-15|/5 = 5.0.
	got, err := eng.Detect(context.Background(), model.SensorReading{
		SensorName: "salinity", Value: 40, Unit: "ppm", Timestamp: now,
	})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	a, ok := kinds(got)[model.KindStatistical]
	if !ok {
		t.Fatalf("expected statistical anomaly, got %v", got)
	}
	if a.ZScore < 4.999 || a.ZScore > 5.001 {
		t.Errorf("z-score = %v, want 5.0", a.ZScore)
	}
	if a.Severity != model.SeverityHigh {
		t.Errorf("severity = %s, want high for z well past the limit", a.Severity)
	}
}

func TestStatisticalInsufficientHistorySkipped(t *testing.T) {
	now := time.Now()
	store := &fakeStore{readings: map[string][]model.SensorReading{
		"temperature": history("temperature", "°C", now, 20, 30, 20, 30, 20),
	}}
	eng := NewEngine(testConfig(), store, nil)

	got, err := eng.Detect(context.Background(), model.SensorReading{
		SensorName: "temperature", Value: 39, Unit: "°C", Timestamp: now,
	})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if _, ok := kinds(got)[model.KindStatistical]; ok {
		t.Fatalf("statistical check must skip below the minimum count, got %v", got)
	}
}

func TestTrendSeverityBands(t *testing.T) {
	cases := []struct {
		name     string
		value    float64
		severity model.Severity
		fires    bool
	}{
		{"below band", 22, "", false},
		{"low band", 25, model.SeverityLow, true},
		{"medium band", 27, model.SeverityMedium, true},
		{"high band", 31, model.SeverityHigh, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now := time.Now()
			// Mean of the most recent five readings is 20.
			store := &fakeStore{readings: map[string][]model.SensorReading{
				"temperature": history("temperature", "°C", now, 20, 20, 20, 20, 20),
			}}
			eng := NewEngine(testConfig(), store, nil)
			got, err := eng.Detect(context.Background(), model.SensorReading{
				SensorName: "temperature", Value: tc.value, Unit: "°C", Timestamp: now,
			})
			if err != nil {
				t.Fatalf("detect: %v", err)
			}
			a, ok := kinds(got)[model.KindTrend]
			if ok != tc.fires {
				t.Fatalf("trend fired=%v, want %v (%v)", ok, tc.fires, got)
			}
			if tc.fires && a.Severity != tc.severity {
				t.Errorf("severity = %s, want %s", a.Severity, tc.severity)
			}
		})
	}
}

func TestCalibrationAlwaysCritical(t *testing.T) {
	// No history at all and the communication toggle off: the calibration
	// check must still fire.
	store := &fakeStore{readings: map[string][]model.SensorReading{}}
	eng := NewEngine(testConfig(), store, nil)

	got, err := eng.Detect(context.Background(), model.SensorReading{
		SensorName: "ph", Value: 15.2, Unit: "pH", Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	a, ok := kinds(got)[model.KindCalibration]
	if !ok {
		t.Fatalf("expected calibration anomaly, got %v", got)
	}
	if a.Severity != model.SeverityCritical {
		t.Errorf("severity = %s, want critical", a.Severity)
	}
}

func TestCommunicationGap(t *testing.T) {
	now := time.Now()
	store := &fakeStore{readings: map[string][]model.SensorReading{
		"ph": {{SensorName: "ph", Value: 7, Unit: "pH", Timestamp: now.Add(-10 * time.Minute)}},
	}}

	cfg := testConfig()
	eng := NewEngine(cfg, store, nil)
	got, err := eng.Detect(context.Background(), model.SensorReading{
		SensorName: "ph", Value: 7, Unit: "pH", Timestamp: now,
	})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if _, ok := kinds(got)[model.KindCommunication]; ok {
		t.Fatalf("communication check fired while disabled")
	}

	cfg2 := testConfig()
	cfg2.Detection.CommGapEnabled = true
	eng2 := NewEngine(cfg2, store, nil)
	got, err = eng2.Detect(context.Background(), model.SensorReading{
		SensorName: "ph", Value: 7, Unit: "pH", Timestamp: now,
	})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	a, ok := kinds(got)[model.KindCommunication]
	if !ok {
		t.Fatalf("expected communication anomaly, got %v", got)
	}
	if a.Gap < 9*time.Minute || a.Gap > 11*time.Minute {
		t.Errorf("gap = %v, want about 10m", a.Gap)
	}
}

func TestWindowCacheExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	clock := now
	store := &fakeStore{readings: map[string][]model.SensorReading{
		"temperature": history("temperature", "°C", now, repeat(25, 20)...),
	}}
	cfg := testConfig()
	cfg.Detection.CacheTTL = 5 * time.Minute
	cfg.Detection.CommGapEnabled = false
	eng := NewEngineWithClock(cfg, store, nil, func() time.Time { return clock })

	reading := model.SensorReading{SensorName: "temperature", Value: 25, Unit: "°C", Timestamp: now}
	if _, err := eng.Detect(context.Background(), reading); err != nil {
		t.Fatalf("detect: %v", err)
	}
	first := store.fetchCount
	if _, err := eng.Detect(context.Background(), reading); err != nil {
		t.Fatalf("detect: %v", err)
	}
	if store.fetchCount != first {
		t.Fatalf("window refetched within TTL: %d -> %d", first, store.fetchCount)
	}

	clock = clock.Add(6 * time.Minute)
	if _, err := eng.Detect(context.Background(), reading); err != nil {
		t.Fatalf("detect: %v", err)
	}
	if store.fetchCount == first {
		t.Fatalf("window not refetched after TTL expiry")
	}
}

func TestStoreFailurePropagates(t *testing.T) {
	store := &fakeStore{readErr: errors.New("connection refused")}
	eng := NewEngine(testConfig(), store, nil)

	got, err := eng.Detect(context.Background(), model.SensorReading{
		SensorName: "ph", Value: 9.5, Unit: "pH", Timestamp: time.Now(),
	})
	if err == nil {
		t.Fatalf("expected store failure to propagate")
	}
	// The store-free checks still report.
	if _, ok := kinds(got)[model.KindThresholdHigh]; !ok {
		t.Errorf("threshold result missing alongside the error: %v", got)
	}
}

func TestCorrelationAnomaly(t *testing.T) {
	eng := NewEngine(testConfig(), &fakeStore{}, nil)
	got := eng.DetectCorrelation([]model.SensorReading{
		{SensorName: "temperature", Value: 31},
		{SensorName: "humidity", Value: 85},
	})
	if len(got) != 1 || got[0].Kind != model.KindCorrelation {
		t.Fatalf("expected one correlation anomaly, got %v", got)
	}
	if got[0].SensorName != "temperature_humidity" {
		t.Errorf("pair name = %s", got[0].SensorName)
	}

	got = eng.DetectCorrelation([]model.SensorReading{
		{SensorName: "temperature", Value: 25},
		{SensorName: "humidity", Value: 85},
	})
	if len(got) != 0 {
		t.Fatalf("unexpected correlation anomaly: %v", got)
	}
}

func TestHealthScorePenalties(t *testing.T) {
	now := time.Now()
	store := &fakeStore{
		readings: map[string][]model.SensorReading{
			"ph": history("ph", "pH", now, repeat(7, 10)...),
		},
		alerts: []model.Alert{
			{SensorName: "ph", Severity: model.SeverityCritical, CreatedAt: now},
			{SensorName: "ph", Severity: model.SeverityMedium, CreatedAt: now},
			{SensorName: "other", Severity: model.SeverityCritical, CreatedAt: now},
		},
	}
	eng := NewEngine(testConfig(), store, nil)
	score, err := eng.HealthScore(context.Background(), "ph")
	if err != nil {
		t.Fatalf("health score: %v", err)
	}
	if score != 67 { // 100 - 25 - 8
		t.Errorf("score = %v, want 67", score)
	}
}
