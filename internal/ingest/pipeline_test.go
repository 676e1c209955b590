package ingest

import (
	"context"
	"testing"
	"time"

	"fertiguard/internal/alerts"
	"fertiguard/internal/anomaly"
	"fertiguard/internal/config"
	"fertiguard/internal/model"
	"fertiguard/internal/storage"
)

type fakeStore struct {
	inserted []model.SensorReading
	alerts   []model.Alert
}

func (f *fakeStore) Init(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }

func (f *fakeStore) InsertReading(ctx context.Context, r model.SensorReading) error {
	f.inserted = append(f.inserted, r)
	return nil
}

func (f *fakeStore) RecentReadings(ctx context.Context, sensor string, limit int) ([]model.SensorReading, error) {
	return nil, nil
}

func (f *fakeStore) ReadingsInRange(ctx context.Context, sensor string, start, end time.Time) ([]model.SensorReading, error) {
	return nil, nil
}

func (f *fakeStore) CreateAlert(ctx context.Context, sensor string, kind model.AnomalyKind, message string, severity model.Severity) (int64, error) {
	f.alerts = append(f.alerts, model.Alert{SensorName: sensor, Kind: kind, Message: message, Severity: severity})
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

func TestProcessPersistsReadingAndAlerts(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Detection.CacheTTL = 0
	store := &fakeStore{}
	ring := alerts.NewStore(10)
	engine := anomaly.NewEngine(cfg, store, nil)
	p := NewProcessor(store, engine, ring, nil)

	p.Process(context.Background(), model.SensorReading{
		SensorName: "ph", Value: 9.5, Unit: "pH", Timestamp: time.Now(),
	})

	if len(store.inserted) != 1 {
		t.Fatalf("inserted = %d, want 1", len(store.inserted))
	}
	if len(store.alerts) != 1 || store.alerts[0].Kind != model.KindThresholdHigh {
		t.Fatalf("persisted alerts = %v", store.alerts)
	}
	got := ring.List(0)
	if len(got) != 1 || got[0].SensorName != "ph" {
		t.Fatalf("ring alerts = %v", got)
	}
}

func TestProcessStampsMissingTimestamp(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Detection.CacheTTL = 0
	store := &fakeStore{}
	engine := anomaly.NewEngine(cfg, store, nil)
	p := NewProcessor(store, engine, nil, nil)

	p.Process(context.Background(), model.SensorReading{SensorName: "ph", Value: 7, Unit: "pH"})

	if len(store.inserted) != 1 {
		t.Fatalf("inserted = %d, want 1", len(store.inserted))
	}
	if store.inserted[0].Timestamp.IsZero() {
		t.Fatal("zero timestamp must be stamped at ingestion")
	}
}

func TestSendNonBlockingDropsWhenFull(t *testing.T) {
	out := make(chan model.SensorReading, 1)
	r := model.SensorReading{SensorName: "ph", Value: 7}
	if !SendNonBlocking(context.Background(), out, r, nil) {
		t.Fatal("send into empty buffer failed")
	}
	if SendNonBlocking(context.Background(), out, r, nil) {
		t.Fatal("send into full buffer must drop")
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if SendNonBlocking(cancelled, out, r, nil) {
		t.Fatal("send after cancellation must fail")
	}
}
