package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"fertiguard/internal/config"
	"fertiguard/internal/model"
)

// ErrInvalidTransition is returned when a maintenance status update would
// move backwards (completed -> planned and the like).
var ErrInvalidTransition = errors.New("invalid maintenance status transition")

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the history contract the analytical core runs against. Read
// failures must surface as errors: an unavailable store is never the same
// thing as "no data".
type Store interface {
	Init(ctx context.Context) error
	Close() error

	InsertReading(ctx context.Context, r model.SensorReading) error
	// RecentReadings returns up to limit readings for a sensor, newest first.
	RecentReadings(ctx context.Context, sensor string, limit int) ([]model.SensorReading, error)
	// ReadingsInRange returns readings between start and end, oldest first.
	ReadingsInRange(ctx context.Context, sensor string, start, end time.Time) ([]model.SensorReading, error)

	CreateAlert(ctx context.Context, sensor string, kind model.AnomalyKind, message string, severity model.Severity) (int64, error)
	RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error)

	SavePrediction(ctx context.Context, p model.FailurePrediction) (int64, error)
	// LatestPredictions returns the newest prediction per sensor.
	LatestPredictions(ctx context.Context) ([]model.FailurePrediction, error)

	CreateMaintenanceRecord(ctx context.Context, sensor string, mtype model.MaintenanceType, description string, scheduled time.Time) (int64, error)
	// MaintenanceRecords lists records, optionally filtered by status
	// (empty status means all).
	MaintenanceRecords(ctx context.Context, status model.MaintenanceStatus) ([]model.MaintenanceRecord, error)
	UpdateMaintenanceStatus(ctx context.Context, id int64, status model.MaintenanceStatus, completed *time.Time) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseTime decodes the timestamp formats the rig has historically written.
// A malformed value yields the zero time; callers exclude those rows instead
// of failing the whole query.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func scanTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}
