package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fertiguard/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/fertiguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sensor_readings (
			id BIGSERIAL PRIMARY KEY,
			sensor_name TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			unit TEXT NOT NULL,
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_sensor_ts ON sensor_readings(sensor_name, ts)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			sensor_name TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			message TEXT NOT NULL,
			severity TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			id BIGSERIAL PRIMARY KEY,
			sensor_name TEXT NOT NULL,
			failure_probability DOUBLE PRECISION NOT NULL,
			predicted_failure_date TEXT,
			confidence_score DOUBLE PRECISION NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_sensor ON predictions(sensor_name, created_at)`,
		`CREATE TABLE IF NOT EXISTS maintenance_records (
			id BIGSERIAL PRIMARY KEY,
			sensor_name TEXT NOT NULL,
			maintenance_type TEXT NOT NULL,
			description TEXT,
			scheduled_date TEXT NOT NULL,
			completed_date TEXT,
			status TEXT NOT NULL DEFAULT 'planned',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_maintenance_status ON maintenance_records(status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) InsertReading(ctx context.Context, r model.SensorReading) error {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensor_readings (sensor_name, value, unit, ts) VALUES ($1, $2, $3, $4)`,
		r.SensorName, r.Value, r.Unit, formatTime(ts))
	return err
}

func (s *postgresStore) RecentReadings(ctx context.Context, sensor string, limit int) ([]model.SensorReading, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT sensor_name, value, unit, ts FROM sensor_readings
		WHERE sensor_name = $1 ORDER BY ts DESC LIMIT $2`, sensor, limit)
	if err != nil {
		return nil, fmt.Errorf("recent readings: %w", err)
	}
	defer rows.Close()
	return scanReadings(rows)
}

func (s *postgresStore) ReadingsInRange(ctx context.Context, sensor string, start, end time.Time) ([]model.SensorReading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sensor_name, value, unit, ts FROM sensor_readings
		WHERE sensor_name = $1 AND ts BETWEEN $2 AND $3 ORDER BY ts ASC`,
		sensor, formatTime(start), formatTime(end))
	if err != nil {
		return nil, fmt.Errorf("readings in range: %w", err)
	}
	defer rows.Close()
	return scanReadings(rows)
}

func (s *postgresStore) CreateAlert(ctx context.Context, sensor string, kind model.AnomalyKind, message string, severity model.Severity) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO alerts (sensor_name, alert_type, message, severity, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		sensor, string(kind), message, string(severity), formatTime(nowUTC())).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create alert: %w", err)
	}
	return id, nil
}

func (s *postgresStore) RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sensor_name, alert_type, message, severity, created_at
		FROM alerts ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent alerts: %w", err)
	}
	defer rows.Close()
	out := make([]model.Alert, 0, limit)
	for rows.Next() {
		var a model.Alert
		var kind, severity, created string
		if err := rows.Scan(&a.ID, &a.SensorName, &kind, &a.Message, &severity, &created); err != nil {
			return nil, err
		}
		a.Kind = model.AnomalyKind(kind)
		a.Severity = model.Severity(severity)
		a.CreatedAt = parseTime(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *postgresStore) SavePrediction(ctx context.Context, p model.FailurePrediction) (int64, error) {
	created := p.CreatedAt
	if created.IsZero() {
		created = nowUTC()
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO predictions (sensor_name, failure_probability, predicted_failure_date, confidence_score, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		p.SensorName, p.FailureProbability, formatTimePtr(p.PredictedFailureAt), p.ConfidenceScore, formatTime(created)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save prediction: %w", err)
	}
	return id, nil
}

func (s *postgresStore) LatestPredictions(ctx context.Context) ([]model.FailurePrediction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT ON (sensor_name)
			sensor_name, failure_probability, predicted_failure_date, confidence_score, created_at
		FROM predictions ORDER BY sensor_name, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("latest predictions: %w", err)
	}
	defer rows.Close()
	return scanPredictions(rows)
}

func (s *postgresStore) CreateMaintenanceRecord(ctx context.Context, sensor string, mtype model.MaintenanceType, description string, scheduled time.Time) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO maintenance_records (sensor_name, maintenance_type, description, scheduled_date, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		sensor, string(mtype), description, formatTime(scheduled), string(model.StatusPlanned), formatTime(nowUTC())).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create maintenance record: %w", err)
	}
	return id, nil
}

func (s *postgresStore) MaintenanceRecords(ctx context.Context, status model.MaintenanceStatus) ([]model.MaintenanceRecord, error) {
	query := `SELECT id, sensor_name, maintenance_type, description, scheduled_date, completed_date, status, created_at
		FROM maintenance_records`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY scheduled_date DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("maintenance records: %w", err)
	}
	defer rows.Close()
	return scanMaintenance(rows)
}

func (s *postgresStore) UpdateMaintenanceStatus(ctx context.Context, id int64, status model.MaintenanceStatus, completed *time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM maintenance_records WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return ErrNotFound
	}
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if !model.ValidTransition(model.MaintenanceStatus(current), status) {
		_ = tx.Rollback()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE maintenance_records SET status = $1, completed_date = $2 WHERE id = $3`,
		string(status), formatTimePtr(completed), id); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
