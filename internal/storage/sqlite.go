package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"fertiguard/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:fertiguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sensor_readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sensor_name TEXT NOT NULL,
			value REAL NOT NULL,
			unit TEXT NOT NULL,
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_sensor_ts ON sensor_readings(sensor_name, ts)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sensor_name TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			message TEXT NOT NULL,
			severity TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sensor_name TEXT NOT NULL,
			failure_probability REAL NOT NULL,
			predicted_failure_date TEXT,
			confidence_score REAL NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_sensor ON predictions(sensor_name, created_at)`,
		`CREATE TABLE IF NOT EXISTS maintenance_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
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

func (s *sqliteStore) InsertReading(ctx context.Context, r model.SensorReading) error {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensor_readings (sensor_name, value, unit, ts) VALUES (?, ?, ?, ?)`,
		r.SensorName, r.Value, r.Unit, formatTime(ts))
	return err
}

func (s *sqliteStore) RecentReadings(ctx context.Context, sensor string, limit int) ([]model.SensorReading, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT sensor_name, value, unit, ts FROM sensor_readings
		WHERE sensor_name = ? ORDER BY ts DESC LIMIT ?`, sensor, limit)
	if err != nil {
		return nil, fmt.Errorf("recent readings: %w", err)
	}
	defer rows.Close()
	return scanReadings(rows)
}

func (s *sqliteStore) ReadingsInRange(ctx context.Context, sensor string, start, end time.Time) ([]model.SensorReading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sensor_name, value, unit, ts FROM sensor_readings
		WHERE sensor_name = ? AND ts BETWEEN ? AND ? ORDER BY ts ASC`,
		sensor, formatTime(start), formatTime(end))
	if err != nil {
		return nil, fmt.Errorf("readings in range: %w", err)
	}
	defer rows.Close()
	return scanReadings(rows)
}

func scanReadings(rows *sql.Rows) ([]model.SensorReading, error) {
	out := make([]model.SensorReading, 0, 64)
	for rows.Next() {
		var r model.SensorReading
		var ts string
		if err := rows.Scan(&r.SensorName, &r.Value, &r.Unit, &ts); err != nil {
			return nil, err
		}
		r.Timestamp = parseTime(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateAlert(ctx context.Context, sensor string, kind model.AnomalyKind, message string, severity model.Severity) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (sensor_name, alert_type, message, severity, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sensor, string(kind), message, string(severity), formatTime(nowUTC()))
	if err != nil {
		return 0, fmt.Errorf("create alert: %w", err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sensor_name, alert_type, message, severity, created_at
		FROM alerts ORDER BY created_at DESC LIMIT ?`, limit)
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

func (s *sqliteStore) SavePrediction(ctx context.Context, p model.FailurePrediction) (int64, error) {
	created := p.CreatedAt
	if created.IsZero() {
		created = nowUTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO predictions (sensor_name, failure_probability, predicted_failure_date, confidence_score, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.SensorName, p.FailureProbability, formatTimePtr(p.PredictedFailureAt), p.ConfidenceScore, formatTime(created))
	if err != nil {
		return 0, fmt.Errorf("save prediction: %w", err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) LatestPredictions(ctx context.Context) ([]model.FailurePrediction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p1.sensor_name, p1.failure_probability, p1.predicted_failure_date, p1.confidence_score, p1.created_at
		FROM predictions p1
		INNER JOIN (
			SELECT sensor_name, MAX(created_at) AS max_created
			FROM predictions GROUP BY sensor_name
		) p2 ON p1.sensor_name = p2.sensor_name AND p1.created_at = p2.max_created`)
	if err != nil {
		return nil, fmt.Errorf("latest predictions: %w", err)
	}
	defer rows.Close()
	return scanPredictions(rows)
}

func scanPredictions(rows *sql.Rows) ([]model.FailurePrediction, error) {
	out := make([]model.FailurePrediction, 0, 16)
	for rows.Next() {
		var p model.FailurePrediction
		var failureAt sql.NullString
		var created string
		if err := rows.Scan(&p.SensorName, &p.FailureProbability, &failureAt, &p.ConfidenceScore, &created); err != nil {
			return nil, err
		}
		p.Reliability = 1 - p.FailureProbability
		p.PredictedFailureAt = scanTimePtr(failureAt)
		p.CreatedAt = parseTime(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateMaintenanceRecord(ctx context.Context, sensor string, mtype model.MaintenanceType, description string, scheduled time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO maintenance_records (sensor_name, maintenance_type, description, scheduled_date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sensor, string(mtype), description, formatTime(scheduled), string(model.StatusPlanned), formatTime(nowUTC()))
	if err != nil {
		return 0, fmt.Errorf("create maintenance record: %w", err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) MaintenanceRecords(ctx context.Context, status model.MaintenanceStatus) ([]model.MaintenanceRecord, error) {
	query := `SELECT id, sensor_name, maintenance_type, description, scheduled_date, completed_date, status, created_at
		FROM maintenance_records`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
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

func scanMaintenance(rows *sql.Rows) ([]model.MaintenanceRecord, error) {
	out := make([]model.MaintenanceRecord, 0, 16)
	for rows.Next() {
		var m model.MaintenanceRecord
		var mtype, scheduled, status, created string
		var desc, completed sql.NullString
		if err := rows.Scan(&m.ID, &m.SensorName, &mtype, &desc, &scheduled, &completed, &status, &created); err != nil {
			return nil, err
		}
		m.Type = model.MaintenanceType(mtype)
		m.Description = desc.String
		m.ScheduledDate = parseTime(scheduled)
		m.CompletedDate = scanTimePtr(completed)
		m.Status = model.MaintenanceStatus(status)
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateMaintenanceStatus(ctx context.Context, id int64, status model.MaintenanceStatus, completed *time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM maintenance_records WHERE id = ?`, id).Scan(&current)
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
		`UPDATE maintenance_records SET status = ?, completed_date = ? WHERE id = ?`,
		string(status), formatTimePtr(completed), id); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
