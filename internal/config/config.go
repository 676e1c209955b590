package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel    string                   `json:"log_level" yaml:"log_level"`
	Thresholds  map[string]ThresholdSpec `json:"thresholds" yaml:"thresholds"`
	Lifetime    LifetimeConfig           `json:"lifetime" yaml:"lifetime"`
	Detection   DetectionConfig          `json:"detection" yaml:"detection"`
	Maintenance MaintenanceConfig        `json:"maintenance" yaml:"maintenance"`
	Analysis    AnalysisConfig           `json:"analysis" yaml:"analysis"`
	Ingest      IngestConfig             `json:"ingest" yaml:"ingest"`
	Storage     StorageConfig            `json:"storage" yaml:"storage"`
	API         APIConfig                `json:"api" yaml:"api"`
	Alerts      AlertsConfig             `json:"alerts" yaml:"alerts"`
}

// ThresholdSpec holds the static operating bounds for one sensor.
type ThresholdSpec struct {
	Min         float64 `json:"min" yaml:"min"`
	Max         float64 `json:"max" yaml:"max"`
	Unit        string  `json:"unit" yaml:"unit"`
	ZScoreLimit float64 `json:"z_score_limit" yaml:"z_score_limit"`
}

// LifetimeParameters is a two-parameter Weibull lifetime model with an
// optional location offset, in hours.
type LifetimeParameters struct {
	Shape    float64 `json:"shape" yaml:"shape"`
	Scale    float64 `json:"scale" yaml:"scale"`
	Location float64 `json:"location" yaml:"location"`
}

type LifetimeConfig struct {
	// Classes maps a physical sensor class to its fitted Weibull parameters.
	Classes map[string]LifetimeParameters `json:"classes" yaml:"classes"`
	// SensorClasses maps a sensor name to its class. Many sensor names share
	// one physical sensor (the NPK probe reports several channels).
	SensorClasses map[string]string `json:"sensor_classes" yaml:"sensor_classes"`
}

type DetectionConfig struct {
	StatWindow     int     `json:"stat_window" yaml:"stat_window"`
	StatMinCount   int     `json:"stat_min_count" yaml:"stat_min_count"`
	DefaultZLimit  float64 `json:"default_z_limit" yaml:"default_z_limit"`
	TrendWindow    int     `json:"trend_window" yaml:"trend_window"`
	TrendMinCount  int     `json:"trend_min_count" yaml:"trend_min_count"`
	TrendDeviation float64 `json:"trend_deviation" yaml:"trend_deviation"`
	TrendMedium    float64 `json:"trend_medium" yaml:"trend_medium"`
	TrendHigh      float64 `json:"trend_high" yaml:"trend_high"`

	// CommGapEnabled gates the communication-loss check. Off by default:
	// simulated deployments produce constant false positives.
	CommGapEnabled bool          `json:"comm_gap_enabled" yaml:"comm_gap_enabled"`
	CommGap        time.Duration `json:"comm_gap" yaml:"comm_gap"`

	CalibrationEnabled bool          `json:"calibration_enabled" yaml:"calibration_enabled"`
	CacheTTL           time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

type MaintenanceConfig struct {
	ScheduleMinProbability float64 `json:"schedule_min_probability" yaml:"schedule_min_probability"`
	HighRiskProbability    float64 `json:"high_risk_probability" yaml:"high_risk_probability"`

	PreventiveCost float64 `json:"preventive_cost" yaml:"preventive_cost"`
	CorrectiveCost float64 `json:"corrective_cost" yaml:"corrective_cost"`
	EmergencyCost  float64 `json:"emergency_cost" yaml:"emergency_cost"`
}

type AnalysisConfig struct {
	Interval               time.Duration `json:"interval" yaml:"interval"`
	HistoryLimit           int           `json:"history_limit" yaml:"history_limit"`
	AgeLimit               int           `json:"age_limit" yaml:"age_limit"`
	AssumedReadingsPerHour float64       `json:"assumed_readings_per_hour" yaml:"assumed_readings_per_hour"`
}

type IngestConfig struct {
	ChannelBuffer int         `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig  `json:"rest" yaml:"rest"`
	Kafka         KafkaConfig `json:"kafka" yaml:"kafka"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Thresholds: map[string]ThresholdSpec{
			"nitrogen":          {Min: 200, Max: 800, Unit: "mg/kg", ZScoreLimit: 2.5},
			"phosphorus":        {Min: 100, Max: 500, Unit: "mg/kg", ZScoreLimit: 2.5},
			"potassium":         {Min: 300, Max: 900, Unit: "mg/kg", ZScoreLimit: 2.5},
			"ph":                {Min: 5.5, Max: 8.5, Unit: "pH", ZScoreLimit: 2.0},
			"conductivity":      {Min: 500, Max: 2000, Unit: "µS/cm", ZScoreLimit: 2.5},
			"temperature":       {Min: 10, Max: 40, Unit: "°C", ZScoreLimit: 2.0},
			"humidity":          {Min: 30, Max: 90, Unit: "%", ZScoreLimit: 2.0},
			"salinity":          {Min: 200, Max: 1500, Unit: "ppm", ZScoreLimit: 2.5},
			"water_level":       {Min: 10, Max: 100, Unit: "%", ZScoreLimit: 2.0},
			"water_temperature": {Min: 15, Max: 35, Unit: "°C", ZScoreLimit: 2.0},
			"water_flow":        {Min: 1, Max: 15, Unit: "L/min", ZScoreLimit: 2.5},
			"water_pressure":    {Min: 0.5, Max: 3.0, Unit: "bar", ZScoreLimit: 2.0},
		},
		Lifetime: LifetimeConfig{
			Classes: map[string]LifetimeParameters{
				"npk_sensor":         {Shape: 2.5, Scale: 8760},
				"water_level_sensor": {Shape: 1.8, Scale: 17520},
				"water_flow_sensor":  {Shape: 2.2, Scale: 13140},
			},
			SensorClasses: map[string]string{
				"nitrogen":          "npk_sensor",
				"phosphorus":        "npk_sensor",
				"potassium":         "npk_sensor",
				"ph":                "npk_sensor",
				"conductivity":      "npk_sensor",
				"temperature":       "npk_sensor",
				"humidity":          "npk_sensor",
				"salinity":          "npk_sensor",
				"water_level":       "water_level_sensor",
				"water_temperature": "water_level_sensor",
				"water_flow":        "water_flow_sensor",
				"water_pressure":    "water_flow_sensor",
			},
		},
		Detection: DetectionConfig{
			StatWindow:         100,
			StatMinCount:       10,
			DefaultZLimit:      3.0,
			TrendWindow:        20,
			TrendMinCount:      5,
			TrendDeviation:     0.20,
			TrendMedium:        0.30,
			TrendHigh:          0.50,
			CommGapEnabled:     false,
			CommGap:            5 * time.Minute,
			CalibrationEnabled: true,
			CacheTTL:           5 * time.Minute,
		},
		Maintenance: MaintenanceConfig{
			ScheduleMinProbability: 0.2,
			HighRiskProbability:    0.6,
			PreventiveCost:         100,
			CorrectiveCost:         500,
			EmergencyCost:          1500,
		},
		Analysis: AnalysisConfig{
			Interval:               1 * time.Hour,
			HistoryLimit:           200,
			AgeLimit:               10000,
			AssumedReadingsPerHour: 60,
		},
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			Kafka:         KafkaConfig{Enabled: false},
		},
		Storage: StorageConfig{Driver: "sqlite", DSN: "file:fertiguard.db?_pragma=busy_timeout(5000)"},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Alerts:  AlertsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	d := DefaultConfig()
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = d.Thresholds
	}
	if len(cfg.Lifetime.Classes) == 0 {
		cfg.Lifetime.Classes = d.Lifetime.Classes
	}
	if len(cfg.Lifetime.SensorClasses) == 0 {
		cfg.Lifetime.SensorClasses = d.Lifetime.SensorClasses
	}
	if cfg.Detection.StatWindow <= 0 {
		cfg.Detection.StatWindow = d.Detection.StatWindow
	}
	if cfg.Detection.StatMinCount <= 0 {
		cfg.Detection.StatMinCount = d.Detection.StatMinCount
	}
	if cfg.Detection.DefaultZLimit <= 0 {
		cfg.Detection.DefaultZLimit = d.Detection.DefaultZLimit
	}
	if cfg.Detection.TrendWindow <= 0 {
		cfg.Detection.TrendWindow = d.Detection.TrendWindow
	}
	if cfg.Detection.TrendMinCount <= 0 {
		cfg.Detection.TrendMinCount = d.Detection.TrendMinCount
	}
	if cfg.Detection.TrendDeviation <= 0 {
		cfg.Detection.TrendDeviation = d.Detection.TrendDeviation
	}
	if cfg.Detection.TrendMedium <= 0 {
		cfg.Detection.TrendMedium = d.Detection.TrendMedium
	}
	if cfg.Detection.TrendHigh <= 0 {
		cfg.Detection.TrendHigh = d.Detection.TrendHigh
	}
	if cfg.Detection.CommGap <= 0 {
		cfg.Detection.CommGap = d.Detection.CommGap
	}
	if cfg.Detection.CacheTTL <= 0 {
		cfg.Detection.CacheTTL = d.Detection.CacheTTL
	}
	if cfg.Maintenance.ScheduleMinProbability <= 0 {
		cfg.Maintenance.ScheduleMinProbability = d.Maintenance.ScheduleMinProbability
	}
	if cfg.Maintenance.HighRiskProbability <= 0 {
		cfg.Maintenance.HighRiskProbability = d.Maintenance.HighRiskProbability
	}
	if cfg.Maintenance.PreventiveCost <= 0 {
		cfg.Maintenance.PreventiveCost = d.Maintenance.PreventiveCost
	}
	if cfg.Maintenance.CorrectiveCost <= 0 {
		cfg.Maintenance.CorrectiveCost = d.Maintenance.CorrectiveCost
	}
	if cfg.Maintenance.EmergencyCost <= 0 {
		cfg.Maintenance.EmergencyCost = d.Maintenance.EmergencyCost
	}
	if cfg.Analysis.Interval <= 0 {
		cfg.Analysis.Interval = d.Analysis.Interval
	}
	if cfg.Analysis.HistoryLimit <= 0 {
		cfg.Analysis.HistoryLimit = d.Analysis.HistoryLimit
	}
	if cfg.Analysis.AgeLimit <= 0 {
		cfg.Analysis.AgeLimit = d.Analysis.AgeLimit
	}
	if cfg.Analysis.AssumedReadingsPerHour <= 0 {
		cfg.Analysis.AssumedReadingsPerHour = d.Analysis.AssumedReadingsPerHour
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = d.Ingest.ChannelBuffer
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = d.Alerts.StoreLimit
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = d.Storage.Driver
	}
}

// Validate fails fast on malformed static configuration so that no analysis
// ever runs against impossible parameters.
func Validate(cfg *Config) error {
	for name, spec := range cfg.Thresholds {
		if spec.Min >= spec.Max {
			return fmt.Errorf("thresholds.%s: min %v must be below max %v", name, spec.Min, spec.Max)
		}
		if spec.ZScoreLimit < 0 {
			return fmt.Errorf("thresholds.%s: z_score_limit must not be negative", name)
		}
	}
	for class, params := range cfg.Lifetime.Classes {
		if params.Shape <= 0 {
			return fmt.Errorf("lifetime.classes.%s: shape must be > 0", class)
		}
		if params.Scale <= 0 {
			return fmt.Errorf("lifetime.classes.%s: scale must be > 0", class)
		}
		if params.Location < 0 {
			return fmt.Errorf("lifetime.classes.%s: location must not be negative", class)
		}
	}
	for sensor, class := range cfg.Lifetime.SensorClasses {
		if _, ok := cfg.Lifetime.Classes[class]; !ok {
			return fmt.Errorf("lifetime.sensor_classes.%s: unknown class %q", sensor, class)
		}
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Maintenance.ScheduleMinProbability >= 1 {
		return errors.New("maintenance.schedule_min_probability must be below 1")
	}
	return nil
}

// ThresholdFor returns the threshold spec for a sensor, if configured.
func (c *Config) ThresholdFor(sensor string) (ThresholdSpec, bool) {
	spec, ok := c.Thresholds[sensor]
	return spec, ok
}

// LifetimeFor resolves a sensor name to its class parameters.
func (c *Config) LifetimeFor(sensor string) (LifetimeParameters, bool) {
	class, ok := c.Lifetime.SensorClasses[sensor]
	if !ok {
		return LifetimeParameters{}, false
	}
	params, ok := c.Lifetime.Classes[class]
	return params, ok
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

// NewStatic wraps an in-memory config with no backing file; Reload and Watch
// are no-ops.
func NewStatic(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if info, err := os.Stat(path); err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if m.path == "" {
		return
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}
