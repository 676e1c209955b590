package model

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type AnomalyKind string

const (
	KindThresholdLow  AnomalyKind = "threshold_low"
	KindThresholdHigh AnomalyKind = "threshold_high"
	KindStatistical   AnomalyKind = "statistical"
	KindTrend         AnomalyKind = "trend"
	KindCommunication AnomalyKind = "communication"
	KindCalibration   AnomalyKind = "calibration"
	KindCorrelation   AnomalyKind = "correlation"
)

type SensorReading struct {
	SensorName string    `json:"sensor_name"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	Timestamp  time.Time `json:"timestamp"`
}

// Anomaly is the per-check detection result. Evidence fields are populated
// only for the kinds they belong to.
type Anomaly struct {
	SensorName string      `json:"sensor_name"`
	Kind       AnomalyKind `json:"kind"`
	Severity   Severity    `json:"severity"`
	Message    string      `json:"message"`
	Value      float64     `json:"value,omitempty"`

	// threshold_low / threshold_high / calibration
	Bound float64 `json:"bound,omitempty"`

	// statistical
	ZScore float64 `json:"z_score,omitempty"`
	Mean   float64 `json:"mean,omitempty"`
	Std    float64 `json:"std,omitempty"`

	// trend
	RateOfChange float64 `json:"rate_of_change,omitempty"`

	// communication
	Gap time.Duration `json:"gap,omitempty"`

	// correlation
	PairValues map[string]float64 `json:"pair_values,omitempty"`
}

type Alert struct {
	ID         int64       `json:"id"`
	SensorName string      `json:"sensor_name"`
	Kind       AnomalyKind `json:"kind"`
	Message    string      `json:"message"`
	Severity   Severity    `json:"severity"`
	CreatedAt  time.Time   `json:"created_at"`
}

type Trend string

const (
	TrendStable           Trend = "stable"
	TrendImproving        Trend = "improving"
	TrendDegrading        Trend = "degrading"
	TrendInsufficientData Trend = "insufficient_data"
	TrendUnknown          Trend = "unknown"
)

type FailurePrediction struct {
	SensorName         string     `json:"sensor_name"`
	FailureProbability float64    `json:"failure_probability"`
	Reliability        float64    `json:"reliability"`
	MTTFHours          float64    `json:"mean_time_to_failure_hours"`
	PredictedFailureAt *time.Time `json:"predicted_failure_date,omitempty"`
	ConfidenceScore    float64    `json:"confidence_score"`
	AgeHours           float64    `json:"current_age_hours"`
	DegradationTrend   Trend      `json:"degradation_trend"`
	DegradationRate    float64    `json:"degradation_rate"`
	TrendConfidence    float64    `json:"trend_confidence"`
	TrendDataPoints    int        `json:"trend_data_points"`
	CreatedAt          time.Time  `json:"created_at"`
}

type MaintenanceType string

// Ordered by urgency.
const (
	MaintenancePreventiveInspection MaintenanceType = "preventive_inspection"
	MaintenancePreventive           MaintenanceType = "preventive_maintenance"
	MaintenanceUrgent               MaintenanceType = "urgent_maintenance"
	MaintenanceEmergency            MaintenanceType = "emergency_maintenance"
)

type MaintenanceStatus string

const (
	StatusPlanned    MaintenanceStatus = "planned"
	StatusInProgress MaintenanceStatus = "in_progress"
	StatusCompleted  MaintenanceStatus = "completed"
	StatusCancelled  MaintenanceStatus = "cancelled"
)

// ValidTransition reports whether a maintenance record may move between the
// given statuses. Transitions are monotonic: planned -> in_progress ->
// completed, or planned -> cancelled.
func ValidTransition(from, to MaintenanceStatus) bool {
	switch from {
	case StatusPlanned:
		return to == StatusInProgress || to == StatusCompleted || to == StatusCancelled
	case StatusInProgress:
		return to == StatusCompleted
	default:
		return false
	}
}

type MaintenanceRecord struct {
	ID            int64             `json:"id"`
	SensorName    string            `json:"sensor_name"`
	Type          MaintenanceType   `json:"maintenance_type"`
	Description   string            `json:"description"`
	ScheduledDate time.Time         `json:"scheduled_date"`
	CompletedDate *time.Time        `json:"completed_date,omitempty"`
	Status        MaintenanceStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Recommendation is a purely informational maintenance advisory.
type Recommendation struct {
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
}

type CostBreakdown struct {
	Preventive int `json:"preventive"`
	Corrective int `json:"corrective"`
	Emergency  int `json:"emergency"`
}

type CostReport struct {
	CurrentCosts     float64       `json:"current_costs"`
	OptimalCosts     float64       `json:"optimal_costs"`
	PotentialSavings float64       `json:"potential_savings"`
	PreventiveRatio  float64       `json:"preventive_ratio"`
	Breakdown        CostBreakdown `json:"maintenance_breakdown"`
}
