package ingest

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"fertiguard/internal/model"
)

var errMissingFields = errors.New("reading payload missing sensor_name or value")

type readingPayload struct {
	SensorName string   `json:"sensor_name"`
	Sensor     string   `json:"sensor"`
	Name       string   `json:"name"`
	Value      *float64 `json:"value"`
	Unit       string   `json:"unit"`
	Timestamp  string   `json:"timestamp"`
	Time       string   `json:"time"`
	TS         string   `json:"ts"`
}

var payloadLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseReading decodes one sensor reading from a JSON payload as published
// by the rig firmware. Field aliases and timestamp formats vary between
// firmware revisions, so decoding is tolerant; a missing or broken timestamp
// yields the zero time and the caller stamps ingestion time.
func ParseReading(data []byte) (model.SensorReading, error) {
	var p readingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return model.SensorReading{}, err
	}
	name := firstNonEmpty(p.SensorName, p.Sensor, p.Name)
	if name == "" || p.Value == nil {
		return model.SensorReading{}, errMissingFields
	}
	r := model.SensorReading{
		SensorName: strings.ToLower(strings.TrimSpace(name)),
		Value:      *p.Value,
		Unit:       strings.TrimSpace(p.Unit),
	}
	if raw := firstNonEmpty(p.Timestamp, p.Time, p.TS); raw != "" {
		for _, layout := range payloadLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				r.Timestamp = t
				break
			}
		}
	}
	return r, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
