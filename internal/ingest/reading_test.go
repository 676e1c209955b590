package ingest

import (
	"testing"
	"time"
)

func TestParseReading(t *testing.T) {
	payload := []byte(`{"sensor_name":"pH","value":6.8,"unit":"pH","timestamp":"2026-03-01T10:00:00Z"}`)
	r, err := ParseReading(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.SensorName != "ph" {
		t.Errorf("sensor = %q, want lowercased ph", r.SensorName)
	}
	if r.Value != 6.8 || r.Unit != "pH" {
		t.Errorf("value/unit = %v/%q", r.Value, r.Unit)
	}
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if !r.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", r.Timestamp, want)
	}
}

func TestParseReadingAliases(t *testing.T) {
	cases := []string{
		`{"sensor":"temperature","value":21.5,"time":"2026-03-01 10:00:00"}`,
		`{"name":" Temperature ","value":21.5,"ts":"2026-03-01T10:00:00"}`,
	}
	for _, payload := range cases {
		r, err := ParseReading([]byte(payload))
		if err != nil {
			t.Fatalf("parse %s: %v", payload, err)
		}
		if r.SensorName != "temperature" {
			t.Errorf("sensor = %q, want temperature", r.SensorName)
		}
		if r.Timestamp.IsZero() {
			t.Errorf("timestamp not parsed from %s", payload)
		}
	}
}

func TestParseReadingZeroValueAccepted(t *testing.T) {
	r, err := ParseReading([]byte(`{"sensor_name":"water_flow","value":0}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.Value != 0 {
		t.Errorf("value = %v, want 0", r.Value)
	}
}

func TestParseReadingMissingFields(t *testing.T) {
	cases := []string{
		`{"value":6.8}`,
		`{"sensor_name":"ph"}`,
		`{"sensor_name":"  ","value":6.8}`,
	}
	for _, payload := range cases {
		if _, err := ParseReading([]byte(payload)); err == nil {
			t.Errorf("expected error for %s", payload)
		}
	}
}

func TestParseReadingBrokenTimestamp(t *testing.T) {
	r, err := ParseReading([]byte(`{"sensor_name":"ph","value":6.8,"timestamp":"not a date"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !r.Timestamp.IsZero() {
		t.Errorf("broken timestamp must yield zero time, got %v", r.Timestamp)
	}
}

func TestParseReadingInvalidJSON(t *testing.T) {
	if _, err := ParseReading([]byte(`{"sensor_name":`)); err == nil {
		t.Fatal("expected decode error")
	}
}
