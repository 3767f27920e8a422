package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedSample is returned when a raw message cannot be turned into a
// Sample at all (bad JSON, missing sensor or measurement).
var ErrMalformedSample = errors.New("malformed sample")

// ParseRawEvent deserializes a RawEvent's value into a Sample. Fields the
// payload omits are filled from the transport: the sensor from the
// "sensor_id" header or the message key, the source from the "source"
// header, and the time from the message timestamp.
func ParseRawEvent(raw RawEvent) (Sample, error) {
	var s Sample
	if err := json.Unmarshal(raw.Value, &s); err != nil {
		return Sample{}, fmt.Errorf("parse raw event: %w: %w", ErrMalformedSample, err)
	}

	s.SensorID = strings.TrimSpace(s.SensorID)
	if s.SensorID == "" {
		s.SensorID = strings.TrimSpace(raw.Headers["sensor_id"])
	}
	if s.SensorID == "" {
		s.SensorID = strings.TrimSpace(string(raw.Key))
	}
	if s.Source == "" {
		s.Source = raw.Headers["source"]
	}
	if s.Time.IsZero() {
		s.Time = raw.Timestamp
	}

	switch {
	case s.SensorID == "":
		return Sample{}, fmt.Errorf("parse raw event: %w: sensor_id is required", ErrMalformedSample)
	case s.TemperatureC == nil:
		return Sample{}, fmt.Errorf("parse raw event: %w: temperature_c is required", ErrMalformedSample)
	case s.HumidityPct == nil:
		return Sample{}, fmt.Errorf("parse raw event: %w: humidity_pct is required", ErrMalformedSample)
	}
	return s, nil
}

// EnrichReading classifies a sample and attaches the derived metadata:
// deterministic ID, agronomic diagnosis, hourly time bucket and processing
// time. Samples outside the calculator's domain fail with ErrInvalidInput.
func EnrichReading(s Sample) (VPDReading, error) {
	if s.TemperatureC == nil || s.HumidityPct == nil {
		return VPDReading{}, fmt.Errorf("%w: temperature and humidity are required", ErrInvalidInput)
	}

	v, err := Calculate(*s.TemperatureC, *s.HumidityPct)
	if err != nil {
		return VPDReading{}, fmt.Errorf("sensor %s: %w", s.SensorID, err)
	}

	now := clock.Now().UTC()
	sampleTime := s.Time.UTC()
	if s.Time.IsZero() {
		sampleTime = now
	}

	r := VPDReading{
		ID:              generateID(s.SensorID, sampleTime),
		SensorID:        s.SensorID,
		Source:          s.Source,
		Time:            sampleTime,
		TemperatureC:    v.TemperatureC,
		HumidityPct:     v.HumidityPct,
		HumidityClamped: v.HumidityClamped,
		SVPKPa:          v.SVPKPa,
		AVPKPa:          v.AVPKPa,
		VPDKPa:          v.VPDKPa,
		Risk:            v.Risk,
		Diagnosis:       Diagnose(v.TemperatureC, v.HumidityPct),
		TimeBucket:      deriveTimeBucket(sampleTime),
		ProcessedAt:     now,
	}
	if s.Lat != nil && s.Lon != nil {
		r.Geo = &Geo{Lat: *s.Lat, Lon: *s.Lon}
	}
	return r, nil
}

// generateID produces a deterministic ID from the sensor and sample time.
func generateID(sensorID string, t time.Time) string {
	input := fmt.Sprintf("%s|%s", sensorID, t.UTC().Format(time.RFC3339Nano))
	hash := sha256.Sum256([]byte(input))
	return "vpd-" + hex.EncodeToString(hash[:8])
}

// deriveTimeBucket truncates the sample time to the hour in UTC.
func deriveTimeBucket(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Truncate(time.Hour)
}
