package domain

import (
	"context"
	"time"
)

// Sample is the wire format every source delivers: one temperature and
// humidity measurement from one sensor (or one polled location).
type Sample struct {
	SensorID     string    `json:"sensor_id"`
	Source       string    `json:"source,omitempty"` // "open-meteo", "mqtt", "kafka"
	Time         time.Time `json:"time"`
	TemperatureC *float64  `json:"temperature_c"`
	HumidityPct  *float64  `json:"humidity_pct"`
	Lat          *float64  `json:"lat,omitempty"`
	Lon          *float64  `json:"lon,omitempty"`
}

// RawEvent represents an unprocessed message from any source.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Geo represents a WGS-84 latitude/longitude coordinate pair.
type Geo struct {
	Lat float64 `json:"lat,omitempty"`
	Lon float64 `json:"lon,omitempty"`
}

// VPDReading is a classified sample, ready for the time-series sinks.
type VPDReading struct {
	ID       string    `json:"id"`
	SensorID string    `json:"sensor_id"`
	Source   string    `json:"source,omitempty"`
	Time     time.Time `json:"time"`
	Geo      *Geo      `json:"geo,omitempty"`

	TemperatureC    float64      `json:"temperature_c"`
	HumidityPct     float64      `json:"humidity_pct"`
	HumidityClamped bool         `json:"humidity_clamped,omitempty"`
	SVPKPa          float64      `json:"svp_kpa"`
	AVPKPa          float64      `json:"avp_kpa"`
	VPDKPa          float64      `json:"vpd_kpa"`
	Risk            RiskCategory `json:"risk_category"`
	Diagnosis       Diagnosis    `json:"diagnosis"`

	TimeBucket  time.Time `json:"time_bucket"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Location is a point polled from the weather API. Name doubles as the
// sensor ID of the samples it produces.
type Location struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}
