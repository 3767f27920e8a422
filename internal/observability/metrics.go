package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agrosentinel"

// DefaultMaxSensorSeries bounds the sensor_id label of LatestVPD. Sensor IDs
// come from MQTT topics and payloads, so the set is not trusted to be small.
const DefaultMaxSensorSeries = 1000

// OverflowSensorLabel collects readings from sensors beyond the series limit.
const OverflowSensorLabel = "_other"

// Metrics holds the Prometheus counters, histograms, and gauges for the VPD pipeline.
type Metrics struct {
	SamplesConsumed  prometheus.Counter
	ReadingsProduced prometheus.Counter
	TransformErrors  *prometheus.CounterVec // labels: reason={malformed,invalid_input,other}
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Agronomic metrics.
	ReadingsByRisk *prometheus.CounterVec // labels: risk
	LatestVPD      *prometheus.GaugeVec   // labels: sensor_id

	// Source metrics.
	WeatherRequests    *prometheus.CounterVec // labels: outcome={success,retry,error,circuit_open}
	WeatherAPIDuration prometheus.Histogram
	PollDuplicates     prometheus.Counter
	QueueDropped       *prometheus.CounterVec // labels: source

	// MaxSensorSeries caps distinct sensor_id series on LatestVPD.
	MaxSensorSeries int

	mu      sync.Mutex
	sensors map[string]struct{}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		MaxSensorSeries: DefaultMaxSensorSeries,
		sensors:         make(map[string]struct{}),
		SamplesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_consumed_total",
			Help:      "Total raw samples extracted from the configured source.",
		}),
		ReadingsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_produced_total",
			Help:      "Total VPD readings written to the configured sinks.",
		}),
		TransformErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_errors_total",
			Help:      "Samples skipped because they could not be turned into a reading.",
		}, []string{"reason"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of samples per extracted batch.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 250, 500, 1000},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-transform-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		ReadingsByRisk: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_by_risk_total",
			Help:      "VPD readings produced per risk category.",
		}, []string{"risk"}),
		LatestVPD: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_vpd_kpa",
			Help:      "Most recent vapor pressure deficit per sensor in kPa.",
		}, []string{"sensor_id"}),
		WeatherRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_requests_total",
			Help:      "Open-Meteo API requests by outcome.",
		}, []string{"outcome"}),
		WeatherAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "weather_api_duration_seconds",
			Help:      "Open-Meteo API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		PollDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_duplicates_total",
			Help:      "Polled samples dropped because they were already seen.",
		}),
		QueueDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_total",
			Help:      "Samples dropped because the pipeline queue was full.",
		}, []string{"source"}),
	}
}

// SetLatestVPD records the newest VPD for sensorID. Once MaxSensorSeries
// sensors have a series, readings from new sensors go to OverflowSensorLabel.
func (m *Metrics) SetLatestVPD(sensorID string, vpdKPa float64) {
	m.mu.Lock()
	if _, ok := m.sensors[sensorID]; !ok {
		if len(m.sensors) >= m.MaxSensorSeries {
			sensorID = OverflowSensorLabel
		} else {
			m.sensors[sensorID] = struct{}{}
		}
	}
	m.mu.Unlock()
	m.LatestVPD.WithLabelValues(sensorID).Set(vpdKPa)
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SamplesConsumed,
		m.ReadingsProduced,
		m.TransformErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.ReadingsByRisk,
		m.LatestVPD,
		m.WeatherRequests,
		m.WeatherAPIDuration,
		m.PollDuplicates,
		m.QueueDropped,
	}
}
