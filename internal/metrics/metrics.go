// Package metrics exports Prometheus instrumentation for the step
// delta engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pedometerd/internal/processor"
)

// Metrics holds the engine's collectors. It implements the sensor
// manager's Observer interface.
type Metrics struct {
	registry *prometheus.Registry

	ReadingsProcessed prometheus.Counter
	ReadingsDropped   prometheus.Counter
	ResetsDetected    prometheus.Counter
	StepsCounted      prometheus.Counter
	RecordsPersisted  prometheus.Counter
	RecordFailures    prometheus.Counter
	Tracking          prometheus.Gauge
}

// New builds a Metrics set on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ReadingsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pedometerd_readings_processed_total",
			Help: "Sensor readings classified by the step processor.",
		}),
		ReadingsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "pedometerd_readings_dropped_total",
			Help: "Readings dropped because of storage failures.",
		}),
		ResetsDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "pedometerd_sensor_resets_total",
			Help: "Counter resets detected in the reading stream.",
		}),
		StepsCounted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pedometerd_steps_total",
			Help: "Step deltas attributed to processed readings.",
		}),
		RecordsPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pedometerd_records_persisted_total",
			Help: "Step records appended to the record store.",
		}),
		RecordFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "pedometerd_record_failures_total",
			Help: "Step record writes that failed after state commit.",
		}),
		Tracking: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pedometerd_tracking",
			Help: "1 while a tracking session is active.",
		}),
	}
}

// ObserveReading records the outcome of one processed reading.
func (m *Metrics) ObserveReading(res processor.Result, err error) {
	if err != nil {
		m.ReadingsDropped.Inc()
		return
	}
	m.ReadingsProcessed.Inc()
	if res.SensorReset {
		m.ResetsDetected.Inc()
	}
	if res.CalculatedSteps > 0 {
		m.StepsCounted.Add(float64(res.CalculatedSteps))
	}
}

// ObserveRecord records the outcome of one record write.
func (m *Metrics) ObserveRecord(err error) {
	if err != nil {
		m.RecordFailures.Inc()
		return
	}
	m.RecordsPersisted.Inc()
}

// ObserveTracking mirrors the tracking lifecycle onto the gauge.
func (m *Metrics) ObserveTracking(on bool) {
	if on {
		m.Tracking.Set(1)
	} else {
		m.Tracking.Set(0)
	}
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
