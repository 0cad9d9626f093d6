// Package metrics exposes poll statistics and sensor values to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"floradaemon/internal/sensor"
)

const namespace = "floradaemon"

// Collector owns a private registry so tests can create many instances.
type Collector struct {
	registry *prometheus.Registry

	pollAttempts  *prometheus.CounterVec
	pollSuccesses *prometheus.CounterVec
	pollFailures  *prometheus.CounterVec
	sensorValue   *prometheus.GaugeVec
	lastSweep     prometheus.Gauge
}

// New creates a Collector with all metrics registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		pollAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_attempts_total",
				Help:      "Polls started per sensor",
			},
			[]string{"sensor"},
		),
		pollSuccesses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_successes_total",
				Help:      "Polls that produced a reading",
			},
			[]string{"sensor"},
		),
		pollFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_failures_total",
				Help:      "Polls that exhausted all fetch attempts",
			},
			[]string{"sensor"},
		),
		sensorValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sensor_value",
				Help:      "Last reported value per sensor and parameter",
			},
			[]string{"sensor", "parameter"},
		),
		lastSweep: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_sweep_timestamp_seconds",
				Help:      "Unix time of the last completed sweep",
			},
		),
	}

	c.registry.MustRegister(c.pollAttempts, c.pollSuccesses, c.pollFailures, c.sensorValue, c.lastSweep)
	return c
}

// ObserveReading records a successful poll and its values.
func (c *Collector) ObserveReading(r *sensor.Reading) {
	name := r.Sensor.Name
	c.pollAttempts.WithLabelValues(name).Inc()
	c.pollSuccesses.WithLabelValues(name).Inc()
	for _, p := range sensor.Parameters {
		c.sensorValue.WithLabelValues(name, string(p)).Set(r.Value(p))
	}
}

// ObserveFailure records a poll that produced no reading.
func (c *Collector) ObserveFailure(h *sensor.Handle) {
	c.pollAttempts.WithLabelValues(h.Name).Inc()
	c.pollFailures.WithLabelValues(h.Name).Inc()
}

// SweepDone stamps the end of a sweep.
func (c *Collector) SweepDone(at time.Time) {
	c.lastSweep.Set(float64(at.Unix()))
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
