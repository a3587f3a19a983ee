// Package metrics exposes browserfleet's lifecycle counters to Prometheus.
//
// A Collector owns its own registry rather than using the global default, so
// tests and multiple managers in one process never collide. Every method is a
// no-op on a nil *Collector; components take one unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "browserfleet"

// Result labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultForced  = "forced"

	CheckAlive   = "alive"
	CheckDead    = "dead"
	CheckSkipped = "skipped"

	SourcePoll       = "poll"
	SourceDisconnect = "disconnect"
)

// Collector records instance lifecycle metrics.
type Collector struct {
	running          prometheus.Gauge
	launches         *prometheus.CounterVec
	stops            *prometheus.CounterVec
	launchDuration   prometheus.Histogram
	healthChecks     *prometheus.CounterVec
	reconciliations  *prometheus.CounterVec
	shutdownDuration prometheus.Histogram

	registry *prometheus.Registry
}

// NewCollector creates a Collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
	}

	c.running = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances_running",
			Help:      "Number of browser instances currently running",
		},
	)

	c.launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launches_total",
			Help:      "Total number of launch attempts by result",
		},
		[]string{"result"},
	)

	c.stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stops_total",
			Help:      "Total number of stops by result",
		},
		[]string{"result"},
	)

	c.launchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "launch_duration_seconds",
			Help:      "Time from launch request to verified browser",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 10, 20, 30, 60},
		},
	)

	c.healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_checks_total",
			Help:      "Total number of per-instance health checks by outcome",
		},
		[]string{"result"},
	)

	c.reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Instances removed after dying outside the manager's control",
		},
		[]string{"source"},
	)

	c.shutdownDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "shutdown_duration_seconds",
			Help:      "Duration of stop-all sequences",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	c.registry.MustRegister(
		c.running,
		c.launches,
		c.stops,
		c.launchDuration,
		c.healthChecks,
		c.reconciliations,
		c.shutdownDuration,
	)

	return c
}

// SetRunning records the number of running instances.
func (c *Collector) SetRunning(n int) {
	if c == nil {
		return
	}
	c.running.Set(float64(n))
}

// Launch records a launch attempt. Duration is only observed for successes.
func (c *Collector) Launch(d time.Duration, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.launches.WithLabelValues(ResultFailure).Inc()
		return
	}
	c.launches.WithLabelValues(ResultSuccess).Inc()
	c.launchDuration.Observe(d.Seconds())
}

// Stop records a stop with one of ResultSuccess, ResultForced or ResultFailure.
func (c *Collector) Stop(result string) {
	if c == nil {
		return
	}
	c.stops.WithLabelValues(result).Inc()
}

// HealthCheck records one per-instance check outcome.
func (c *Collector) HealthCheck(result string) {
	if c == nil {
		return
	}
	c.healthChecks.WithLabelValues(result).Inc()
}

// Reconciliation records a dead instance being removed.
func (c *Collector) Reconciliation(source string) {
	if c == nil {
		return
	}
	c.reconciliations.WithLabelValues(source).Inc()
}

// Shutdown records the duration of a stop-all sequence.
func (c *Collector) Shutdown(d time.Duration) {
	if c == nil {
		return
	}
	c.shutdownDuration.Observe(d.Seconds())
}

// Registry returns the Prometheus registry for HTTP handler setup
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
