// Package metrics holds the Prometheus instruments of a replication node.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Collector holds all metrics for a node. A nil *Collector is valid and
// records nothing, so components can take one optionally.
type Collector struct {
	nodeID   string
	gatherer prometheus.Gatherer

	// Replication metrics
	ReplicationAttempts *prometheus.CounterVec
	ReplicationDuration prometheus.Histogram
	LocalClock          prometheus.Gauge

	// Transport metrics
	ConnectAttempts *prometheus.CounterVec
	BytesSent       *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec

	// Receiver metrics
	FramesReceived *prometheus.CounterVec

	// Admin API metrics
	HTTPRequests *prometheus.CounterVec
}

// NewCollector registers every instrument on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated.
func NewCollector(reg *prometheus.Registry, nodeID string) *Collector {
	factory := promauto.With(reg)
	constLabels := prometheus.Labels{"node_id": nodeID}

	return &Collector{
		nodeID:   nodeID,
		gatherer: reg,

		ReplicationAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "replication_attempts_total",
			Help:        "Replicate calls by outcome",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		ReplicationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "replication_duration_seconds",
			Help:        "Time spent in a single Replicate call",
			ConstLabels: constLabels,
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		LocalClock: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "vector_clock_local",
			Help:        "Current value of the local vector clock entry",
			ConstLabels: constLabels,
		}),

		ConnectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "transport_connect_attempts_total",
			Help:        "Connection attempts to replica endpoints",
			ConstLabels: constLabels,
		}, []string{"endpoint", "result"}),
		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "transport_bytes_sent_total",
			Help:        "Frame bytes written to replica endpoints",
			ConstLabels: constLabels,
		}, []string{"endpoint"}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "transport_circuit_state",
			Help:        "Circuit breaker state per endpoint (0=closed, 1=half-open, 2=open)",
			ConstLabels: constLabels,
		}, []string{"endpoint"}),

		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "receiver_frames_total",
			Help:        "Frames handled by the replication receiver",
			ConstLabels: constLabels,
		}, []string{"result"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "admin_http_requests_total",
			Help:        "Admin API requests",
			ConstLabels: constLabels,
		}, []string{"method", "path", "status"}),
	}
}

func (c *Collector) NodeID() string {
	if c == nil {
		return ""
	}
	return c.nodeID
}

// ObserveReplication records one Replicate call.
func (c *Collector) ObserveReplication(outcome string, seconds float64, localClock uint64) {
	if c == nil {
		return
	}
	c.ReplicationAttempts.WithLabelValues(outcome).Inc()
	c.ReplicationDuration.Observe(seconds)
	c.LocalClock.Set(float64(localClock))
}

// ObserveConnect records one dial attempt.
func (c *Collector) ObserveConnect(endpoint, result string) {
	if c == nil {
		return
	}
	c.ConnectAttempts.WithLabelValues(endpoint, result).Inc()
}

// AddBytesSent records frame bytes written.
func (c *Collector) AddBytesSent(endpoint string, n int) {
	if c == nil {
		return
	}
	c.BytesSent.WithLabelValues(endpoint).Add(float64(n))
}

// SetBreakerState records a circuit breaker transition.
func (c *Collector) SetBreakerState(endpoint string, state int) {
	if c == nil {
		return
	}
	c.BreakerState.WithLabelValues(endpoint).Set(float64(state))
}

// ObserveFrame records one received frame.
func (c *Collector) ObserveFrame(result string) {
	if c == nil {
		return
	}
	c.FramesReceived.WithLabelValues(result).Inc()
}

// ObserveHTTP records one admin request.
func (c *Collector) ObserveHTTP(method, path, status string) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, path, status).Inc()
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
