// Package metrics counts archive sessions, items and transferred bytes.
//
// All Collector methods accept a nil receiver so that components can carry
// an optional collector without guarding every call.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "collection_archive"

// Collector holds the Prometheus counters on a private registry.
type Collector struct {
	registry *prometheus.Registry

	sessions *prometheus.CounterVec
	items    *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Archive sessions started, by mode.",
		}, []string{"mode"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Items packed into or extracted from containers.",
		}, []string{"op"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_bytes_total",
			Help:      "Bytes moved through the storage adapter.",
		}, []string{"direction"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Session failures, by kind.",
		}, []string{"kind"}),
	}

	for _, col := range []prometheus.Collector{c.sessions, c.items, c.bytes, c.errors} {
		if err := c.registry.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return c, nil
}

// Registry returns the registry holding the counters.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// SessionStarted counts a session opened in the given mode.
func (c *Collector) SessionStarted(mode string) {
	if c == nil {
		return
	}
	c.sessions.WithLabelValues(mode).Inc()
}

// ItemProcessed counts one item for op ("packed", "extracted", "skipped").
func (c *Collector) ItemProcessed(op string) {
	if c == nil {
		return
	}
	c.items.WithLabelValues(op).Inc()
}

// BytesTransferred adds n bytes for direction ("read" or "write").
func (c *Collector) BytesTransferred(direction string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.bytes.WithLabelValues(direction).Add(float64(n))
}

// Error counts a failure of the given kind.
func (c *Collector) Error(kind string) {
	if c == nil {
		return
	}
	c.errors.WithLabelValues(kind).Inc()
}

// WriteTextfile writes the registry in the text exposition format, for the
// node exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, c.registry)
}
