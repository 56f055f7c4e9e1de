package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/viant/memlease/model/protocol"
	"github.com/viant/memlease/model/worker"
)

const namespace = "memlease"

// Delta is an incremental counter change. Fields are added to the running
// totals by Update.
type Delta struct {
	Granted   int
	Rejected  int
	Released  int
	Shrunk    int
	Grown     int
	Claims    int
	Collected int
	Drift     int
	Dropped   int
}

// Collector aggregates counters and mirrors them to Prometheus. It is safe
// for concurrent use; a nil Collector ignores every call.
type Collector struct {
	mu       sync.Mutex
	counters protocol.Counters

	events      *prometheus.CounterVec
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	hostRam     *prometheus.GaugeVec
	allocations prometheus.Gauge
}

// New creates a collector registering its metrics with registerer. A nil
// registerer keeps the metrics unregistered.
func New(registerer prometheus.Registerer) *Collector {
	factory := promauto.With(registerer)
	return &Collector{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocator_events_total",
			Help:      "Allocator lifecycle events by kind.",
		}, []string{"kind"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests processed by operation and outcome.",
		}, []string{"operation", "outcome"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent processing one request.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"operation"}),
		hostRam: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_ram_gb",
			Help:      "Worker capacity ledger in GB.",
		}, []string{"hostname", "kind"}),
		allocations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "allocations",
			Help:      "Live allocations.",
		}),
	}
}

// Update applies d to the totals.
func (c *Collector) Update(d Delta) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.counters.Granted += d.Granted
	c.counters.Rejected += d.Rejected
	c.counters.Released += d.Released
	c.counters.Shrunk += d.Shrunk
	c.counters.Grown += d.Grown
	c.counters.Claims += d.Claims
	c.counters.Collected += d.Collected
	c.counters.Drift += d.Drift
	c.counters.Dropped += d.Dropped
	c.mu.Unlock()

	for kind, n := range map[string]int{
		"granted": d.Granted, "rejected": d.Rejected, "released": d.Released,
		"shrunk": d.Shrunk, "grown": d.Grown, "claims": d.Claims,
		"collected": d.Collected, "drift": d.Drift, "dropped": d.Dropped,
	} {
		if n > 0 {
			c.events.WithLabelValues(kind).Add(float64(n))
		}
	}
}

// Counters returns a copy of the totals.
func (c *Collector) Counters() protocol.Counters {
	if c == nil {
		return protocol.Counters{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters
}

// ObserveRequest records one processed request.
func (c *Collector) ObserveRequest(operation protocol.OperationType, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(string(operation), outcome).Inc()
	c.latency.WithLabelValues(string(operation)).Observe(elapsed.Seconds())
}

// UpdateWorker refreshes the capacity gauges of one host.
func (c *Collector) UpdateWorker(w *worker.Worker) {
	if c == nil || w == nil {
		return
	}
	c.hostRam.WithLabelValues(w.Hostname, "total").Set(w.TotalRam.GB())
	c.hostRam.WithLabelValues(w.Hostname, "setAside").Set(w.SetAsideRam.GB())
	c.hostRam.WithLabelValues(w.Hostname, "reserved").Set(w.ReservedRam.GB())
	c.hostRam.WithLabelValues(w.Hostname, "allocated").Set(w.AllocatedRam.GB())
	c.hostRam.WithLabelValues(w.Hostname, "free").Set(w.FreeRam().GB())
}

// SetAllocations sets the live allocation gauge.
func (c *Collector) SetAllocations(n int) {
	if c == nil {
		return
	}
	c.allocations.Set(float64(n))
}
