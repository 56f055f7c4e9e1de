// Package metrics keeps the allocator activity counters and exposes them,
// together with per-host capacity gauges, to Prometheus. A Collector is
// passed to the components that update it; there is no global registry.
package metrics
