// Package tracing wraps OpenTelemetry so the allocator loop can open one span
// per request without importing the SDK directly. Until Init is called spans
// are no-ops.
package tracing
