// Package idgen hands out identifiers. Correlation ids are opaque UUID
// strings that tests can stub through NewFunc; allocation ids come from a
// Sequence that only ever moves forward.
package idgen
