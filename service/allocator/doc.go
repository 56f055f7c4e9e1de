// Package allocator owns the worker and allocation registries and is the only
// component allowed to mutate them. Its methods are not safe for concurrent
// use: the processor loop calls them one request at a time, so message order
// on the inbound queue is the serialization order.
package allocator
