// Package processor runs the single read loop that feeds requests from the
// inbound queue to the allocator engine, one at a time, and routes each
// response back to the caller waiting for it. A scheduler publishes the
// periodic maintenance requests onto the same queue.
package processor
