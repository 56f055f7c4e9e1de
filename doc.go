// Package memlease provides a distributed memory allocation service.
//
// A single allocator engine tracks spare RAM across worker hosts and grants
// chunked, host-addressed reservations that callers can release, shrink,
// grow or sub-lease to other processes. Abandoned reservations are reclaimed
// by periodic maintenance. All state changes happen on one request loop;
// callers talk to it through a queue:
//
//   - service/allocator - placement, release, claims and maintenance
//   - service/processor - the single read loop and maintenance scheduler
//   - service/client    - caller-side API with per-call response channels
//   - service/admin     - operator HTTP surface and Prometheus metrics
//
// Typical embedding:
//
//	config := memlease.DefaultConfig()
//	config.Workers = []string{"h1"}
//	config.Hosts.Simulated = map[string]ram.Ram{"h1": ram.FromGB(64)}
//	srv, _ := memlease.New(memlease.WithConfig(config))
//	rt := srv.Runtime()
//	_ = rt.Start(ctx)
//	result, _ := rt.Client().Allocate(ctx, &protocol.AllocateRequest{PID: pid, ChunkSize: ram.FromGB(8), NumChunks: 2})
package memlease
