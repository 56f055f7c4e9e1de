package allocator

import (
	"context"

	"github.com/viant/memlease/internal/clock"
	"github.com/viant/memlease/model/allocation"
	"github.com/viant/memlease/model/protocol"
	"github.com/viant/memlease/model/worker"
)

// Snapshot returns deep copies of both registries, ordered by hostname and id.
func (s *Service) Snapshot(ctx context.Context) *protocol.Snapshot {
	ret := &protocol.Snapshot{
		Workers:     make([]*worker.Worker, 0, len(s.workers)),
		Allocations: make([]*allocation.Allocation, 0, len(s.allocations)),
		CreatedAt:   clock.Now(),
	}
	for _, hostname := range s.hostnames() {
		ret.Workers = append(ret.Workers, s.workers[hostname].Clone())
	}
	for _, id := range s.allocationIDs() {
		ret.Allocations = append(ret.Allocations, s.allocations[id].Clone())
	}
	return ret
}

// Status summarises capacity and activity counters.
func (s *Service) Status(ctx context.Context) *protocol.Status {
	ret := &protocol.Status{
		Workers:     len(s.workers),
		Allocations: len(s.allocations),
		Counters:    s.metrics.Counters(),
	}
	for _, w := range s.workers {
		ret.TotalRam += w.TotalRam
		ret.FreeRam += w.FreeRam()
		ret.AllocatedRam += w.AllocatedRam
	}
	return ret
}
