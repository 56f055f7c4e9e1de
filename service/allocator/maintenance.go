package allocator

import (
	"context"
	"sort"

	"github.com/viant/memlease/metrics"
	"github.com/viant/memlease/model/allocation"
	"github.com/viant/memlease/model/ram"
)

// CleanupTerminated reclaims capacity held by dead processes. Dead claimants
// lose their claims first; an allocation left without claims whose owner is
// dead is then freed entirely. Repeated calls without liveness changes are
// no-ops.
func (s *Service) CleanupTerminated(ctx context.Context) int {
	if s.oracle == nil {
		return 0
	}
	collected := 0
	for _, id := range s.allocationIDs() {
		a := s.allocations[id]
		changed := false
		for _, claim := range append([]*allocation.Claim(nil), a.Claims...) {
			if s.isRunning(ctx, claim.PID) {
				continue
			}
			s.logger.Info("collecting claim of terminated process", "id", a.ID, "pid", claim.PID, "hostname", claim.Hostname)
			s.dropClaim(ctx, a, claim)
			changed = true
		}
		if len(a.Claims) == 0 && !a.IsEmpty() && !s.isRunning(ctx, a.PID) {
			chunks := allocation.CopyChunks(a.Chunks)
			amount := a.TotalRam()
			s.logger.Info("collecting allocation of terminated process", "id", a.ID, "pid", a.PID, "ram", amount.String())
			s.freeAll(ctx, a)
			s.emit(ctx, allocation.ChangeCollected, a, a.PID, chunks, amount)
			collected++
			changed = true
		}
		if changed {
			s.saveAllocation(ctx, a)
		}
	}
	if collected > 0 {
		s.metrics.Update(metrics.Delta{Collected: collected})
	}
	return collected
}

// isRunning treats oracle failures as alive so an unreachable host never
// causes capacity to be reclaimed.
func (s *Service) isRunning(ctx context.Context, pid int) bool {
	running, err := s.oracle.IsRunning(ctx, pid)
	if err != nil {
		s.logger.Warn("liveness check failed", "pid", pid, "error", err)
		return true
	}
	return running
}

// UpdateReserved refreshes each worker's total RAM and recomputes the RAM used
// by processes the allocator does not track. Tracked usage above the ledger's
// allocated RAM is reported as drift and left uncorrected.
func (s *Service) UpdateReserved(ctx context.Context) {
	if s.oracle == nil {
		return
	}
	tracked := map[int]bool{}
	for _, a := range s.allocations {
		tracked[a.PID] = true
		for _, claim := range a.Claims {
			tracked[claim.PID] = true
		}
	}
	drift := 0
	for _, hostname := range s.hostnames() {
		w := s.workers[hostname]
		total, err := s.oracle.TotalRam(ctx, hostname)
		if err != nil {
			s.logger.Warn("failed to read total ram", "hostname", hostname, "error", err)
			continue
		}
		processes, err := s.oracle.ListProcesses(ctx, hostname)
		if err != nil {
			s.logger.Warn("failed to list processes", "hostname", hostname, "error", err)
			continue
		}
		var foreign, trackedRam ram.Ram
		for _, process := range processes {
			if process.HasAllocationFlag() || tracked[process.PID] {
				trackedRam += process.Ram
				continue
			}
			foreign += process.Ram
		}
		w.TotalRam = total
		w.ReconcileReserved(foreign)
		if trackedRam > w.AllocatedRam {
			drift++
			s.logger.Warn("tracked usage exceeds allocated ram", "hostname", hostname, "tracked", trackedRam.String(), "allocated", w.AllocatedRam.String())
		}
		s.saveWorker(ctx, w)
	}
	if drift > 0 {
		s.metrics.Update(metrics.Delta{Drift: drift})
	}
}

// GrowAll tops up every allocation with a notify queue that holds fewer
// chunks than requested, and pushes each delta in the background.
func (s *Service) GrowAll(ctx context.Context) int {
	grown := 0
	for _, id := range s.allocationIDs() {
		queue, ok := s.notifiers[id]
		if !ok {
			continue
		}
		a := s.allocations[id]
		deficit := a.RequestedChunks - a.TotalChunks()
		if deficit <= 0 {
			continue
		}
		delta := s.GrowAllocation(ctx, a, deficit)
		if len(delta) == 0 {
			continue
		}
		grown++
		s.pusher.Go(context.WithoutCancel(ctx), queue, &allocation.Growth{AllocationID: id, Chunks: delta})
	}
	return grown
}

func (s *Service) allocationIDs() []int {
	ids := make([]int, 0, len(s.allocations))
	for id := range s.allocations {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (s *Service) hostnames() []string {
	ret := make([]string, 0, len(s.workers))
	for hostname := range s.workers {
		ret = append(ret, hostname)
	}
	sort.Strings(ret)
	return ret
}
