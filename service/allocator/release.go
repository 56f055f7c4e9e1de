package allocator

import (
	"context"
	"fmt"
	"sort"

	"github.com/viant/memlease/metrics"
	"github.com/viant/memlease/model/allocation"
	"github.com/viant/memlease/model/ram"
)

// Deallocate releases the whole allocation when pid is its owner. Outstanding
// claims are discarded without being credited individually. Any other pid
// releases its claim on hostname.
func (s *Service) Deallocate(ctx context.Context, id, pid int, hostname string) error {
	a, ok := s.allocations[id]
	if !ok {
		s.logger.Warn("release of unknown allocation", "id", id, "pid", pid)
		return fmt.Errorf("%w: %d", ErrUnknownAllocation, id)
	}
	if a.PID != pid {
		return s.ReleaseClaim(ctx, id, pid, hostname)
	}
	chunks := allocation.CopyChunks(a.Chunks)
	amount := a.TotalRam()
	if len(a.Claims) > 0 {
		s.logger.Debug("owner release discards claims", "id", id, "claims", len(a.Claims))
	}
	s.freeAll(ctx, a)
	s.saveAllocation(ctx, a)
	s.metrics.Update(metrics.Delta{Released: 1})
	s.emit(ctx, allocation.ChangeReleased, a, pid, chunks, amount)
	return nil
}

// ReleaseClaim frees the claim held by pid on hostname and shrinks the
// matching chunk by the same number of chunks.
func (s *Service) ReleaseClaim(ctx context.Context, id, pid int, hostname string) error {
	a, ok := s.allocations[id]
	if !ok {
		s.logger.Warn("claim release on unknown allocation", "id", id, "pid", pid)
		return fmt.Errorf("%w: %d", ErrUnknownAllocation, id)
	}
	claim := a.LookupClaim(pid, hostname)
	if claim == nil {
		s.logger.Warn("release of unknown claim", "id", id, "pid", pid, "hostname", hostname)
		return fmt.Errorf("%w: pid %d on %s in allocation %d", ErrUnknownClaim, pid, hostname, id)
	}
	s.dropClaim(ctx, a, claim)
	s.saveAllocation(ctx, a)
	return nil
}

// dropClaim returns claim's capacity to its worker and removes it from a.
// The growth target shrinks with it, so the released chunks are not regrown.
func (s *Service) dropClaim(ctx context.Context, a *allocation.Allocation, claim *allocation.Claim) {
	released := claim.NumChunks
	if chunk := a.LookupChunk(claim.Hostname, claim.ChunkSize); chunk != nil {
		if released > chunk.NumChunks {
			released = chunk.NumChunks
		}
		chunk.NumChunks -= released
	} else {
		released = 0
	}
	a.DecrementRequested(released)
	amount := claim.ChunkSize.Times(released)
	s.free(ctx, claim.Hostname, amount)
	a.RemoveClaim(claim)
	s.emit(ctx, allocation.ChangeClaimReleased, a, claim.PID, []allocation.Chunk{{Hostname: claim.Hostname, ChunkSize: claim.ChunkSize, NumChunks: released}}, amount)
}

// ReleaseChunks shrinks the allocation by up to numChunks, releasing from the
// hosts with the most free capacity first. Claims resting on a shrunk chunk
// are trimmed by the released amount. A nil result means the allocation is
// gone.
func (s *Service) ReleaseChunks(ctx context.Context, id, numChunks int) (*allocation.Result, error) {
	a, ok := s.allocations[id]
	if !ok {
		s.logger.Warn("shrink of unknown allocation", "id", id)
		return nil, fmt.Errorf("%w: %d", ErrUnknownAllocation, id)
	}
	if numChunks <= 0 {
		return nil, fmt.Errorf("%w: numChunks must be positive", ErrInvalidRequest)
	}
	candidates := append([]*allocation.Chunk(nil), a.Chunks...)
	sort.SliceStable(candidates, func(i, j int) bool {
		fi, fj := s.hostFree(candidates[i].Hostname), s.hostFree(candidates[j].Hostname)
		if fi != fj {
			return fi > fj
		}
		return candidates[i].Hostname < candidates[j].Hostname
	})

	var released []allocation.Chunk
	var amount ram.Ram
	remaining := numChunks
	for _, chunk := range candidates {
		if remaining <= 0 {
			break
		}
		n := min(remaining, chunk.NumChunks)
		if n <= 0 {
			continue
		}
		chunk.NumChunks -= n
		remaining -= n
		s.free(ctx, chunk.Hostname, chunk.ChunkSize.Times(n))
		trimClaims(a, chunk.Hostname, chunk.ChunkSize, n)
		released = append(released, allocation.Chunk{Hostname: chunk.Hostname, ChunkSize: chunk.ChunkSize, NumChunks: n})
		amount += chunk.ChunkSize.Times(n)
	}
	freed := numChunks - remaining
	a.DecrementRequested(freed)
	s.saveAllocation(ctx, a)
	s.metrics.Update(metrics.Delta{Shrunk: 1})
	s.emit(ctx, allocation.ChangeShrunk, a, a.PID, released, amount)
	if _, ok := s.allocations[id]; !ok {
		return nil, nil
	}
	return a.Result(), nil
}

// trimClaims removes n chunks worth of claims on (hostname, chunkSize),
// consuming claims in order, then caps what is left by the chunk size.
func trimClaims(a *allocation.Allocation, hostname string, chunkSize ram.Ram, n int) {
	for _, claim := range a.Claims {
		if n <= 0 {
			break
		}
		if !claim.Matches(hostname, chunkSize) {
			continue
		}
		cut := min(n, claim.NumChunks)
		claim.NumChunks -= cut
		n -= cut
	}
	chunk := a.LookupChunk(hostname, chunkSize)
	capacity := 0
	if chunk != nil {
		capacity = chunk.NumChunks
	}
	for _, claim := range a.Claims {
		if !claim.Matches(hostname, chunkSize) {
			continue
		}
		if claim.NumChunks > capacity {
			claim.NumChunks = capacity
		}
		capacity -= claim.NumChunks
	}
}

func (s *Service) hostFree(hostname string) ram.Ram {
	if w, ok := s.workers[hostname]; ok {
		return w.FreeRam()
	}
	return 0
}
