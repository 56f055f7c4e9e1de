package allocator

import (
	"context"
	"fmt"

	"github.com/viant/memlease/metrics"
	"github.com/viant/memlease/model/allocation"
	"github.com/viant/memlease/model/protocol"
)

// ClaimAllocation sub-leases part of a chunk to req.PID. The claims on a
// (hostname, chunkSize) pair never exceed that chunk.
func (s *Service) ClaimAllocation(ctx context.Context, req *protocol.ClaimRequest) error {
	if req == nil || req.NumChunks <= 0 {
		return fmt.Errorf("%w: numChunks must be positive", ErrInvalidRequest)
	}
	a, ok := s.allocations[req.AllocationID]
	if !ok {
		s.logger.Warn("claim on unknown allocation", "id", req.AllocationID, "pid", req.PID)
		return fmt.Errorf("%w: %d", ErrUnknownAllocation, req.AllocationID)
	}
	chunk := a.LookupChunk(req.Hostname, req.ChunkSize)
	if chunk == nil {
		s.logger.Warn("claim matches no chunk", "id", a.ID, "hostname", req.Hostname, "chunkSize", req.ChunkSize.String())
		return fmt.Errorf("%w: %s x %s in allocation %d", ErrUnknownChunk, req.Hostname, req.ChunkSize, a.ID)
	}
	claimed := a.ClaimedChunks(req.Hostname, req.ChunkSize)
	if claimed+req.NumChunks > chunk.NumChunks {
		s.logger.Warn("claim exceeds chunk", "id", a.ID, "hostname", req.Hostname, "claimed", claimed, "requested", req.NumChunks, "available", chunk.NumChunks)
		return fmt.Errorf("%w: %d claimed + %d requested > %d", ErrClaimExceedsChunk, claimed, req.NumChunks, chunk.NumChunks)
	}
	claim := &allocation.Claim{
		PID:       req.PID,
		Hostname:  req.Hostname,
		Filename:  req.Filename,
		ChunkSize: req.ChunkSize,
		NumChunks: req.NumChunks,
	}
	if existing := a.LookupClaim(req.PID, req.Hostname); existing != nil && existing.ChunkSize == req.ChunkSize {
		existing.NumChunks += req.NumChunks
	} else {
		a.Claims = append(a.Claims, claim)
	}
	s.saveAllocation(ctx, a)
	s.metrics.Update(metrics.Delta{Claims: 1})
	s.emit(ctx, allocation.ChangeClaimed, a, req.PID, []allocation.Chunk{{Hostname: req.Hostname, ChunkSize: req.ChunkSize, NumChunks: req.NumChunks}}, claim.Ram())
	return nil
}
