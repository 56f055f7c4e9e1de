package allocator

import (
	"context"
	"fmt"
	"sort"

	"github.com/viant/memlease/metrics"
	"github.com/viant/memlease/model/allocation"
	"github.com/viant/memlease/model/protocol"
	"github.com/viant/memlease/model/ram"
	"github.com/viant/memlease/model/worker"
)

// rank orders workers for a placement request. Ties on free capacity are
// broken by hostname so placement is deterministic.
func (s *Service) rank(req *protocol.AllocateRequest) []*worker.Worker {
	primary := s.policy.PrimaryHost()
	ranked := s.workerList()
	byFree := func(a, b *worker.Worker) bool {
		if fa, fb := a.FreeRam(), b.FreeRam(); fa != fb {
			return fa > fb
		}
		return a.Hostname < b.Hostname
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		switch {
		case req.LongRunning:
			if a.Class != b.Class {
				return a.Class < b.Class
			}
		case req.CoreDependent:
			if isA, isB := a.Hostname == primary, b.Hostname == primary; isA != isB {
				return isA
			}
		default:
			if isA, isB := a.Hostname == primary, b.Hostname == primary; isA != isB {
				return isB
			}
		}
		return byFree(a, b)
	})
	return ranked
}

// rankByFree orders workers by descending free capacity only.
func (s *Service) rankByFree() []*worker.Worker {
	ranked := s.workerList()
	sort.SliceStable(ranked, func(i, j int) bool {
		if fa, fb := ranked[i].FreeRam(), ranked[j].FreeRam(); fa != fb {
			return fa > fb
		}
		return ranked[i].Hostname < ranked[j].Hostname
	})
	return ranked
}

func (s *Service) workerList() []*worker.Worker {
	ret := make([]*worker.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		ret = append(ret, w)
	}
	return ret
}

// Allocate places req across the ranked workers. A contiguous request is
// first tried on a single host and falls back to a multi-host split unless
// RequireSingleHost is set. Partial grants are rolled back unless the request
// is shrinkable.
func (s *Service) Allocate(ctx context.Context, req *protocol.AllocateRequest) (*allocation.Result, error) {
	a, err := s.place(ctx, req)
	if err != nil {
		return nil, err
	}
	return a.Result(), nil
}

// GrowableAllocate places req and remembers the requested size and notify
// queue so the growth sweep can top the allocation up later.
func (s *Service) GrowableAllocate(ctx context.Context, req *protocol.AllocateRequest) (*allocation.Result, error) {
	a, err := s.place(ctx, req)
	if err != nil {
		return nil, err
	}
	a.Growable = true
	if req.Notify != nil {
		s.notifiers[a.ID] = req.Notify
	}
	s.saveAllocation(ctx, a)
	return a.Result(), nil
}

func (s *Service) place(ctx context.Context, req *protocol.AllocateRequest) (*allocation.Allocation, error) {
	if req == nil || req.ChunkSize <= 0 || req.NumChunks <= 0 {
		s.logger.Warn("rejected allocation with invalid size", "request", req)
		return nil, fmt.Errorf("%w: chunkSize and numChunks must be positive", ErrInvalidRequest)
	}
	ranked := s.rank(req)
	var granted []*allocation.Chunk
	if req.Contiguous {
		for _, w := range ranked {
			if w.FreeRam().Fit(req.ChunkSize) >= req.NumChunks {
				granted = append(granted, w.Allocate(req.ChunkSize, req.NumChunks))
				break
			}
		}
		if len(granted) == 0 && req.RequireSingleHost {
			return nil, s.reject(req, 0)
		}
	}
	if len(granted) == 0 {
		remaining := req.NumChunks
		for _, w := range ranked {
			if remaining <= 0 {
				break
			}
			if chunk := w.Allocate(req.ChunkSize, remaining); chunk != nil {
				granted = append(granted, chunk)
				remaining -= chunk.NumChunks
			}
		}
	}
	obtained := 0
	for _, chunk := range granted {
		obtained += chunk.NumChunks
	}
	if obtained == 0 || (obtained < req.NumChunks && !req.Shrinkable) {
		for _, chunk := range granted {
			s.workers[chunk.Hostname].Free(chunk.Ram())
		}
		return nil, s.reject(req, obtained)
	}

	a := &allocation.Allocation{
		PID:             req.PID,
		Filename:        req.Filename,
		ChunkSize:       req.ChunkSize,
		RequestedChunks: req.NumChunks,
	}
	a.AddChunks(granted...)
	for _, chunk := range granted {
		s.saveWorker(ctx, s.workers[chunk.Hostname])
	}
	s.commit(ctx, a)
	s.metrics.Update(metrics.Delta{Granted: 1})
	s.logger.Debug("allocation granted", "id", a.ID, "pid", a.PID, "chunks", obtained, "requested", req.NumChunks, "hosts", len(a.Chunks))
	s.emit(ctx, allocation.ChangeAllocated, a, a.PID, allocation.CopyChunks(a.Chunks), a.TotalRam())
	return a, nil
}

func (s *Service) reject(req *protocol.AllocateRequest, obtained int) error {
	s.metrics.Update(metrics.Delta{Rejected: 1})
	s.logger.Info("allocation rejected", "pid", req.PID, "filename", req.Filename, "chunkSize", req.ChunkSize.String(), "requested", req.NumChunks, "obtainable", obtained)
	return fmt.Errorf("%w: %d x %s requested, %d obtainable", ErrInsufficientCapacity, req.NumChunks, req.ChunkSize, obtained)
}

// RegisterAllocation records capacity already in use by a running process on
// hostname, bypassing placement.
func (s *Service) RegisterAllocation(ctx context.Context, req *protocol.RegisterRequest) (*allocation.Result, error) {
	if req == nil || req.ChunkSize <= 0 || req.NumChunks <= 0 {
		return nil, fmt.Errorf("%w: chunkSize and numChunks must be positive", ErrInvalidRequest)
	}
	w, ok := s.workers[req.Hostname]
	if !ok {
		s.logger.Warn("register on unknown worker", "hostname", req.Hostname, "pid", req.PID)
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, req.Hostname)
	}
	chunk := &allocation.Chunk{Hostname: w.Hostname, ChunkSize: req.ChunkSize, NumChunks: req.NumChunks}
	w.AllocatedRam += chunk.Ram()
	s.saveWorker(ctx, w)
	a := &allocation.Allocation{
		PID:             req.PID,
		Filename:        req.Filename,
		ChunkSize:       req.ChunkSize,
		RequestedChunks: req.NumChunks,
	}
	a.AddChunks(chunk)
	s.commit(ctx, a)
	s.emit(ctx, allocation.ChangeRegistered, a, a.PID, allocation.CopyChunks(a.Chunks), a.TotalRam())
	return a.Result(), nil
}

// GrowAllocation tops a up by at most numChunks, ranking workers purely by
// free capacity. It returns only the newly obtained chunks.
func (s *Service) GrowAllocation(ctx context.Context, a *allocation.Allocation, numChunks int) []allocation.Chunk {
	if a == nil || numChunks <= 0 || a.ChunkSize <= 0 {
		return nil
	}
	var delta []allocation.Chunk
	var amount ram.Ram
	remaining := numChunks
	for _, w := range s.rankByFree() {
		if remaining <= 0 {
			break
		}
		chunk := w.Allocate(a.ChunkSize, remaining)
		if chunk == nil {
			continue
		}
		s.saveWorker(ctx, w)
		a.AddChunks(chunk)
		delta = append(delta, *chunk)
		amount += chunk.Ram()
		remaining -= chunk.NumChunks
	}
	if len(delta) == 0 {
		return nil
	}
	s.saveAllocation(ctx, a)
	s.metrics.Update(metrics.Delta{Grown: 1})
	s.emit(ctx, allocation.ChangeGrown, a, a.PID, delta, amount)
	return delta
}
