package allocator

import (
	"context"
	"fmt"

	"github.com/viant/memlease/model/protocol"
)

// Handle applies one request and builds its response. The response is built
// for every operation; the caller decides whether anyone is waiting for it.
func (s *Service) Handle(ctx context.Context, req *protocol.Request) *protocol.Response {
	resp := &protocol.Response{CorrelationID: req.CorrelationID}
	var err error
	switch req.Type {
	case protocol.OpRegisterWorker:
		if req.RegisterWorker == nil {
			err = missingPayload(req.Type)
			break
		}
		err = s.RegisterWorker(ctx, req.RegisterWorker.Hostname)
	case protocol.OpAllocate:
		resp.Result, err = s.Allocate(ctx, req.Allocate)
	case protocol.OpGrowableAllocate:
		resp.Result, err = s.GrowableAllocate(ctx, req.Allocate)
	case protocol.OpRelease:
		if req.Release == nil {
			err = missingPayload(req.Type)
			break
		}
		err = s.Deallocate(ctx, req.Release.AllocationID, req.Release.PID, req.Release.Hostname)
	case protocol.OpReleaseClaim:
		if req.Release == nil {
			err = missingPayload(req.Type)
			break
		}
		err = s.ReleaseClaim(ctx, req.Release.AllocationID, req.Release.PID, req.Release.Hostname)
	case protocol.OpReleaseChunks:
		if req.ReleaseChunks == nil {
			err = missingPayload(req.Type)
			break
		}
		resp.Result, err = s.ReleaseChunks(ctx, req.ReleaseChunks.AllocationID, req.ReleaseChunks.NumChunks)
	case protocol.OpRegister:
		resp.Result, err = s.RegisterAllocation(ctx, req.Register)
	case protocol.OpClaim:
		err = s.ClaimAllocation(ctx, req.Claim)
	case protocol.OpStatus:
		resp.Status = s.Status(ctx)
	case protocol.OpSnapshot:
		resp.Snapshot = s.Snapshot(ctx)
	case protocol.OpCleanup:
		s.CleanupTerminated(ctx)
	case protocol.OpUpdateReserved:
		s.UpdateReserved(ctx)
	case protocol.OpGrow:
		s.GrowAll(ctx)
	default:
		err = fmt.Errorf("%w: unsupported operation %q", ErrInvalidRequest, req.Type)
	}
	resp.SetError(err)
	return resp
}

func missingPayload(op protocol.OperationType) error {
	return fmt.Errorf("%w: %s request without payload", ErrInvalidRequest, op)
}
