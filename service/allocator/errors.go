package allocator

import (
	"errors"

	"github.com/viant/memlease/model/protocol"
)

var (
	// ErrInsufficientCapacity is returned when a placement cannot be granted.
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrUnknownAllocation    = errors.New("unknown allocation")
	ErrUnknownWorker        = errors.New("unknown worker")
	ErrUnknownClaim         = errors.New("unknown claim")
	ErrUnknownChunk         = errors.New("no chunk matches claim")
	ErrClaimExceedsChunk    = errors.New("claim exceeds chunk")
)

func init() {
	protocol.RegisterError(
		ErrInsufficientCapacity,
		ErrInvalidRequest,
		ErrUnknownAllocation,
		ErrUnknownWorker,
		ErrUnknownClaim,
		ErrUnknownChunk,
		ErrClaimExceedsChunk,
	)
}
