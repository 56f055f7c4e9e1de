// Package protocol defines the messages exchanged between callers and the
// allocator loop.
package protocol

// OperationType identifies a request.
type OperationType string

const (
	OpRegisterWorker   OperationType = "registerWorker"
	OpAllocate         OperationType = "allocate"
	OpGrowableAllocate OperationType = "growableAllocate"
	OpRelease          OperationType = "release"
	OpReleaseClaim     OperationType = "releaseClaim"
	OpReleaseChunks    OperationType = "releaseChunks"
	OpRegister         OperationType = "register"
	OpClaim            OperationType = "claim"
	OpStatus           OperationType = "status"
	OpSnapshot         OperationType = "snapshot"

	// Maintenance operations are published by the loop's own scheduler.
	OpCleanup        OperationType = "cleanup"
	OpUpdateReserved OperationType = "updateReserved"
	OpGrow           OperationType = "grow"
)

// Expects reports whether the operation produces a response.
func (o OperationType) Expects() bool {
	switch o {
	case OpAllocate, OpGrowableAllocate, OpReleaseChunks, OpRegister, OpStatus, OpSnapshot:
		return true
	}
	return false
}

// IsMaintenance reports whether the operation is an internal sweep.
func (o OperationType) IsMaintenance() bool {
	switch o {
	case OpCleanup, OpUpdateReserved, OpGrow:
		return true
	}
	return false
}
