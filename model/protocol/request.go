package protocol

import (
	"github.com/viant/memlease/model/allocation"
	"github.com/viant/memlease/model/ram"
	"github.com/viant/memlease/service/messaging"
)

// Request is a typed message on the shared inbound queue. Exactly one payload
// matching Type is set.
type Request struct {
	Type          OperationType `json:"type"`
	CorrelationID string        `json:"correlationId,omitempty"`

	RegisterWorker *RegisterWorkerRequest `json:"registerWorker,omitempty"`
	Allocate       *AllocateRequest       `json:"allocate,omitempty"`
	Release        *ReleaseRequest        `json:"release,omitempty"`
	ReleaseChunks  *ReleaseChunksRequest  `json:"releaseChunks,omitempty"`
	Register       *RegisterRequest       `json:"register,omitempty"`
	Claim          *ClaimRequest          `json:"claim,omitempty"`
}

// RegisterWorkerRequest announces a host discovered by topology scanning.
type RegisterWorkerRequest struct {
	Hostname string `json:"hostname"`
}

// AllocateRequest asks for numChunks chunks of chunkSize.
type AllocateRequest struct {
	PID           int     `json:"pid"`
	Filename      string  `json:"filename"`
	ChunkSize     ram.Ram `json:"chunkSize"`
	NumChunks     int     `json:"numChunks"`
	Contiguous    bool    `json:"contiguous,omitempty"`
	CoreDependent bool    `json:"coreDependent,omitempty"`
	Shrinkable    bool    `json:"shrinkable,omitempty"`
	LongRunning   bool    `json:"longRunning,omitempty"`
	// RequireSingleHost turns a failed contiguous placement into a failure
	// instead of a multi-host split.
	RequireSingleHost bool `json:"requireSingleHost,omitempty"`

	// Notify receives growth deltas for a growable allocation. It only
	// exists in-process.
	Notify messaging.Queue[allocation.Growth] `json:"-"`
}

// ReleaseRequest releases a whole allocation (owner) or a claim (non-owner).
type ReleaseRequest struct {
	AllocationID int    `json:"allocationId"`
	PID          int    `json:"pid"`
	Hostname     string `json:"hostname,omitempty"`
}

// ReleaseChunksRequest shrinks an allocation.
type ReleaseChunksRequest struct {
	AllocationID int `json:"allocationId"`
	NumChunks    int `json:"numChunks"`
}

// RegisterRequest records capacity already consumed by a running process.
type RegisterRequest struct {
	PID       int     `json:"pid"`
	Filename  string  `json:"filename"`
	Hostname  string  `json:"hostname"`
	ChunkSize ram.Ram `json:"chunkSize"`
	NumChunks int     `json:"numChunks"`
}

// ClaimRequest sub-leases part of an allocation to another process.
type ClaimRequest struct {
	AllocationID int     `json:"allocationId"`
	PID          int     `json:"pid"`
	Hostname     string  `json:"hostname"`
	Filename     string  `json:"filename"`
	ChunkSize    ram.Ram `json:"chunkSize"`
	NumChunks    int     `json:"numChunks"`
}
