package protocol

import (
	"errors"
	"time"

	"github.com/viant/memlease/model/allocation"
	"github.com/viant/memlease/model/ram"
	"github.com/viant/memlease/model/worker"
)

// Response answers a request carrying the same correlation id.
type Response struct {
	CorrelationID string             `json:"correlationId"`
	Result        *allocation.Result `json:"result,omitempty"`
	Status        *Status            `json:"status,omitempty"`
	Snapshot      *Snapshot          `json:"snapshot,omitempty"`
	Error         string             `json:"error,omitempty"`
	ErrorCode     string             `json:"errorCode,omitempty"`
}

// Snapshot is a point-in-time copy of both registries.
type Snapshot struct {
	Workers     []*worker.Worker         `json:"workers"`
	Allocations []*allocation.Allocation `json:"allocations"`
	CreatedAt   time.Time                `json:"createdAt"`
}

// Counters aggregates allocator activity since start.
type Counters struct {
	Granted   int `json:"granted"`
	Rejected  int `json:"rejected"`
	Released  int `json:"released"`
	Shrunk    int `json:"shrunk"`
	Grown     int `json:"grown"`
	Claims    int `json:"claims"`
	Collected int `json:"collected"`
	Drift     int `json:"drift"`
	Dropped   int `json:"dropped"`
}

// Status summarises the allocator.
type Status struct {
	Workers      int      `json:"workers"`
	Allocations  int      `json:"allocations"`
	TotalRam     ram.Ram  `json:"totalRam"`
	FreeRam      ram.Ram  `json:"freeRam"`
	AllocatedRam ram.Ram  `json:"allocatedRam"`
	Counters     Counters `json:"counters"`
}

var sentinels []error

// RegisterError makes errs recoverable on the caller side with errors.Is.
// Call it from package init only.
func RegisterError(errs ...error) {
	sentinels = append(sentinels, errs...)
}

// SetError records err on the response, keeping the sentinel code when err
// wraps a registered error.
func (r *Response) SetError(err error) {
	if err == nil {
		return
	}
	r.Error = err.Error()
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			r.ErrorCode = sentinel.Error()
			return
		}
	}
}

// Err rebuilds the error carried by the response.
func (r *Response) Err() error {
	if r == nil || r.Error == "" {
		return nil
	}
	for _, sentinel := range sentinels {
		if r.ErrorCode == sentinel.Error() {
			return &remoteError{sentinel: sentinel, message: r.Error}
		}
	}
	return errors.New(r.Error)
}

type remoteError struct {
	sentinel error
	message  string
}

func (e *remoteError) Error() string { return e.message }

func (e *remoteError) Unwrap() error { return e.sentinel }
