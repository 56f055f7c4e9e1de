// Package host defines how the allocator learns about machines it does not
// control: their physical RAM and the processes running on them.
package host

import (
	"context"
	"errors"
	"strings"

	"github.com/viant/memlease/model/ram"
)

// AllocationIDFlag marks processes started against an allocation.
const AllocationIDFlag = "--allocation-id"

// ErrUnknownHost is returned for hosts the oracle cannot reach or does not know.
var ErrUnknownHost = errors.New("unknown host")

// Process is a process observed on a host.
type Process struct {
	PID      int      `json:"pid"`
	Hostname string   `json:"hostname"`
	Filename string   `json:"filename"`
	Args     []string `json:"args,omitempty"`
	Ram      ram.Ram  `json:"ram"`
}

// HasAllocationFlag reports whether the process was launched for an allocation.
func (p *Process) HasAllocationFlag() bool {
	for _, arg := range p.Args {
		if arg == AllocationIDFlag || strings.HasPrefix(arg, AllocationIDFlag+"=") {
			return true
		}
	}
	return false
}

// Oracle answers liveness and capacity questions. Process ids are treated as
// unique across the cluster.
type Oracle interface {
	TotalRam(ctx context.Context, hostname string) (ram.Ram, error)
	ListProcesses(ctx context.Context, hostname string) ([]*Process, error)
	IsRunning(ctx context.Context, pid int) (bool, error)
}
