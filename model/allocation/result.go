package allocation

import (
	"time"

	"github.com/viant/memlease/model/ram"
)

// Result is returned to callers after a granted placement.
type Result struct {
	AllocationID int     `json:"allocationId"`
	Chunks       []Chunk `json:"chunks"`
}

// NumChunks returns the total number of granted chunks.
func (r *Result) NumChunks() int {
	total := 0
	for _, chunk := range r.Chunks {
		total += chunk.NumChunks
	}
	return total
}

// Hosts returns the distinct hostnames in grant order.
func (r *Result) Hosts() []string {
	var ret []string
	seen := map[string]bool{}
	for _, chunk := range r.Chunks {
		if seen[chunk.Hostname] {
			continue
		}
		seen[chunk.Hostname] = true
		ret = append(ret, chunk.Hostname)
	}
	return ret
}

// Growth is pushed to a growable allocation's owner when extra capacity was
// acquired. Chunks holds only the delta.
type Growth struct {
	AllocationID int     `json:"allocationId"`
	Chunks       []Chunk `json:"chunks"`
}

// ChangeType names an allocation lifecycle transition.
type ChangeType string

const (
	ChangeAllocated     ChangeType = "allocated"
	ChangeRegistered    ChangeType = "registered"
	ChangeReleased      ChangeType = "released"
	ChangeClaimed       ChangeType = "claimed"
	ChangeClaimReleased ChangeType = "claimReleased"
	ChangeShrunk        ChangeType = "shrunk"
	ChangeGrown         ChangeType = "grown"
	ChangeCollected     ChangeType = "collected"
)

// Change describes one lifecycle transition; published on the event bus.
type Change struct {
	Type         ChangeType `json:"type"`
	AllocationID int        `json:"allocationId"`
	PID          int        `json:"pid"`
	Chunks       []Chunk    `json:"chunks,omitempty"`
	Ram          ram.Ram    `json:"ram"`
	At           time.Time  `json:"at"`
}
