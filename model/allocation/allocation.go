package allocation

import (
	"time"

	"github.com/viant/memlease/model/ram"
)

// Allocation is an owned, possibly multi-host reservation.
type Allocation struct {
	ID              int       `json:"id" yaml:"id"`
	PID             int       `json:"pid" yaml:"pid"`
	Filename        string    `json:"filename" yaml:"filename"`
	ChunkSize       ram.Ram   `json:"chunkSize" yaml:"chunkSize"`
	Chunks          []*Chunk  `json:"chunks" yaml:"chunks"`
	Claims          []*Claim  `json:"claims,omitempty" yaml:"claims,omitempty"`
	RequestedChunks int       `json:"requestedChunks" yaml:"requestedChunks"`
	Growable        bool      `json:"growable,omitempty" yaml:"growable,omitempty"`
	CreatedAt       time.Time `json:"createdAt" yaml:"createdAt"`
}

// TotalChunks returns the number of chunks held across all hosts.
func (a *Allocation) TotalChunks() int {
	total := 0
	for _, chunk := range a.Chunks {
		total += chunk.NumChunks
	}
	return total
}

// TotalRam returns the capacity held across all hosts.
func (a *Allocation) TotalRam() ram.Ram {
	var total ram.Ram
	for _, chunk := range a.Chunks {
		total += chunk.Ram()
	}
	return total
}

// IsEmpty reports whether the allocation no longer holds any capacity.
func (a *Allocation) IsEmpty() bool {
	return a.TotalChunks() == 0
}

// LookupChunk returns the chunk on hostname with the given size.
func (a *Allocation) LookupChunk(hostname string, chunkSize ram.Ram) *Chunk {
	for _, chunk := range a.Chunks {
		if chunk.Matches(hostname, chunkSize) {
			return chunk
		}
	}
	return nil
}

// LookupClaim returns the claim held by pid on hostname.
func (a *Allocation) LookupClaim(pid int, hostname string) *Claim {
	for _, claim := range a.Claims {
		if claim.PID == pid && claim.Hostname == hostname {
			return claim
		}
	}
	return nil
}

// ClaimedChunks returns the number of chunks claimed on (hostname, chunkSize).
func (a *Allocation) ClaimedChunks(hostname string, chunkSize ram.Ram) int {
	claimed := 0
	for _, claim := range a.Claims {
		if claim.Matches(hostname, chunkSize) {
			claimed += claim.NumChunks
		}
	}
	return claimed
}

// HasPID reports whether pid owns the allocation or one of its claims.
func (a *Allocation) HasPID(pid int) bool {
	if a.PID == pid {
		return true
	}
	for _, claim := range a.Claims {
		if claim.PID == pid {
			return true
		}
	}
	return false
}

// AddChunks merges chunks into the allocation; a chunk for an existing
// (hostname, chunkSize) pair extends that chunk.
func (a *Allocation) AddChunks(chunks ...*Chunk) {
	for _, chunk := range chunks {
		if chunk == nil || chunk.NumChunks <= 0 {
			continue
		}
		if existing := a.LookupChunk(chunk.Hostname, chunk.ChunkSize); existing != nil {
			existing.NumChunks += chunk.NumChunks
			continue
		}
		added := *chunk
		a.Chunks = append(a.Chunks, &added)
	}
}

// RemoveClaim drops the given claim.
func (a *Allocation) RemoveClaim(claim *Claim) {
	for i, candidate := range a.Claims {
		if candidate == claim {
			a.Claims = append(a.Claims[:i], a.Claims[i+1:]...)
			return
		}
	}
}

// Prune drops zero-sized chunks and claims.
func (a *Allocation) Prune() {
	chunks := a.Chunks[:0]
	for _, chunk := range a.Chunks {
		if chunk.NumChunks > 0 {
			chunks = append(chunks, chunk)
		}
	}
	a.Chunks = chunks
	claims := a.Claims[:0]
	for _, claim := range a.Claims {
		if claim.NumChunks > 0 {
			claims = append(claims, claim)
		}
	}
	a.Claims = claims
}

// DecrementRequested lowers the growth target by n, never below zero.
func (a *Allocation) DecrementRequested(n int) {
	a.RequestedChunks -= n
	if a.RequestedChunks < 0 {
		a.RequestedChunks = 0
	}
}

// Result returns the caller-facing breakdown of the allocation.
func (a *Allocation) Result() *Result {
	return &Result{AllocationID: a.ID, Chunks: CopyChunks(a.Chunks)}
}

// Clone returns a deep copy.
func (a *Allocation) Clone() *Allocation {
	ret := *a
	ret.Chunks = make([]*Chunk, 0, len(a.Chunks))
	for _, chunk := range a.Chunks {
		c := *chunk
		ret.Chunks = append(ret.Chunks, &c)
	}
	ret.Claims = make([]*Claim, 0, len(a.Claims))
	for _, claim := range a.Claims {
		c := *claim
		ret.Claims = append(ret.Claims, &c)
	}
	return &ret
}

// CopyChunks returns value copies of chunks.
func CopyChunks(chunks []*Chunk) []Chunk {
	ret := make([]Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		ret = append(ret, *chunk)
	}
	return ret
}
