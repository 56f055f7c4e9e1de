// Package audit cross-checks allocator snapshots for capacity leaks and
// exports them for external tooling.
package audit

import (
	"fmt"

	"github.com/viant/memlease/model/protocol"
	"github.com/viant/memlease/model/ram"
)

// Kind names a failed cross-check.
type Kind string

const (
	// KindOvercommitted means setAside + reserved + allocated exceeds total.
	KindOvercommitted Kind = "overcommitted"
	// KindClaimExceedsChunk means claims on a (host, size) pair exceed its chunk.
	KindClaimExceedsChunk Kind = "claimExceedsChunk"
	// KindLedgerMismatch means the chunks on a host do not sum to its allocated RAM.
	KindLedgerMismatch Kind = "ledgerMismatch"
	// KindEmptyAllocation means an allocation without chunks was kept.
	KindEmptyAllocation Kind = "emptyAllocation"
	// KindUnknownHost means a chunk rests on a host with no worker.
	KindUnknownHost Kind = "unknownHost"
)

type Issue struct {
	Kind         Kind   `json:"kind"`
	Hostname     string `json:"hostname,omitempty"`
	AllocationID int    `json:"allocationId,omitempty"`
	Message      string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Kind, i.Message)
}

// Check runs every cross-check on snapshot. Overcommit is reported but is
// expected transiently when foreign usage grows under existing grants.
func Check(snapshot *protocol.Snapshot) []Issue {
	if snapshot == nil {
		return nil
	}
	var issues []Issue
	known := map[string]bool{}
	perHost := map[string]ram.Ram{}
	for _, a := range snapshot.Allocations {
		if a.IsEmpty() {
			issues = append(issues, Issue{Kind: KindEmptyAllocation, AllocationID: a.ID, Message: fmt.Sprintf("allocation %d holds no chunks", a.ID)})
		}
		for _, chunk := range a.Chunks {
			perHost[chunk.Hostname] += chunk.Ram()
			if claimed := a.ClaimedChunks(chunk.Hostname, chunk.ChunkSize); claimed > chunk.NumChunks {
				issues = append(issues, Issue{
					Kind:         KindClaimExceedsChunk,
					Hostname:     chunk.Hostname,
					AllocationID: a.ID,
					Message:      fmt.Sprintf("allocation %d claims %d of %d chunks of %s on %s", a.ID, claimed, chunk.NumChunks, chunk.ChunkSize, chunk.Hostname),
				})
			}
		}
	}
	for _, w := range snapshot.Workers {
		known[w.Hostname] = true
		if used := w.SetAsideRam + w.ReservedRam + w.AllocatedRam; used > w.TotalRam {
			issues = append(issues, Issue{Kind: KindOvercommitted, Hostname: w.Hostname, Message: fmt.Sprintf("%s uses %s of %s", w.Hostname, used, w.TotalRam)})
		}
		if sum := perHost[w.Hostname]; sum != w.AllocatedRam {
			issues = append(issues, Issue{Kind: KindLedgerMismatch, Hostname: w.Hostname, Message: fmt.Sprintf("%s allocations sum to %s, ledger has %s", w.Hostname, sum, w.AllocatedRam)})
		}
	}
	for hostname := range perHost {
		if !known[hostname] {
			issues = append(issues, Issue{Kind: KindUnknownHost, Hostname: hostname, Message: fmt.Sprintf("chunks on unregistered host %s", hostname)})
		}
	}
	return issues
}
