// Package worker defines the per-host capacity ledger.
package worker

import (
	"github.com/viant/memlease/model/allocation"
	"github.com/viant/memlease/model/ram"
)

// Class ranks hosts for placement policies.
type Class int

const (
	// ClassOther is any host that is neither primary nor purchased.
	ClassOther Class = iota
	// ClassPurchased is paid capacity.
	ClassPurchased
	// ClassPrimary is the operator's own interactive host.
	ClassPrimary
)

func (c Class) String() string {
	switch c {
	case ClassPrimary:
		return "primary"
	case ClassPurchased:
		return "purchased"
	default:
		return "other"
	}
}

// Worker tracks one host's capacity. Only Allocate and Free touch
// AllocatedRam.
type Worker struct {
	Hostname     string  `json:"hostname"`
	Class        Class   `json:"class"`
	TotalRam     ram.Ram `json:"totalRam"`
	SetAsideRam  ram.Ram `json:"setAsideRam"`
	ReservedRam  ram.Ram `json:"reservedRam"`
	AllocatedRam ram.Ram `json:"allocatedRam"`
}

// New creates a worker ledger.
func New(hostname string, class Class, total, setAside ram.Ram) *Worker {
	return &Worker{Hostname: hostname, Class: class, TotalRam: total, SetAsideRam: setAside}
}

// FreeRam returns the capacity still available for allocation, never negative.
func (w *Worker) FreeRam() ram.Ram {
	return (w.TotalRam - (w.SetAsideRam + w.ReservedRam + w.AllocatedRam)).Clamp0()
}

// Allocate grants as many of numChunks as fit and debits AllocatedRam. It
// returns nil when nothing fits.
func (w *Worker) Allocate(chunkSize ram.Ram, numChunks int) *allocation.Chunk {
	if chunkSize <= 0 || numChunks <= 0 {
		return nil
	}
	granted := w.FreeRam().Fit(chunkSize)
	if granted > numChunks {
		granted = numChunks
	}
	if granted == 0 {
		return nil
	}
	w.AllocatedRam += chunkSize.Times(granted)
	return &allocation.Chunk{Hostname: w.Hostname, ChunkSize: chunkSize, NumChunks: granted}
}

// Free credits AllocatedRam, clamped at zero so a double free cannot go
// negative.
func (w *Worker) Free(amount ram.Ram) {
	w.AllocatedRam = (w.AllocatedRam - amount).Clamp0()
}

// ReconcileReserved overwrites the capacity used by untracked activity.
func (w *Worker) ReconcileReserved(foreign ram.Ram) {
	w.ReservedRam = foreign.Clamp0()
}

// Clone returns a copy.
func (w *Worker) Clone() *Worker {
	ret := *w
	return &ret
}

// MarshalText encodes the class name.
func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a class name; unknown names map to ClassOther.
func (c *Class) UnmarshalText(text []byte) error {
	switch string(text) {
	case "primary":
		*c = ClassPrimary
	case "purchased":
		*c = ClassPurchased
	default:
		*c = ClassOther
	}
	return nil
}
