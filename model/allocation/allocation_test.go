package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/memlease/model/ram"
)

func TestAllocation_AddChunksMerges(t *testing.T) {
	a := &Allocation{ID: 1}
	a.AddChunks(&Chunk{Hostname: "h1", ChunkSize: ram.FromGB(4), NumChunks: 2})
	a.AddChunks(&Chunk{Hostname: "h1", ChunkSize: ram.FromGB(4), NumChunks: 1}, &Chunk{Hostname: "h2", ChunkSize: ram.FromGB(4), NumChunks: 1})
	assert.Len(t, a.Chunks, 2)
	assert.Equal(t, 4, a.TotalChunks())
	assert.Equal(t, ram.FromGB(16), a.TotalRam())
}

func TestAllocation_Prune(t *testing.T) {
	a := &Allocation{
		Chunks: []*Chunk{{Hostname: "h1", ChunkSize: 400, NumChunks: 0}, {Hostname: "h2", ChunkSize: 400, NumChunks: 1}},
		Claims: []*Claim{{PID: 2, Hostname: "h1", ChunkSize: 400, NumChunks: 0}},
	}
	a.Prune()
	assert.Len(t, a.Chunks, 1)
	assert.Empty(t, a.Claims)
	assert.False(t, a.IsEmpty())
}

func TestAllocation_Claims(t *testing.T) {
	a := &Allocation{
		PID:    1,
		Chunks: []*Chunk{{Hostname: "h1", ChunkSize: 400, NumChunks: 4}},
		Claims: []*Claim{{PID: 2, Hostname: "h1", ChunkSize: 400, NumChunks: 1}, {PID: 3, Hostname: "h1", ChunkSize: 400, NumChunks: 2}},
	}
	assert.Equal(t, 3, a.ClaimedChunks("h1", 400))
	assert.Equal(t, 0, a.ClaimedChunks("h1", 800))
	claim := a.LookupClaim(3, "h1")
	assert.NotNil(t, claim)
	a.RemoveClaim(claim)
	assert.Nil(t, a.LookupClaim(3, "h1"))
	assert.True(t, a.HasPID(2))
	assert.False(t, a.HasPID(3))
}

func TestAllocation_DecrementRequested(t *testing.T) {
	a := &Allocation{RequestedChunks: 3}
	a.DecrementRequested(2)
	assert.Equal(t, 1, a.RequestedChunks)
	a.DecrementRequested(5)
	assert.Equal(t, 0, a.RequestedChunks)
}

func TestAllocation_CloneIsDeep(t *testing.T) {
	a := &Allocation{Chunks: []*Chunk{{Hostname: "h1", ChunkSize: 400, NumChunks: 2}}}
	clone := a.Clone()
	clone.Chunks[0].NumChunks = 5
	assert.Equal(t, 2, a.Chunks[0].NumChunks)
}
