package allocation

import "github.com/viant/memlease/model/ram"

// Chunk is a homogeneous block of reserved capacity on one host.
type Chunk struct {
	Hostname  string  `json:"hostname" yaml:"hostname"`
	ChunkSize ram.Ram `json:"chunkSize" yaml:"chunkSize"`
	NumChunks int     `json:"numChunks" yaml:"numChunks"`
}

// Ram returns the capacity held by the chunk.
func (c *Chunk) Ram() ram.Ram {
	return c.ChunkSize.Times(c.NumChunks)
}

// Matches reports whether the chunk sits on hostname with the given size.
func (c *Chunk) Matches(hostname string, chunkSize ram.Ram) bool {
	return c.Hostname == hostname && c.ChunkSize == chunkSize
}

// Claim is a sub-lease naming a process as the owner of part of a chunk.
type Claim struct {
	PID       int     `json:"pid" yaml:"pid"`
	Hostname  string  `json:"hostname" yaml:"hostname"`
	Filename  string  `json:"filename" yaml:"filename"`
	ChunkSize ram.Ram `json:"chunkSize" yaml:"chunkSize"`
	NumChunks int     `json:"numChunks" yaml:"numChunks"`
}

// Ram returns the capacity held by the claim.
func (c *Claim) Ram() ram.Ram {
	return c.ChunkSize.Times(c.NumChunks)
}

// Matches reports whether the claim rests on the (hostname, chunkSize) chunk.
func (c *Claim) Matches(hostname string, chunkSize ram.Ram) bool {
	return c.Hostname == hostname && c.ChunkSize == chunkSize
}
