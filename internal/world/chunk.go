package world

import (
	"time"

	"golang.org/x/crypto/blake2b"
)

// Chunk is one loaded column of world data.
type Chunk struct {
	World    *World
	Pos      ChunkPos
	Data     []byte
	Sum      [blake2b.Size256]byte
	LoadedAt time.Time
}

func newChunk(w *World, pos ChunkPos, data []byte) *Chunk {
	return &Chunk{
		World:    w,
		Pos:      pos,
		Data:     data,
		Sum:      blake2b.Sum256(data),
		LoadedAt: time.Now(),
	}
}

func (c *Chunk) X() int32 { return c.Pos.X }
func (c *Chunk) Z() int32 { return c.Pos.Z }

// Verify reports whether Data still matches the checksum taken at load.
func (c *Chunk) Verify() bool {
	return blake2b.Sum256(c.Data) == c.Sum
}
