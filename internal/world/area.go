package world

// ChunkSize is the width of a chunk in blocks.
const ChunkSize = 16

// BlockToChunk converts a block coordinate to the chunk containing it,
// rounding towards negative infinity.
func BlockToChunk(v int32) int32 {
	if v < 0 {
		return (v - ChunkSize + 1) / ChunkSize
	}
	return v / ChunkSize
}

// Square returns every chunk within Chebyshev distance radius of center,
// row by row. A negative radius yields nothing.
func Square(center ChunkPos, radius int32) []ChunkPos {
	if radius < 0 {
		return nil
	}
	side := 2*radius + 1
	out := make([]ChunkPos, 0, side*side)
	for dz := -radius; dz <= radius; dz++ {
		for dx := -radius; dx <= radius; dx++ {
			out = append(out, ChunkPos{X: center.X + dx, Z: center.Z + dz})
		}
	}
	return out
}
