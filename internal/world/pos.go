package world

import "fmt"

// ChunkPos is a 2D chunk coordinate.
type ChunkPos struct {
	X int32
	Z int32
}

// Key packs the coordinate into a single map key: x in the low 32 bits,
// z in the high 32 bits.
func (p ChunkPos) Key() int64 {
	return ChunkKey(p.X, p.Z)
}

func (p ChunkPos) String() string {
	return fmt.Sprintf("[%d, %d]", p.X, p.Z)
}

// ChunkKey packs cx and cz the same way ChunkPos.Key does.
func ChunkKey(cx, cz int32) int64 {
	return int64(uint64(uint32(cx)) | uint64(uint32(cz))<<32)
}

// PosFromKey is the inverse of ChunkKey.
func PosFromKey(key int64) ChunkPos {
	return ChunkPos{X: int32(uint32(key)), Z: int32(uint32(uint64(key) >> 32))}
}
