package world

// WorldUnloadEvent is fired synchronously on the loop goroutine before a
// world is marked unloaded.
type WorldUnloadEvent struct {
	World *World
}

// ChunkUnloadEvent is fired synchronously before an unload request evicts a
// chunk on a server without the keep-loaded marker capability. Handlers set
// Cancelled to keep the chunk.
type ChunkUnloadEvent struct {
	World     *World
	Pos       ChunkPos
	Cancelled bool
}

// ChunkEvictedEvent is emitted after a chunk left the cache. Delivered next tick.
type ChunkEvictedEvent struct {
	World *World
	Pos   ChunkPos
}
