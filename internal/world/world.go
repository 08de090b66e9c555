package world

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
)

var ErrWorldUnloaded = errors.New("world is unloaded")

// World is one dimension of chunk data. All methods are safe for concurrent
// use; callbacks passed to LoadChunkAsync run on loader goroutines.
type World struct {
	srv  *Server
	uid  uuid.UUID
	name string
	seed int64
	log  *zap.Logger

	loaded atomic.Bool

	mu       sync.Mutex
	chunks   map[int64]*Chunk
	markers  map[int64]map[string]struct{} // keep-loaded markers by owner
	inflight map[int64][]func(*Chunk, error)
	requests map[int64]struct{} // pending unload requests
}

// uidSpace namespaces world UIDs.
var uidSpace = uuid.MustParse("5b1f2c1e-3c57-4f0e-9a52-0c6b7a1d9e44")

// WorldUID derives the stable identity of a world from its case-folded name
// and seed. Stored chunks are keyed by it, so a world recreated under another
// name or seed never sees the old world's chunks.
func WorldUID(name string, seed int64) uuid.UUID {
	return uuid.NewSHA1(uidSpace, []byte(fmt.Sprintf("%s\x00%d", cases.Fold().String(name), seed)))
}

func newWorld(srv *Server, name string, seed int64) *World {
	uid := WorldUID(name, seed)
	w := &World{
		srv:      srv,
		uid:      uid,
		name:     name,
		seed:     seed,
		log:      srv.log.With(zap.String("world", name)),
		chunks:   make(map[int64]*Chunk, 256),
		markers:  make(map[int64]map[string]struct{}),
		inflight: make(map[int64][]func(*Chunk, error)),
		requests: make(map[int64]struct{}),
	}
	w.loaded.Store(true)
	return w
}

func (w *World) UID() uuid.UUID { return w.uid }
func (w *World) Name() string   { return w.name }
func (w *World) Seed() int64    { return w.seed }
func (w *World) IsLoaded() bool { return w.loaded.Load() }

func (w *World) String() string {
	return fmt.Sprintf("%s (%s)", w.name, w.uid)
}

// ChunkIfLoaded returns the cached chunk, or nil.
func (w *World) ChunkIfLoaded(cx, cz int32) *Chunk {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chunks[ChunkKey(cx, cz)]
}

// LoadedChunks returns the number of cached chunks.
func (w *World) LoadedChunks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.chunks)
}

// LoadChunk loads the chunk on the calling goroutine, blocking on the source.
func (w *World) LoadChunk(ctx context.Context, cx, cz int32) (*Chunk, error) {
	if c := w.ChunkIfLoaded(cx, cz); c != nil {
		return c, nil
	}
	if !w.IsLoaded() {
		return nil, ErrWorldUnloaded
	}
	pos := ChunkPos{X: cx, Z: cz}
	data, err := w.srv.source.Load(ctx, w, pos)
	if err != nil {
		return nil, fmt.Errorf("load chunk %s: %w", pos, err)
	}
	return w.install(pos, data)
}

// LoadChunkAsync loads the chunk on a loader goroutine and calls done with
// the result there. Concurrent requests for the same chunk share one load.
func (w *World) LoadChunkAsync(cx, cz int32, done func(*Chunk, error)) {
	pos := ChunkPos{X: cx, Z: cz}
	key := pos.Key()

	w.mu.Lock()
	if c := w.chunks[key]; c != nil {
		w.mu.Unlock()
		w.srv.pool.submit(func() { done(c, nil) })
		return
	}
	if !w.IsLoaded() {
		w.mu.Unlock()
		w.srv.pool.submit(func() { done(nil, ErrWorldUnloaded) })
		return
	}
	waiters, busy := w.inflight[key]
	w.inflight[key] = append(waiters, done)
	w.mu.Unlock()
	if busy {
		return
	}

	w.srv.pool.submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.srv.loadTimeout)
		defer cancel()

		var c *Chunk
		data, err := w.srv.source.Load(ctx, w, pos)
		if err == nil {
			c, err = w.install(pos, data)
		} else {
			err = fmt.Errorf("load chunk %s: %w", pos, err)
		}

		w.mu.Lock()
		callbacks := w.inflight[key]
		delete(w.inflight, key)
		w.mu.Unlock()

		for _, cb := range callbacks {
			cb(c, err)
		}
	})
}

func (w *World) install(pos ChunkPos, data []byte) (*Chunk, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.IsLoaded() {
		return nil, ErrWorldUnloaded
	}
	key := pos.Key()
	if c := w.chunks[key]; c != nil {
		return c, nil
	}
	c := newChunk(w, pos, data)
	w.chunks[key] = c
	delete(w.requests, key)
	return c, nil
}

// SetForceLoaded adds or removes the keep-loaded marker of owner on a chunk.
// Servers without the marker capability ignore the call.
func (w *World) SetForceLoaded(cx, cz int32, owner string, forced bool) {
	if !w.srv.caps.TicketAPI {
		w.log.Debug("keep-loaded markers unsupported", zap.Int32("cx", cx), zap.Int32("cz", cz))
		return
	}
	key := ChunkKey(cx, cz)
	w.mu.Lock()
	defer w.mu.Unlock()
	owners := w.markers[key]
	if forced {
		if owners == nil {
			owners = make(map[string]struct{}, 1)
			w.markers[key] = owners
		}
		owners[owner] = struct{}{}
		return
	}
	delete(owners, owner)
	if len(owners) == 0 {
		delete(w.markers, key)
	}
}

// IsForceLoaded reports whether any owner holds a keep-loaded marker.
func (w *World) IsForceLoaded(cx, cz int32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.markers[ChunkKey(cx, cz)]) > 0
}

// UnloadChunkRequest asks for the chunk to be evicted on the next server tick.
func (w *World) UnloadChunkRequest(cx, cz int32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := ChunkKey(cx, cz)
	if _, ok := w.chunks[key]; ok {
		w.requests[key] = struct{}{}
	}
}

// takeRequests returns and clears the pending unload requests, skipping
// chunks that gained a keep-loaded marker in the meantime.
func (w *World) takeRequests() []ChunkPos {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.requests) == 0 {
		return nil
	}
	out := make([]ChunkPos, 0, len(w.requests))
	for key := range w.requests {
		delete(w.requests, key)
		if len(w.markers[key]) > 0 {
			continue
		}
		out = append(out, PosFromKey(key))
	}
	return out
}

func (w *World) evict(pos ChunkPos) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := pos.Key()
	if _, ok := w.chunks[key]; !ok || len(w.markers[key]) > 0 {
		return false
	}
	delete(w.chunks, key)
	return true
}

func (w *World) markUnloaded() {
	w.loaded.Store(false)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chunks = make(map[int64]*Chunk)
	w.markers = make(map[int64]map[string]struct{})
	w.requests = make(map[int64]struct{})
}

