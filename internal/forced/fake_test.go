package forced

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/l1jgo/chunkkeep/internal/sched"
	"github.com/l1jgo/chunkkeep/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type asyncLoad struct {
	pos  world.ChunkPos
	done func(*world.Chunk, error)
}

// fakeWorld records every engine call the manager makes. Async loads are
// parked until the test completes them.
type fakeWorld struct {
	name   string
	loaded atomic.Bool

	mu        sync.Mutex
	chunks    map[int64]*world.Chunk
	markers   map[int64]int
	markCalls int
	unmarks   int
	unloads   []world.ChunkPos
	async     []asyncLoad
	syncLoads int
	syncErr   error
}

func newFakeWorld(name string) *fakeWorld {
	w := &fakeWorld{
		name:    name,
		chunks:  make(map[int64]*world.Chunk),
		markers: make(map[int64]int),
	}
	w.loaded.Store(true)
	return w
}

func (w *fakeWorld) Name() string   { return w.name }
func (w *fakeWorld) IsLoaded() bool { return w.loaded.Load() }

func (w *fakeWorld) ChunkIfLoaded(cx, cz int32) *world.Chunk {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chunks[world.ChunkKey(cx, cz)]
}

func (w *fakeWorld) LoadChunk(_ context.Context, cx, cz int32) (*world.Chunk, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.syncLoads++
	if w.syncErr != nil {
		return nil, w.syncErr
	}
	return w.installLocked(world.ChunkPos{X: cx, Z: cz}), nil
}

func (w *fakeWorld) LoadChunkAsync(cx, cz int32, done func(*world.Chunk, error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.async = append(w.async, asyncLoad{pos: world.ChunkPos{X: cx, Z: cz}, done: done})
}

func (w *fakeWorld) SetForceLoaded(cx, cz int32, _ string, forced bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := world.ChunkKey(cx, cz)
	if forced {
		w.markCalls++
		w.markers[key]++
		return
	}
	w.unmarks++
	if w.markers[key]--; w.markers[key] <= 0 {
		delete(w.markers, key)
	}
}

func (w *fakeWorld) UnloadChunkRequest(cx, cz int32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unloads = append(w.unloads, world.ChunkPos{X: cx, Z: cz})
}

func (w *fakeWorld) installLocked(pos world.ChunkPos) *world.Chunk {
	if c := w.chunks[pos.Key()]; c != nil {
		return c
	}
	c := &world.Chunk{Pos: pos, Data: []byte{byte(pos.X), byte(pos.Z)}}
	w.chunks[pos.Key()] = c
	return c
}

// finishLoads completes every parked async load from a separate goroutine,
// the way a loader pool would.
func (w *fakeWorld) finishLoads(err error) {
	w.mu.Lock()
	loads := w.async
	w.async = nil
	ready := make([]*world.Chunk, len(loads))
	if err == nil {
		for i, l := range loads {
			ready[i] = w.installLocked(l.pos)
		}
	}
	w.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i, l := range loads {
			l.done(ready[i], err)
		}
	}()
	wg.Wait()
}

func (w *fakeWorld) counts() (marks, unmarks, async, unloads int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.markCalls, w.unmarks, len(w.async), len(w.unloads)
}

func (w *fakeWorld) marked(cx, cz int32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.markers[world.ChunkKey(cx, cz)] > 0
}

// newTestManager binds a fresh loop to the test goroutine and enables a
// manager on it, on an engine with keep-loaded markers.
func newTestManager(t *testing.T, opts Options) (*Manager, *sched.Loop) {
	t.Helper()
	opts.Capabilities.TicketAPI = true
	return newManagerWith(t, opts)
}

func newManagerWith(t *testing.T, opts Options) (*Manager, *sched.Loop) {
	t.Helper()
	log := zaptest.NewLogger(t)
	loop := sched.NewLoop(time.Millisecond, log)
	loop.Bind()
	if opts.LoadTimeoutTicks == 0 {
		opts.LoadTimeoutTicks = 100
	}
	m := NewManager(loop, opts, log)
	m.Enable()
	t.Cleanup(m.Disable)
	return m, loop
}

// offThread runs fn on n goroutines released at the same moment and waits
// for all of them.
func offThread(n int, fn func(i int)) {
	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer done.Done()
			start.Wait()
			fn(i)
		}(i)
	}
	start.Done()
	done.Wait()
}

func nopLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}
