package forced

import (
	"sync"

	"github.com/l1jgo/chunkkeep/internal/world"
	"go.uber.org/zap"
)

type unloadCause int

const (
	// causeWorldGone: a fold found the engine world unloaded without having
	// been told. The registry still sits in the table.
	causeWorldGone unloadCause = iota
	// causeNotification: the engine announced the unload; the caller already
	// removed the registry from the table.
	causeNotification
	// causeShutdown: the manager is disabling while the world lives on, so
	// keep-loaded markers are handed back to the engine.
	causeShutdown
)

// forcedWorld is the registry of tickets for one world.
type forcedWorld struct {
	m    *Manager
	name string
	log  *zap.Logger

	mu       sync.Mutex // protects everything below
	handle   World      // nil once unloaded
	unloaded bool
	chunks   map[int64]*Ticket
	pending  map[int64]struct{}
}

func newForcedWorld(m *Manager, w World) *forcedWorld {
	return &forcedWorld{
		m:       m,
		name:    w.Name(),
		log:     m.log.With(zap.String("world", w.Name())),
		handle:  w,
		chunks:  make(map[int64]*Ticket),
		pending: make(map[int64]struct{}),
	}
}

func (fw *forcedWorld) checkUnloaded() error {
	if fw.unloaded {
		return worldUnloadedError(fw.name)
	}
	return nil
}

// add returns the ticket for the chunk with one more reference.
func (fw *forcedWorld) add(cx, cz int32) (*Ticket, error) {
	pos := world.ChunkPos{X: cx, Z: cz}

	fw.mu.Lock()
	if err := fw.checkUnloaded(); err != nil {
		fw.mu.Unlock()
		return nil, err
	}
	t := fw.chunks[pos.Key()]
	if t == nil {
		t = newTicket(fw, pos)
		fw.chunks[t.key] = t
	}
	n := t.acquire()
	fw.mu.Unlock()

	if fw.m.sched.IsMainThread() {
		fw.foldNow(t)
	} else if n == 1 {
		fw.scheduleFold(t)
	}
	return t, nil
}

// foldNow folds a single ticket right away. Main goroutine.
func (fw *forcedWorld) foldNow(t *Ticket) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.unloaded || fw.chunks[t.key] != t {
		// Stale handle: its registry entry is gone, so the delta has nowhere to go.
		t.delta.Store(0)
		return
	}
	t.fold()
}

// scheduleFold queues the ticket for the next pending-fold pass. Only the
// call that makes the pending set non-empty arms the run-soon request.
func (fw *forcedWorld) scheduleFold(t *Ticket) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.unloaded {
		fw.log.Debug("dropping fold request for unloaded world", zap.Stringer("chunk", t.pos))
		return
	}
	if len(fw.pending) == 0 {
		fw.m.sched.RunSoon(fw.runPendingFolds)
	}
	fw.pending[t.key] = struct{}{}
}

// runPendingFolds folds every ticket named in the pending set. Main goroutine.
func (fw *forcedWorld) runPendingFolds() {
	fw.mu.Lock()
	if fw.unloaded {
		clear(fw.pending)
		fw.mu.Unlock()
		return
	}
	if !fw.handle.IsLoaded() {
		fw.mu.Unlock()
		// Missed an unload notification.
		fw.unload(causeWorldGone)
		return
	}
	for key := range fw.pending {
		if t := fw.chunks[key]; t != nil {
			t.fold()
		}
	}
	clear(fw.pending)
	fw.mu.Unlock()
}

// applyForcedTransition is the single place where engine calls are made.
// Main goroutine, registry lock held.
func (fw *forcedWorld) applyForcedTransition(t *Ticket, forced bool) {
	if !forced {
		fw.remove(t)
	}

	if fw.unloaded {
		t.resetCounters()
		if forced {
			// Cannot happen through add, which refuses unloaded worlds.
			fw.log.Error("chunk became forced on an unloaded world", zap.Stringer("chunk", t.pos))
			fw.remove(t)
			t.terminate(worldUnloadedError(fw.name))
		}
		return
	}

	fw.m.strategy.setMarker(fw.handle, t, fw.m.owner, forced)

	if forced {
		fw.m.timeouts.add(t)
		t.startLoadingAsync()
		return
	}
	fw.handle.UnloadChunkRequest(t.pos.X, t.pos.Z)
	t.terminate(ErrTicketReleased)
}

// drop removes a ticket that was never forced. Registry lock held.
func (fw *forcedWorld) drop(t *Ticket) {
	fw.remove(t)
	t.terminate(ErrTicketReleased)
}

func (fw *forcedWorld) remove(t *Ticket) {
	if fw.chunks[t.key] == t {
		delete(fw.chunks, t.key)
	}
}

// unload tears the registry down. Every outstanding future fails with
// ErrWorldUnloaded and no ticket can be created afterwards. Idempotent.
// Main goroutine.
func (fw *forcedWorld) unload(cause unloadCause) {
	if cause == causeWorldGone {
		fw.m.table.removeIf(fw)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.unloaded {
		clear(fw.pending)
		clear(fw.chunks)
		return
	}

	fw.unloaded = true
	clear(fw.pending)
	errUnloaded := worldUnloadedError(fw.name)
	h := fw.handle
	for _, t := range fw.chunks {
		if cause == causeShutdown && t.IsForced() {
			fw.m.strategy.setMarker(h, t, fw.m.owner, false)
		}
		t.future.Load().fail(errUnloaded)
		t.disable()
		t.resetCounters()
		t.terminate(errUnloaded)
	}
	clear(fw.chunks)

	// Drop the engine reference; it is unusable from here on.
	fw.handle = nil
	fw.log.Info("forced world unloaded")
}

// engineWorld returns the engine world for a blocking load from any goroutine.
func (fw *forcedWorld) engineWorld() (World, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := fw.checkUnloaded(); err != nil {
		return nil, err
	}
	return fw.handle, nil
}

func (fw *forcedWorld) numKeptLoaded() int {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return len(fw.chunks)
}

func (fw *forcedWorld) isKeptLoaded(key int64) bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, ok := fw.chunks[key]
	return ok
}
