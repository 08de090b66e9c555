package forced

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/l1jgo/chunkkeep/internal/world"
	"go.uber.org/zap"
)

// Ticket is a reference-counted handle that keeps one chunk loaded.
//
// delta collects Acquire/Release calls from any goroutine. counter is the
// authoritative count; it is only written on the main goroutine while
// folding, and is atomic purely so IsForced can be read from anywhere.
type Ticket struct {
	fw     *forcedWorld
	key    int64
	pos    world.ChunkPos
	delta  atomic.Int32
	count  atomic.Int32
	future atomic.Pointer[Future]
}

func newTicket(fw *forcedWorld, pos world.ChunkPos) *Ticket {
	t := &Ticket{fw: fw, key: pos.Key(), pos: pos}
	t.future.Store(newFuture())
	return t
}

func (t *Ticket) X() int32            { return t.pos.X }
func (t *Ticket) Z() int32            { return t.pos.Z }
func (t *Ticket) Pos() world.ChunkPos { return t.pos }
func (t *Ticket) WorldName() string   { return t.fw.name }
func (t *Ticket) IsForced() bool      { return t.count.Load() > 0 }
func (t *Ticket) GetAsync() *Future   { return t.future.Load() }
func (t *Ticket) mainCount() int32    { return t.count.Load() }

// acquire is called by forcedWorld.add with the registry lock held, so the
// increment cannot interleave with a fold that would drop this ticket.
func (t *Ticket) acquire() int32 {
	return t.delta.Add(1)
}

// Release gives up one reference. Off the main goroutine, only the call that
// moves the pending delta from 0 to -1 asks for a fold, so a burst of
// releases costs a single scheduling request.
func (t *Ticket) Release() {
	n := t.delta.Add(-1)
	if t.fw.m.sched.IsMainThread() {
		t.fw.foldNow(t)
	} else if n == -1 {
		t.fw.scheduleFold(t)
	}
}

// fold merges the pending delta into the count and reacts to the count
// crossing zero. Main goroutine, registry lock held.
func (t *Ticket) fold() {
	delta := t.delta.Swap(0)
	before := t.count.Load()
	after := before + delta
	t.count.Store(after)

	switch {
	case before <= 0 && after > 0:
		t.fw.applyForcedTransition(t, true)
	case before > 0 && after <= 0:
		t.fw.applyForcedTransition(t, false)
	case after <= 0:
		// Acquired and released before it was ever folded: never forced,
		// so there is nothing to tell the engine.
		t.fw.drop(t)
	}
}

// disable zeroes both counters and stops forcing. Main goroutine, registry
// lock held.
func (t *Ticket) disable() {
	t.delta.Store(0)
	if t.count.Load() > 0 {
		t.count.Store(0)
		t.fw.applyForcedTransition(t, false)
	}
}

func (t *Ticket) resetCounters() {
	t.delta.Store(0)
	t.count.Store(0)
}

// terminate fails the current future if still pending and replaces it with
// one already failed with cause, so stale handles never wait forever.
func (t *Ticket) terminate(cause error) {
	old := t.future.Swap(failedFuture(cause))
	old.fail(cause)
}

// GetSync returns the loaded chunk, loading it on the calling goroutine if
// the async load has not finished yet. This may block on engine I/O; use
// GetAsync to wait without blocking.
func (t *Ticket) GetSync(ctx context.Context) (*world.Chunk, error) {
	if c, ok, err := t.future.Load().Result(); ok {
		if err == nil {
			return c, nil
		}
		if errors.Is(err, ErrWorldUnloaded) {
			return nil, err
		}
	}

	w, err := t.fw.engineWorld()
	if err != nil {
		return nil, err
	}
	c, err := w.LoadChunk(ctx, t.pos.X, t.pos.Z)
	if err != nil {
		if !w.IsLoaded() || errors.Is(err, ErrWorldUnloaded) {
			return nil, worldUnloadedError(t.fw.name)
		}
		return nil, err
	}
	t.future.Load().complete(c)
	return c, nil
}

// startLoadingAsync asks the engine for the chunk. The result comes back
// through onLoaded. Main goroutine.
func (t *Ticket) startLoadingAsync() {
	f := t.future.Load()
	if f.IsDone() {
		return
	}
	w := t.fw.handle
	if w == nil {
		return
	}
	if c := w.ChunkIfLoaded(t.pos.X, t.pos.Z); c != nil {
		f.complete(c)
		return
	}
	w.LoadChunkAsync(t.pos.X, t.pos.Z, t.onLoaded)
}

// onLoaded runs on a loader goroutine and forwards the result to the main
// goroutine.
func (t *Ticket) onLoaded(c *world.Chunk, err error) {
	m := t.fw.m
	if err == nil {
		m.completions.post(func() {
			t.future.Load().complete(c)
		})
		return
	}
	m.completions.post(func() {
		if !t.IsForced() {
			return
		}
		if t.fw.handle == nil || !t.fw.handle.IsLoaded() {
			t.fw.unload(causeWorldGone)
			return
		}
		t.fw.log.Debug("chunk load failed, retrying",
			zap.Int32("cx", t.pos.X), zap.Int32("cz", t.pos.Z), zap.Error(err))
		t.startLoadingAsync()
	})
}

// abortIfStillPendingAndForced resolves the future with a timeout error when
// the chunk is still wanted but has not loaded. Main goroutine.
func (t *Ticket) abortIfStillPendingAndForced(ticks int) {
	if !t.IsForced() {
		return
	}
	err := &LoadTimeoutError{World: t.fw.name, X: t.pos.X, Z: t.pos.Z, Ticks: ticks}
	if t.future.Load().fail(err) {
		t.fw.log.Warn("forced chunk load timed out",
			zap.Int32("cx", t.pos.X), zap.Int32("cz", t.pos.Z), zap.Int("ticks", ticks))
	}
}
