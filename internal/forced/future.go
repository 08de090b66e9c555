package forced

import (
	"context"
	"sync"

	"github.com/l1jgo/chunkkeep/internal/world"
)

// Future is a single-resolution result for a chunk load. The first
// completion wins; later attempts are no-ops.
type Future struct {
	mu       sync.Mutex
	resolved bool
	done     chan struct{}
	chunk    *world.Chunk
	err      error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func failedFuture(err error) *Future {
	f := newFuture()
	f.fail(err)
	return f
}

func (f *Future) resolve(c *world.Chunk, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved {
		return false
	}
	f.resolved = true
	f.chunk, f.err = c, err
	close(f.done)
	return true
}

func (f *Future) complete(c *world.Chunk) bool { return f.resolve(c, nil) }
func (f *Future) fail(err error) bool         { return f.resolve(nil, err) }

// Done is closed once the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the resolved value without blocking. ok is false while the
// future is still pending.
func (f *Future) Result() (c *world.Chunk, ok bool, err error) {
	if !f.IsDone() {
		return nil, false, nil
	}
	return f.chunk, true, f.err
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) (*world.Chunk, error) {
	select {
	case <-f.done:
		return f.chunk, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
