package forced

import (
	"sync"
	"sync/atomic"
)

type worldMap map[World]*forcedWorld

// worldTable maps engine worlds to their registry. Writers copy the map,
// apply one change and publish it under mu; readers load the current map
// without locking and never see a half-built one.
type worldTable struct {
	mu  sync.Mutex
	cur atomic.Pointer[worldMap]
}

func newWorldTable() *worldTable {
	t := &worldTable{}
	empty := worldMap{}
	t.cur.Store(&empty)
	return t
}

func (t *worldTable) snapshot() worldMap {
	return *t.cur.Load()
}

func (t *worldTable) get(w World) (*forcedWorld, bool) {
	fw, ok := t.snapshot()[w]
	return fw, ok
}

// getOrCreate returns the registry for w, creating it with create when
// missing. Two racing callers get the same instance.
func (t *worldTable) getOrCreate(w World, create func() (*forcedWorld, error)) (*forcedWorld, error) {
	if fw, ok := t.get(w); ok {
		return fw, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.snapshot()
	if fw, ok := old[w]; ok {
		return fw, nil
	}
	fw, err := create()
	if err != nil {
		return nil, err
	}
	next := make(worldMap, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[w] = fw
	t.cur.Store(&next)
	return fw, nil
}

// remove unpublishes the registry of w and returns it.
func (t *worldTable) remove(w World) (*forcedWorld, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.snapshot()
	fw, ok := old[w]
	if !ok {
		return nil, false
	}
	t.publishWithout(old, w)
	return fw, true
}

// removeIf unpublishes fw if it is still the registry in the table.
func (t *worldTable) removeIf(fw *forcedWorld) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.snapshot()
	for w, cur := range old {
		if cur == fw {
			t.publishWithout(old, w)
			return true
		}
	}
	return false
}

func (t *worldTable) publishWithout(old worldMap, w World) {
	next := make(worldMap, len(old))
	for k, v := range old {
		if k != w {
			next[k] = v
		}
	}
	t.cur.Store(&next)
}

// reset publishes an empty table and returns the previous contents.
func (t *worldTable) reset() worldMap {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.snapshot()
	empty := worldMap{}
	t.cur.Store(&empty)
	return old
}
