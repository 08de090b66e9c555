package system

import (
	"sort"
	"time"
)

// Runner executes systems in phase order each tick. Systems registered with
// the same phase run in registration order.
// Accessed only from the loop goroutine.
type Runner struct {
	systems []System
	sorted  bool
	ticking bool
	removed map[System]struct{}
}

func NewRunner() *Runner {
	return &Runner{
		systems: make([]System, 0, 16),
		removed: make(map[System]struct{}),
	}
}

func (r *Runner) Register(s System) {
	delete(r.removed, s)
	r.systems = append(r.systems, s)
	r.sorted = false
}

// Unregister removes a system. Safe to call from inside a system's Update;
// the removal takes effect immediately for the remainder of the tick.
func (r *Runner) Unregister(s System) {
	if r.ticking {
		r.removed[s] = struct{}{}
		return
	}
	r.remove(s)
}

func (r *Runner) remove(s System) {
	for i, cur := range r.systems {
		if cur == s {
			r.systems = append(r.systems[:i], r.systems[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered systems.
func (r *Runner) Len() int {
	return len(r.systems) - len(r.removed)
}

func (r *Runner) Tick(dt time.Duration) {
	r.ensureSorted()
	r.ticking = true
	// Systems registered during this tick are appended past n and wait for the next one.
	n := len(r.systems)
	for i := 0; i < n; i++ {
		s := r.systems[i]
		if _, gone := r.removed[s]; gone {
			continue
		}
		s.Update(dt)
	}
	r.ticking = false
	for s := range r.removed {
		r.remove(s)
		delete(r.removed, s)
	}
}

func (r *Runner) ensureSorted() {
	if !r.sorted {
		sort.SliceStable(r.systems, func(i, j int) bool {
			return r.systems[i].Phase() < r.systems[j].Phase()
		})
		r.sorted = true
	}
}
