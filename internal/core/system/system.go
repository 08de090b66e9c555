package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: drain async load completions
	PhasePreUpdate               // 1: dispatch last tick's events
	PhaseUpdate                  // 2: fold pending ticket deltas
	PhasePostUpdate              // 3: engine tick, unload requests
	PhaseTimeout                 // 4: load timeout watchdog
	PhaseScript                  // 5: lua on_tick hooks
	PhasePersist                 // 6: batch save of generated chunks
	PhaseCleanup                 // 7: end of tick bookkeeping
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "input"
	case PhasePreUpdate:
		return "pre-update"
	case PhaseUpdate:
		return "update"
	case PhasePostUpdate:
		return "post-update"
	case PhaseTimeout:
		return "timeout"
	case PhaseScript:
		return "script"
	case PhasePersist:
		return "persist"
	case PhaseCleanup:
		return "cleanup"
	}
	return "unknown"
}

// System is the interface every per-tick task implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}

// Func adapts a plain function to a System.
type Func struct {
	P  Phase
	Fn func()
}

func (f *Func) Phase() Phase            { return f.P }
func (f *Func) Update(_ time.Duration) { f.Fn() }
