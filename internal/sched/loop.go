package sched

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	coresys "github.com/l1jgo/chunkkeep/internal/core/system"
	"go.uber.org/zap"
)

// ErrAlreadyBound is returned by Run when another goroutine already owns the loop.
var ErrAlreadyBound = errors.New("sched: loop is bound to another goroutine")

// Loop is the cooperative main loop. One goroutine (the one that called
// Bind or Run) is the main goroutine; everything registered with Every and
// RunSoon executes on it, once per Tick.
//
// RunSoon and IsMainThread are safe from any goroutine. Every, Tick and the
// returned cancel functions are main goroutine only.
type Loop struct {
	runner   *coresys.Runner
	tickRate time.Duration
	log      *zap.Logger

	mainID atomic.Uint64
	ticks  atomic.Uint64

	soonMu  sync.Mutex
	soon    []func()
	soonBuf []func() // double buffer, swapped each tick
}

func NewLoop(tickRate time.Duration, log *zap.Logger) *Loop {
	return &Loop{
		runner:   coresys.NewRunner(),
		tickRate: tickRate,
		log:      log,
		soon:     make([]func(), 0, 64),
		soonBuf:  make([]func(), 0, 64),
	}
}

// Bind makes the calling goroutine the main goroutine.
func (l *Loop) Bind() {
	l.mainID.Store(goroutineID())
}

// IsMainThread reports whether the caller runs on the main goroutine.
func (l *Loop) IsMainThread() bool {
	id := l.mainID.Load()
	return id != 0 && id == goroutineID()
}

// RunSoon queues fn to run once on the main goroutine at the start of the
// next tick. Tasks queued by a task run on the tick after.
func (l *Loop) RunSoon(fn func()) {
	l.soonMu.Lock()
	l.soon = append(l.soon, fn)
	l.soonMu.Unlock()
}

// Every registers fn to run once per tick in the given phase until the
// returned cancel function is called.
func (l *Loop) Every(phase coresys.Phase, fn func()) (cancel func()) {
	s := &coresys.Func{P: phase, Fn: fn}
	l.runner.Register(s)
	var once sync.Once
	return func() {
		once.Do(func() { l.runner.Unregister(s) })
	}
}

// Register adds a full System to the per-tick runner.
func (l *Loop) Register(s coresys.System) {
	l.runner.Register(s)
}

// CurrentTick returns the number of ticks completed so far.
func (l *Loop) CurrentTick() uint64 {
	return l.ticks.Load()
}

// Tick runs one loop iteration: the run-soon queue first, then every
// registered system in phase order.
func (l *Loop) Tick() {
	l.drainSoon()
	l.runner.Tick(l.tickRate)
	l.ticks.Add(1)
}

func (l *Loop) drainSoon() {
	l.soonMu.Lock()
	tasks := l.soon
	l.soon = l.soonBuf[:0]
	l.soonMu.Unlock()

	for i, fn := range tasks {
		l.safeRun(fn)
		tasks[i] = nil
	}
	l.soonBuf = tasks[:0]
}

func (l *Loop) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("run-soon task panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// Run binds the calling goroutine and ticks at the configured rate until ctx
// is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if id := l.mainID.Load(); id != 0 && id != goroutineID() {
		return ErrAlreadyBound
	}
	l.Bind()

	ticker := time.NewTicker(l.tickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Tick()
		}
	}
}

// goroutineID returns the current goroutine's ID, parsed from the
// "goroutine NNN [" header of runtime.Stack.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
