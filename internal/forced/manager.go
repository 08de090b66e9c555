package forced

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/l1jgo/chunkkeep/internal/core/event"
	coresys "github.com/l1jgo/chunkkeep/internal/core/system"
	"github.com/l1jgo/chunkkeep/internal/world"
	"go.uber.org/zap"
)

// DefaultLoadTimeoutTicks is 300 seconds at 20 ticks per second.
const DefaultLoadTimeoutTicks = 20 * 300

// World is the engine surface the manager drives. Calls made by the manager
// must not call back into it synchronously.
type World interface {
	Name() string
	IsLoaded() bool
	ChunkIfLoaded(cx, cz int32) *world.Chunk
	LoadChunk(ctx context.Context, cx, cz int32) (*world.Chunk, error)
	LoadChunkAsync(cx, cz int32, done func(*world.Chunk, error))
	SetForceLoaded(cx, cz int32, owner string, forced bool)
	UnloadChunkRequest(cx, cz int32)
}

// Scheduler is the host loop.
type Scheduler interface {
	IsMainThread() bool
	RunSoon(fn func())
	Every(phase coresys.Phase, fn func()) (cancel func())
}

// Options configures a Manager.
type Options struct {
	// Owner names the manager on keep-loaded markers.
	Owner            string
	LoadTimeoutTicks int
	Capabilities     world.Capabilities
	// Events, when set, is subscribed to engine unload notifications.
	Events *event.Bus
}

// Manager keeps chunks loaded for as long as at least one ticket holds them.
type Manager struct {
	sched    Scheduler
	owner    string
	window   int
	caps     world.Capabilities
	strategy markerStrategy
	events   *event.Bus
	log      *zap.Logger

	table       *worldTable
	completions completionQueue
	enabled     atomic.Bool

	// Main goroutine only.
	timeouts *timeoutTracker
	stops    []func()
}

func NewManager(sched Scheduler, opts Options, log *zap.Logger) *Manager {
	if opts.Owner == "" {
		opts.Owner = "chunkkeep"
	}
	if opts.LoadTimeoutTicks <= 0 {
		opts.LoadTimeoutTicks = DefaultLoadTimeoutTicks
	}
	return &Manager{
		sched:    sched,
		owner:    opts.Owner,
		window:   opts.LoadTimeoutTicks,
		caps:     opts.Capabilities,
		strategy: strategyFor(opts.Capabilities),
		events:   opts.Events,
		log:      log,
		table:    newWorldTable(),
		timeouts: newTimeoutTracker(opts.LoadTimeoutTicks),
	}
}

// Enable starts the per-tick tasks and subscribes to unload notifications.
// Main goroutine.
func (m *Manager) Enable() {
	if m.enabled.Load() {
		return
	}
	m.timeouts = newTimeoutTracker(m.window)
	m.completions.start()
	m.stops = append(m.stops,
		m.sched.Every(coresys.PhaseInput, m.completions.drain),
		m.sched.Every(coresys.PhaseTimeout, m.timeouts.run),
	)
	if m.events != nil {
		m.stops = append(m.stops, event.Subscribe(m.events, func(ev world.WorldUnloadEvent) {
			m.HandleWorldUnload(ev.World)
		}))
		if !m.caps.TicketAPI {
			m.stops = append(m.stops, event.Subscribe(m.events, func(ev *world.ChunkUnloadEvent) {
				if m.HandleChunkUnload(ev.World, ev.Pos.X, ev.Pos.Z) {
					ev.Cancelled = true
				}
			}))
		}
	}
	m.enabled.Store(true)
	m.log.Info("forced chunk manager enabled",
		zap.String("owner", m.owner),
		zap.Int("load_timeout_ticks", m.window),
		zap.Bool("ticket_api", m.caps.TicketAPI))
}

// Disable unloads every registry, failing all outstanding futures, and hands
// keep-loaded markers back to worlds that are still loaded. Main goroutine.
func (m *Manager) Disable() {
	if !m.enabled.Swap(false) {
		return
	}
	for _, stop := range m.stops {
		stop()
	}
	m.stops = nil

	for _, fw := range m.table.reset() {
		fw.unload(causeShutdown)
	}
	m.completions.stop()
	m.log.Info("forced chunk manager disabled")
}

func (m *Manager) Enabled() bool {
	return m.enabled.Load()
}

// Acquire returns a ticket holding one reference on the chunk. Safe from
// any goroutine.
func (m *Manager) Acquire(w World, cx, cz int32) (*Ticket, error) {
	if !m.enabled.Load() {
		return nil, ErrManagerDisabled
	}
	fw, err := m.forcedWorld(w)
	if err != nil {
		return nil, err
	}
	return fw.add(cx, cz)
}

func (m *Manager) forcedWorld(w World) (*forcedWorld, error) {
	return m.table.getOrCreate(w, func() (*forcedWorld, error) {
		// Runs under the table lock, so a Disable that has not reset the
		// table yet will still find this registry.
		if !m.enabled.Load() {
			return nil, ErrManagerDisabled
		}
		// Racing an unload from another goroutine this can pass spuriously.
		// The run-soon below then finds the world gone and tears it down.
		if !w.IsLoaded() {
			return nil, fmt.Errorf("keep chunk loaded on world %s: %w", w.Name(), ErrWorldUnloaded)
		}
		fw := newForcedWorld(m, w)
		m.sched.RunSoon(fw.runPendingFolds)
		m.log.Debug("forced world created", zap.String("world", w.Name()))
		return fw, nil
	})
}

// CountForced returns the number of chunks currently kept loaded.
func (m *Manager) CountForced() int {
	count := 0
	for _, fw := range m.table.snapshot() {
		count += fw.numKeptLoaded()
	}
	return count
}

// IsForced reports whether the chunk is kept loaded.
func (m *Manager) IsForced(w World, cx, cz int32) bool {
	fw, ok := m.table.get(w)
	return ok && fw.isKeptLoaded(world.ChunkKey(cx, cz))
}

// IsChunkForced reports whether a loaded chunk is kept loaded.
func (m *Manager) IsChunkForced(c *world.Chunk) bool {
	if c == nil || c.World == nil {
		return false
	}
	return m.IsForced(c.World, c.X(), c.Z())
}

// PendingLoads returns the number of loads the timeout tracker is still
// watching. Main goroutine.
func (m *Manager) PendingLoads() int {
	return m.timeouts.pending()
}

// HandleWorldUnload reacts to the engine announcing that w is unloading.
// Main goroutine.
func (m *Manager) HandleWorldUnload(w World) {
	fw, ok := m.table.remove(w)
	if !ok {
		return
	}
	fw.unload(causeNotification)
}

// HandleChunkUnload reports whether an eviction of the chunk must be
// cancelled. Only consulted on engines without keep-loaded markers.
func (m *Manager) HandleChunkUnload(w World, cx, cz int32) (cancel bool) {
	return m.IsForced(w, cx, cz)
}
