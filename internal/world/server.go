package world

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/l1jgo/chunkkeep/internal/core/event"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
)

var (
	ErrWorldExists = errors.New("world already exists")
	ErrNoSuchWorld = errors.New("no such world")
)

// Capabilities describes optional engine features, resolved once at startup.
type Capabilities struct {
	// TicketAPI is set when the engine has first-class keep-loaded markers.
	// Without it, forced chunks are protected by cancelling ChunkUnloadEvent.
	TicketAPI bool
}

// Options configures a Server.
type Options struct {
	Capabilities Capabilities
	Workers      int
	QueueSize    int
	LoadTimeout  time.Duration // per async load, passed to the Source
	Source       Source
}

// Server owns the set of worlds and the chunk loader pool.
type Server struct {
	caps        Capabilities
	source      Source
	loadTimeout time.Duration
	pool        *loaderPool
	bus         *event.Bus
	fold        cases.Caser
	log         *zap.Logger

	mu     sync.Mutex // protects worlds and fold
	worlds map[string]*World
}

func NewServer(opts Options, bus *event.Bus, log *zap.Logger) *Server {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 30 * time.Second
	}
	if opts.Source == nil {
		opts.Source = Generator{}
	}
	return &Server{
		caps:        opts.Capabilities,
		source:      opts.Source,
		loadTimeout: opts.LoadTimeout,
		pool:        newLoaderPool(opts.Workers, opts.QueueSize, log),
		bus:         bus,
		fold:        cases.Fold(),
		log:         log,
		worlds:      make(map[string]*World),
	}
}

func (s *Server) Capabilities() Capabilities { return s.caps }
func (s *Server) Bus() *event.Bus            { return s.bus }

// key folds case so "Nether" and "nether" name the same world. Caller holds mu.
func (s *Server) key(name string) string {
	return s.fold.String(name)
}

// CreateWorld registers and loads a new world.
func (s *Server) CreateWorld(name string, seed int64) (*World, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(name)
	if _, ok := s.worlds[k]; ok {
		return nil, fmt.Errorf("create %q: %w", name, ErrWorldExists)
	}
	w := newWorld(s, name, seed)
	s.worlds[k] = w
	s.log.Info("world loaded", zap.String("world", name), zap.Stringer("uid", w.UID()))
	return w, nil
}

// World looks a loaded world up by name, case-insensitively.
func (s *Server) World(name string) (*World, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.worlds[s.key(name)]
	return w, ok
}

// Worlds returns a snapshot of all loaded worlds.
func (s *Server) Worlds() []*World {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*World, 0, len(s.worlds))
	for _, w := range s.worlds {
		out = append(out, w)
	}
	return out
}

// UnloadWorld fires WorldUnloadEvent, then marks the world unloaded and drops
// its chunks. Loop goroutine only.
func (s *Server) UnloadWorld(name string) error {
	s.mu.Lock()
	k := s.key(name)
	w, ok := s.worlds[k]
	if ok {
		delete(s.worlds, k)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unload %q: %w", name, ErrNoSuchWorld)
	}

	event.Fire(s.bus, WorldUnloadEvent{World: w})
	w.markUnloaded()
	s.log.Info("world unloaded", zap.String("world", w.Name()))
	return nil
}

// Tick processes pending chunk unload requests. Loop goroutine only.
func (s *Server) Tick() {
	for _, w := range s.Worlds() {
		for _, pos := range w.takeRequests() {
			if !s.caps.TicketAPI {
				ev := &ChunkUnloadEvent{World: w, Pos: pos}
				event.Fire(s.bus, ev)
				if ev.Cancelled {
					continue
				}
			}
			if w.evict(pos) {
				event.Emit(s.bus, ChunkEvictedEvent{World: w, Pos: pos})
			}
		}
	}
}

// Close stops the loader pool.
func (s *Server) Close() {
	s.pool.close()
}
