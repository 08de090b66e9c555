package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/l1jgo/chunkkeep/internal/config"
	"github.com/l1jgo/chunkkeep/internal/core/event"
	coresys "github.com/l1jgo/chunkkeep/internal/core/system"
	"github.com/l1jgo/chunkkeep/internal/data"
	"github.com/l1jgo/chunkkeep/internal/forced"
	"github.com/l1jgo/chunkkeep/internal/persist"
	"github.com/l1jgo/chunkkeep/internal/scripting"
	"github.com/l1jgo/chunkkeep/internal/sched"
	"github.com/l1jgo/chunkkeep/internal/world"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// statusInterval is how often, in ticks, the loop logs a status line.
const statusInterval = 1200

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chunk server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, cmd.OutOrStdout())
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions, out io.Writer) error {
	// 1. Load config
	cfg, err := config.Load(config.ResolvePath(opts.ConfigPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	p := printer{w: out}
	p.banner(cfg.Server.Name)

	// 3. Chunk source: PostgreSQL when configured, generator otherwise
	p.section("storage")
	var source world.Source = world.Generator{}
	var stored *world.StoredSource
	if cfg.Database.DSN != "" {
		dbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		db, err := persist.Open(dbCtx, cfg.Database, log)
		cancel()
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		stored = world.NewStoredSource(persist.NewChunkRepo(db), world.Generator{})
		source = stored
		// Runs after the loader pool has stopped, so nothing is queued behind it.
		defer newChunkFlusher(stored, cfg.Database.FlushInterval, log).flush()
		p.ok("PostgreSQL connected, migrations applied")
	} else {
		p.ok("no database configured, chunks are generated")
	}
	fmt.Fprintln(out)

	// 4. Main loop, bound to this goroutine from here on
	loop := sched.NewLoop(cfg.Loop.TickRate, log)
	loop.Bind()

	// 5. Engine and worlds
	p.section("worlds")
	bus := event.NewBus()
	caps := world.Capabilities{TicketAPI: cfg.Engine.TicketAPI}
	srv := world.NewServer(world.Options{
		Capabilities: caps,
		Workers:      cfg.Engine.AsyncWorkers,
		QueueSize:    cfg.Engine.QueueSize,
		LoadTimeout:  cfg.Engine.LoadTimeout,
		Source:       source,
	}, bus, log)
	defer srv.Close()

	worldTable, err := data.LoadWorldTable(cfg.Data.Worlds)
	if err != nil {
		return fmt.Errorf("load world table: %w", err)
	}
	for _, e := range worldTable.All() {
		if _, err := srv.CreateWorld(e.Name, e.Seed); err != nil {
			return fmt.Errorf("create world: %w", err)
		}
	}
	p.stat("worlds", worldTable.Count())

	registerEngineSystems(loop, bus, srv, log)
	if stored != nil {
		loop.Register(newChunkFlusher(stored, cfg.Database.FlushInterval, log))
	}

	// 6. Forced chunk manager
	m := forced.NewManager(loop, forced.Options{
		Owner:            cfg.Chunks.Owner,
		LoadTimeoutTicks: cfg.Chunks.LoadTimeoutTicks,
		Capabilities:     caps,
		Events:           bus,
	}, log)
	m.Enable()
	defer m.Disable()

	spawn, err := keepSpawnAreas(m, srv, worldTable)
	defer releaseAll(spawn)
	if err != nil {
		return err
	}
	p.stat("spawn chunks kept", len(spawn))

	// 7. Scripts
	scripts, err := scripting.NewEngine(cfg.Scripting.Dir, m, srv, log)
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer scripts.Close()
	loop.Register(scripts)
	scripts.OnEnable()
	defer scripts.OnDisable()
	p.stat("script tickets", scripts.Held())
	fmt.Fprintln(out)

	loop.Register(&coresys.Func{P: coresys.PhaseCleanup, Fn: func() {
		if n := loop.CurrentTick(); n > 0 && n%statusInterval == 0 {
			fields := []zap.Field{
				zap.Uint64("tick", n),
				zap.Int("forced_chunks", m.CountForced()),
				zap.Int("pending_loads", m.PendingLoads()),
				zap.Int("loaded_chunks", loadedChunks(srv)),
				zap.Int("script_tickets", scripts.Held()),
			}
			if stored != nil {
				fields = append(fields, zap.Int("write_back", stored.Pending()))
			}
			log.Info("status", fields...)
		}
	}})

	// 8. Run until interrupted
	p.section("ready")
	p.ready(fmt.Sprintf("main loop running (tick: %s)", cfg.Loop.TickRate))
	fmt.Fprintln(out)

	if err := loop.Run(ctx); err != nil {
		return fmt.Errorf("main loop: %w", err)
	}
	log.Info("shutting down", zap.Int("forced_chunks", m.CountForced()))
	return nil
}

// registerEngineSystems wires the engine's per-tick work into the loop.
func registerEngineSystems(loop *sched.Loop, bus *event.Bus, srv *world.Server, log *zap.Logger) {
	loop.Register(&coresys.Func{P: coresys.PhasePreUpdate, Fn: func() {
		bus.SwapBuffers()
		bus.DispatchAll()
	}})
	loop.Register(&coresys.Func{P: coresys.PhasePostUpdate, Fn: srv.Tick})

	event.Subscribe(bus, func(ev world.ChunkEvictedEvent) {
		log.Debug("chunk evicted", zap.String("world", ev.World.Name()), zap.Stringer("chunk", ev.Pos))
	})
}

// keepSpawnAreas takes one ticket per chunk each world keeps around its
// spawn point. Tickets taken before a failure are returned with the error.
func keepSpawnAreas(m *forced.Manager, srv *world.Server, tbl *data.WorldTable) ([]*forced.Ticket, error) {
	var tickets []*forced.Ticket
	var errs []error
	for _, e := range tbl.All() {
		w, ok := srv.World(e.Name)
		if !ok {
			errs = append(errs, fmt.Errorf("keep spawn of %q: %w", e.Name, world.ErrNoSuchWorld))
			continue
		}
		for _, pos := range e.KeptChunks() {
			t, err := m.Acquire(w, pos.X, pos.Z)
			if err != nil {
				errs = append(errs, fmt.Errorf("keep spawn chunk %s of %q: %w", pos, e.Name, err))
				continue
			}
			tickets = append(tickets, t)
		}
	}
	return tickets, errors.Join(errs...)
}

func loadedChunks(srv *world.Server) int {
	n := 0
	for _, w := range srv.Worlds() {
		n += w.LoadedChunks()
	}
	return n
}

func releaseAll(tickets []*forced.Ticket) {
	for _, t := range tickets {
		t.Release()
	}
}
