package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/l1jgo/chunkkeep/internal/config"
	"github.com/l1jgo/chunkkeep/internal/core/event"
	"github.com/l1jgo/chunkkeep/internal/data"
	"github.com/l1jgo/chunkkeep/internal/forced"
	"github.com/l1jgo/chunkkeep/internal/scripting"
	"github.com/l1jgo/chunkkeep/internal/sched"
	"github.com/l1jgo/chunkkeep/internal/world"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config, world table and scripts without serving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(rootOpts, cmd.OutOrStdout())
		},
	}
}

func runCheck(opts *RootOptions, out io.Writer) error {
	path := config.ResolvePath(opts.ConfigPath)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if _, err := newLogger(cfg.Logging); err != nil {
		return err
	}
	p := printer{w: out}
	p.ok("config " + path)

	tbl, err := data.LoadWorldTable(cfg.Data.Worlds)
	if err != nil {
		return fmt.Errorf("load world table: %w", err)
	}
	p.stat("worlds", tbl.Count())
	p.stat("spawn chunks", tbl.KeptChunks())

	// Scripts run their top level against a disabled manager, so any keep
	// call made at load time fails instead of loading chunks.
	log := zap.NewNop()
	srv := world.NewServer(world.Options{Workers: 1}, event.NewBus(), log)
	defer srv.Close()
	loop := sched.NewLoop(time.Second, log)
	m := forced.NewManager(loop, forced.Options{}, log)
	scripts, err := scripting.NewEngine(cfg.Scripting.Dir, m, srv, log)
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	scripts.Close()
	p.ok("scripts " + cfg.Scripting.Dir)

	if cfg.Database.DSN == "" {
		p.ok("database: none, chunks are generated")
	} else {
		p.ok("database: configured")
	}
	return nil
}
