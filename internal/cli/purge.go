package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/l1jgo/chunkkeep/internal/config"
	"github.com/l1jgo/chunkkeep/internal/data"
	"github.com/l1jgo/chunkkeep/internal/persist"
	"github.com/l1jgo/chunkkeep/internal/world"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "purge <world>",
		Short: "Delete the stored chunks of a world so they are generated again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(cmd.Context(), rootOpts, args[0], dryRun, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only report how many chunks would be deleted")
	return cmd
}

func runPurge(ctx context.Context, opts *RootOptions, name string, dryRun bool, out io.Writer) error {
	cfg, err := config.Load(config.ResolvePath(opts.ConfigPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	tbl, err := data.LoadWorldTable(cfg.Data.Worlds)
	if err != nil {
		return fmt.Errorf("load world table: %w", err)
	}
	e := tbl.Get(name)
	if e == nil {
		return fmt.Errorf("purge %q: %w", name, world.ErrNoSuchWorld)
	}
	uid := world.WorldUID(e.Name, e.Seed)

	dbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	db, err := persist.Open(dbCtx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	repo := persist.NewChunkRepo(db)

	p := printer{w: out}
	stored, err := repo.Count(dbCtx, uid)
	if err != nil {
		return fmt.Errorf("count chunks of %s: %w", e.Name, err)
	}
	p.stat(e.Name+" stored chunks", stored)
	if dryRun {
		return nil
	}

	deleted, err := repo.DeleteWorld(dbCtx, uid)
	if err != nil {
		return fmt.Errorf("purge %s: %w", e.Name, err)
	}
	log.Info("world chunks purged",
		zap.String("world", e.Name), zap.Stringer("uid", uid), zap.Int64("deleted", deleted))
	p.ok(fmt.Sprintf("deleted %d chunks of %s", deleted, e.Name))
	return nil
}
