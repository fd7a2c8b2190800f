package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/hubd/internal/hubsync"
	"github.com/roach88/hubd/internal/jobs"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// IDGenerator overrides sync session ids (for testing).
	// If nil, defaults to hubsync.UUIDv7Generator.
	IDGenerator hubsync.IDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the hub: periodic sync and pruning",
		Long: `Open the hub database and run until interrupted.

Every sync.interval the hub reconciles with each configured peer; every
jobs.prune_interval it prunes every known fid.

Example:
  hubd run --config hubd.yaml
  hubd run --db /tmp/hub.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHub(opts, cmd)
		},
	}

	return cmd
}

func runHub(opts *RunOptions, cmd *cobra.Command) error {
	h, err := openHub(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	paths := make(map[string]string, len(h.cfg.Sync.Peers))
	order := make([]string, 0, len(h.cfg.Sync.Peers))
	for _, p := range h.cfg.Sync.Peers {
		paths[p.ID] = p.DBPath
		order = append(order, p.ID)
	}
	peers, err := h.openPeers(paths, order)
	if err != nil {
		return err
	}
	defer closePeers(peers)

	syncOpts := []hubsync.Option{
		hubsync.WithConfig(h.cfg.SyncerConfig()),
		hubsync.WithLogger(h.logger),
	}
	if opts.IDGenerator != nil {
		syncOpts = append(syncOpts, hubsync.WithIDGenerator(opts.IDGenerator))
	}
	syncer := hubsync.New(h.engine, syncOpts...)
	for _, p := range peers {
		syncer.AddPeer(p.peer)
	}
	pruner := jobs.NewPruneScheduler(h.engine, h.logger)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h.logger.Info("hub starting",
		"db", h.dbPath,
		"network", h.cfg.Network,
		"peers", len(peers),
		"sync_interval", h.cfg.Sync.Interval.Duration,
		"prune_interval", h.cfg.Jobs.PruneInterval.Duration)
	fmt.Fprintln(cmd.OutOrStdout(), "Hub started. Press Ctrl-C to stop.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return syncer.Run(gctx)
	})
	g.Go(func() error {
		return pruner.Run(gctx, h.cfg.Jobs.PruneInterval.Duration)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "hub error", err)
	}

	h.logger.Info("hub stopped gracefully")
	return nil
}
