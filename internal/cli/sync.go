package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hubd/internal/hubsync"
)

// SyncSummary lists the sessions of one sync command.
type SyncSummary struct {
	RootDigest string          `json:"root_digest"`
	Sessions   []SessionReport `json:"sessions"`
}

// SessionReport is the outward view of a hubsync.SessionResult.
type SessionReport struct {
	ID       string          `json:"id"`
	Peer     string          `json:"peer"`
	States   []hubsync.State `json:"states"`
	InSync   bool            `json:"in_sync"`
	Missing  int             `json:"missing"`
	Fetched  int             `json:"fetched"`
	Merged   int             `json:"merged"`
	Rejected int             `json:"rejected"`
	Pushed   int             `json:"pushed"`
	Error    string          `json:"error,omitempty"`
}

func (s SyncSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "root digest: %s", s.RootDigest)
	for _, r := range s.Sessions {
		fmt.Fprintf(&b, "\n%s: ", r.Peer)
		if r.Error != "" {
			fmt.Fprintf(&b, "error: %s", r.Error)
			continue
		}
		fmt.Fprintf(&b, "fetched %d, merged %d, rejected %d, pushed %d, in sync: %t",
			r.Fetched, r.Merged, r.Rejected, r.Pushed, r.InSync)
	}
	return b.String()
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	return &cobra.Command{
		Use:   "sync [peer-db...]",
		Short: "Reconcile once with peer hub databases",
		Long: `Run one sync session against each peer and exit.

Peers are the given database files, or the configured sync.peers when none
are given. Messages missing locally are fetched and merged; messages the
peer lacks are pushed to it.

Example:
  hubd sync --db local.db other.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, args, cmd)
		},
	}
}

func runSync(opts *RunOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	h, err := openHub(opts.RootOptions, cmd)
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return err
	}
	defer h.Close()

	paths := make(map[string]string)
	var order []string
	if len(args) > 0 {
		for _, path := range args {
			id := peerID(path)
			if _, dup := paths[id]; dup {
				return NewExitError(ExitCommandError, fmt.Sprintf("duplicate peer %q", id))
			}
			paths[id] = path
			order = append(order, id)
		}
	} else {
		for _, p := range h.cfg.Sync.Peers {
			paths[p.ID] = p.DBPath
			order = append(order, p.ID)
		}
	}
	if len(order) == 0 {
		_ = formatter.Error(ErrCodeConfig, "no peers given or configured", nil)
		return NewExitError(ExitCommandError, "no peers given or configured")
	}

	peers, err := h.openPeers(paths, order)
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
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

	ctx := commandContext(cmd)
	results := syncer.SyncAll(ctx)

	summary := SyncSummary{}
	failed := 0
	for _, res := range results {
		r := SessionReport{
			ID:       res.ID,
			Peer:     res.Peer,
			States:   res.States,
			InSync:   res.InSync,
			Missing:  res.Missing,
			Fetched:  res.Fetched,
			Merged:   res.Merged,
			Rejected: res.Rejected,
			Pushed:   res.Pushed,
		}
		if res.Err != nil {
			r.Error = res.Err.Error()
			failed++
		}
		summary.Sessions = append(summary.Sessions, r)
	}
	if summary.RootDigest, err = syncer.RootDigest(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to read root digest", err)
	}

	if failed > 0 {
		_ = formatter.Error(ErrCodeSync, fmt.Sprintf("%d of %d session(s) failed", failed, len(results)), summary)
		return NewExitError(ExitFailure, fmt.Sprintf("%d sync session(s) failed", failed))
	}
	return formatter.Success(summary)
}
