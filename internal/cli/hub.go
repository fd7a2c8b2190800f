package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hubd/internal/config"
	"github.com/roach88/hubd/internal/engine"
	"github.com/roach88/hubd/internal/hubsync"
	"github.com/roach88/hubd/internal/store"
)

// commandContext returns the command's context, or Background when the
// command runs outside Execute (tests).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// hub is an open database with its engine, plus the configuration it was
// opened with.
type hub struct {
	cfg    *config.Config
	logger *slog.Logger
	dbPath string
	store  *store.Store
	engine *engine.Engine
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// newLogger writes text logs to w at the configured level; --verbose
// forces debug.
func newLogger(cfg *config.Config, verbose bool, w io.Writer) *slog.Logger {
	level := cfg.Level()
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openHub loads the configuration and opens the local database.
func openHub(opts *RootOptions, cmd *cobra.Command) (*hub, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())

	dbPath := cfg.DBPath
	if opts.Database != "" {
		dbPath = opts.Database
	}
	st, eng, err := openEngine(cfg, logger, dbPath)
	if err != nil {
		return nil, err
	}
	return &hub{cfg: cfg, logger: logger, dbPath: dbPath, store: st, engine: eng}, nil
}

// openEngine opens dbPath with the engine options derived from cfg.
func openEngine(cfg *config.Config, logger *slog.Logger, dbPath string) (*store.Store, *engine.Engine, error) {
	network, err := cfg.NetworkID()
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "invalid network", err)
	}
	policies, err := cfg.PrunePolicies()
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "invalid prune policy", err)
	}

	logger.Debug("opening database", "path", dbPath)
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	eng := engine.New(st,
		engine.WithNetwork(network),
		engine.WithPrunePolicies(policies),
		engine.WithLogger(logger),
	)
	return st, eng, nil
}

func (h *hub) Close() {
	h.engine.Close()
	if err := h.store.Close(); err != nil {
		h.logger.Error("error closing database", "path", h.dbPath, "error", err)
	}
}

// peerHub is another hub database served in-process as a sync peer.
type peerHub struct {
	peer   *hubsync.LocalPeer
	store  *store.Store
	engine *engine.Engine
}

func (h *hub) openPeer(id, dbPath string) (*peerHub, error) {
	st, eng, err := openEngine(h.cfg, h.logger, dbPath)
	if err != nil {
		return nil, err
	}
	return &peerHub{peer: hubsync.NewLocalPeer(id, eng), store: st, engine: eng}, nil
}

func (p *peerHub) Close() {
	p.engine.Close()
	_ = p.store.Close()
}

// peerID names a peer database after its file.
func peerID(dbPath string) string {
	return strings.TrimSuffix(filepath.Base(dbPath), filepath.Ext(dbPath))
}

func closePeers(peers []*peerHub) {
	for _, p := range peers {
		p.Close()
	}
}

func (h *hub) openPeers(paths map[string]string, order []string) ([]*peerHub, error) {
	var out []*peerHub
	for _, id := range order {
		p, err := h.openPeer(id, paths[id])
		if err != nil {
			closePeers(out)
			return nil, fmt.Errorf("peer %s: %w", id, err)
		}
		out = append(out, p)
	}
	return out, nil
}
