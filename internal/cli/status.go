package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// StatusReport describes the local hub database.
type StatusReport struct {
	Database   string   `json:"database"`
	Network    string   `json:"network"`
	RootDigest string   `json:"root_digest"`
	Messages   uint64   `json:"messages"`
	Fids       []uint64 `json:"fids"`
	Peers      []string `json:"peers,omitempty"`
}

func (r StatusReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "database:    %s\n", r.Database)
	fmt.Fprintf(&b, "network:     %s\n", r.Network)
	fmt.Fprintf(&b, "root digest: %s\n", r.RootDigest)
	fmt.Fprintf(&b, "messages:    %d\n", r.Messages)
	fmt.Fprintf(&b, "fids:        %d", len(r.Fids))
	for _, p := range r.Peers {
		fmt.Fprintf(&b, "\npeer:        %s", p)
	}
	return b.String()
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show root digest, message count and fids",
		Long: `Print the trie root digest, the number of stored messages and the
fids with a custody event. Two hubs holding the same messages report the
same root digest.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	h, err := openHub(opts, cmd)
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return err
	}
	defer h.Close()

	report, err := collectStatus(commandContext(cmd), h)
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to read status", err)
	}
	return formatter.Success(report)
}

func collectStatus(ctx context.Context, h *hub) (StatusReport, error) {
	report := StatusReport{Database: h.dbPath, Network: h.engine.Network().String()}

	digest, err := h.engine.RootDigest(ctx)
	if err != nil {
		return report, err
	}
	report.RootDigest = fmt.Sprintf("%x", digest)

	if report.Messages, err = h.engine.MessageCount(ctx); err != nil {
		return report, err
	}
	fids, err := h.engine.GetFids(ctx)
	if err != nil {
		return report, err
	}
	report.Fids = make([]uint64, len(fids))
	for i, f := range fids {
		report.Fids[i] = uint64(f)
	}
	for _, p := range h.cfg.Sync.Peers {
		report.Peers = append(report.Peers, p.ID)
	}
	return report, nil
}
