package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/hubd/internal/jobs"
)

// PruneResult is the outcome of one prune pass.
type PruneResult struct {
	Fids    int           `json:"fids"`
	Pruned  int           `json:"pruned"`
	Failed  int           `json:"failed"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

func (r PruneResult) String() string {
	return fmt.Sprintf("pruned %d message(s) across %d fid(s), %d failed", r.Pruned, r.Fids, r.Failed)
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Prune every fid once",
		Long: `Apply the configured per-set size and age limits to every fid and exit.

Running prune twice in a row prunes nothing the second time.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(rootOpts, cmd)
		},
	}
}

func runPrune(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	h, err := openHub(opts, cmd)
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return err
	}
	defer h.Close()

	report, err := jobs.NewPruneScheduler(h.engine, h.logger).DoJobs(commandContext(cmd))
	result := PruneResult{
		Fids:    report.Fids,
		Pruned:  report.Pruned,
		Failed:  report.Failed,
		Elapsed: report.Elapsed,
	}
	if err != nil {
		_ = formatter.Error(ErrCodePrune, err.Error(), result)
		return WrapExitError(ExitFailure, "prune failed", err)
	}
	return formatter.Success(result)
}
