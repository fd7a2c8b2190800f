// Package jobs runs periodic maintenance against a storage engine.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/hubd/internal/message"
)

// Pruner is the part of the engine the prune job drives.
type Pruner interface {
	GetFids(ctx context.Context) ([]message.Fid, error)
	PruneMessages(ctx context.Context, fid message.Fid) (int, error)
}

// PruneReport summarises one DoJobs pass.
type PruneReport struct {
	Fids    int
	Pruned  int
	Failed  int
	Started time.Time
	Elapsed time.Duration
}

// PruneScheduler prunes every known fid, once per DoJobs call or on a
// ticker via Run.
type PruneScheduler struct {
	pruner Pruner
	logger *slog.Logger

	mu   sync.Mutex
	last PruneReport
}

// NewPruneScheduler creates a scheduler. A nil logger uses slog.Default().
func NewPruneScheduler(p Pruner, logger *slog.Logger) *PruneScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PruneScheduler{pruner: p, logger: logger}
}

// DoJobs prunes every fid the engine knows about. A failure on one fid is
// logged and does not stop the others; the failures are returned joined.
// With no fids it does nothing and succeeds.
func (s *PruneScheduler) DoJobs(ctx context.Context) (PruneReport, error) {
	report := PruneReport{Started: time.Now()}

	fids, err := s.pruner.GetFids(ctx)
	if err != nil {
		return report, fmt.Errorf("prune job: list fids: %w", err)
	}
	report.Fids = len(fids)

	var errs []error
	for _, fid := range fids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := s.pruner.PruneMessages(ctx, fid)
		if err != nil {
			report.Failed++
			s.logger.Warn("prune failed", "fid", uint64(fid), "error", err)
			errs = append(errs, fmt.Errorf("fid %d: %w", fid, err))
			continue
		}
		report.Pruned += n
	}
	report.Elapsed = time.Since(report.Started)

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	s.logger.Info("prune job finished",
		"fids", report.Fids,
		"pruned", report.Pruned,
		"failed", report.Failed,
		"elapsed", report.Elapsed)
	return report, errors.Join(errs...)
}

// LastReport returns the report of the most recent DoJobs pass.
func (s *PruneScheduler) LastReport() PruneReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Run calls DoJobs every interval until ctx is done.
func (s *PruneScheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("prune job: interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.DoJobs(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("prune job", "error", err)
			}
		}
	}
}
