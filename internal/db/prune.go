package db

import (
	"context"
	"fmt"
	"time"

	"github.com/metalagman/duet/internal/config"
	"github.com/rs/zerolog/log"
)

// PruneResult summarizes a prune operation.
type PruneResult struct {
	Considered int
	Kept       int
	Deleted    int
}

// PruneRuns deletes runs outside the retention policy. A run is kept when it
// is still running, is among the KeepLast newest, or is younger than
// KeepDays. An empty policy keeps everything. With dryRun nothing is deleted
// but Deleted reports what would be.
func (s *Store) PruneRuns(ctx context.Context, policy config.RetentionPolicy, dryRun bool) (PruneResult, error) {
	if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
		return PruneResult{}, nil
	}
	cutoff := time.Time{}
	if policy.KeepDays > 0 {
		cutoff = time.Now().UTC().Add(-time.Duration(policy.KeepDays) * 24 * time.Hour)
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		return PruneResult{}, err
	}

	res := PruneResult{Considered: len(runs)}
	for idx, run := range runs {
		keep := run.Status == StatusRunning
		if !keep && policy.KeepLast > 0 && idx < policy.KeepLast {
			keep = true
		}
		if !keep && policy.KeepDays > 0 && (run.CreatedAt.IsZero() || run.CreatedAt.After(cutoff)) {
			keep = true
		}
		if keep {
			res.Kept++
			continue
		}
		if dryRun {
			res.Deleted++
			continue
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id=?`, run.RunID); err != nil {
			return res, fmt.Errorf("delete run %s: %w", run.RunID, err)
		}
		log.Debug().Str("run_id", run.RunID).Msg("pruned run")
		res.Deleted++
	}
	return res, nil
}

// Purge removes every run.
func (s *Store) Purge(ctx context.Context) error {
	for _, table := range []string{"events", "iterations", "runs"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s table: %w", table, err)
		}
	}
	return nil
}
