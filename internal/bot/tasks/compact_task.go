package tasks

import (
	"context"
	"fmt"
	"time"
)

// newCompactTask reclaims the space left behind by closed sessions and keeps
// the planner statistics of the transcript tables current.
func newCompactTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "sql_maintenance")

	return func(ctx context.Context) error {
		started := time.Now()
		report, err := deps.Store.Compact(ctx)
		if err != nil {
			return fmt.Errorf("failed to compact database: %w", err)
		}

		if !report.Vacuumed {
			log.DebugContext(ctx, "No free pages, vacuum skipped", "pages", report.PagesBefore, "duration", time.Since(started))
			return nil
		}
		log.InfoContext(ctx, "Database compacted",
			"pages_before", report.PagesBefore,
			"pages_after", report.PagesAfter,
			"reclaimed", report.Reclaimed(),
			"duration", time.Since(started))
		return nil
	}
}
