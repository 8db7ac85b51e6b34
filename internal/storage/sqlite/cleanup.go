package sqlite

import (
	"context"
	"fmt"
	"time"
)

// CleanupEventsByAge deletes events older than retentionDays, in
// batches so a large backlog never holds the write lock for long.
// Returns the total number of events deleted.
func (s *Store) CleanupEventsByAge(ctx context.Context, retentionDays, batchSize int) (int, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retentionDays must be positive (got %d)", retentionDays)
	}
	if batchSize <= 0 {
		return 0, fmt.Errorf("batchSize must be positive (got %d)", batchSize)
	}
	cutoff := formatTime(time.Now().UTC().AddDate(0, 0, -retentionDays))

	total := 0
	for {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM stack_events WHERE id IN (
				SELECT id FROM stack_events WHERE created_at < ? LIMIT ?
			)`, cutoff, batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to delete old events: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += int(n)
		if int(n) < batchSize {
			return total, nil
		}
	}
}

// CleanupEventsByProjectLimit keeps only the newest perProjectLimit
// events per project, deleting the excess in batches. Returns the total
// number of events deleted.
func (s *Store) CleanupEventsByProjectLimit(ctx context.Context, perProjectLimit, batchSize int) (int, error) {
	if perProjectLimit <= 0 {
		return 0, fmt.Errorf("perProjectLimit must be positive (got %d)", perProjectLimit)
	}
	if batchSize <= 0 {
		return 0, fmt.Errorf("batchSize must be positive (got %d)", batchSize)
	}

	total := 0
	for {
		// Window over each project ordered newest first; everything
		// past the limit is excess.
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM stack_events WHERE id IN (
				SELECT id FROM (
					SELECT id, ROW_NUMBER() OVER (
						PARTITION BY project ORDER BY created_at DESC, id DESC
					) AS rn
					FROM stack_events
				) WHERE rn > ? LIMIT ?
			)`, perProjectLimit, batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to enforce per-project event limit: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += int(n)
		if int(n) < batchSize {
			return total, nil
		}
	}
}
