package queue

import (
	"context"
	"fmt"
	"time"
)

// RetryFailed returns a failed job to the queue at the stage that failed,
// with a fresh retry budget. Only failed jobs are eligible.
func (s *Store) RetryFailed(ctx context.Context, jobID string) (*Job, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, retry_count = 0, error_message = NULL,
            cancel_requested = 0, lease_owner = NULL, lease_expires_at = NULL,
            progress_stage = NULL, progress_percent = 0, progress_message = NULL,
            enqueued_at = ?, updated_at = ?
         WHERE id = ? AND state = ?`,
		StateQueued, timestamp, timestamp, jobID, StateFailed)
	if err != nil {
		return nil, fmt.Errorf("retry job %s: %w", jobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("retry job rows: %w", err)
	}
	if affected == 0 {
		job, getErr := s.GetByID(ctx, jobID)
		if getErr != nil {
			return nil, getErr
		}
		if job == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("retry job %s: state is %s, only failed jobs can be retried", jobID, job.State)
	}
	return s.GetByID(ctx, jobID)
}

// ClearTerminal deletes job records in terminal states. Attempt rows follow
// via the foreign key cascade.
func (s *Store) ClearTerminal(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM jobs WHERE state IN (?, ?, ?)",
		StateSucceeded, StateFailed, StateCancelled)
	if err != nil {
		return 0, fmt.Errorf("clear terminal jobs: %w", err)
	}
	return res.RowsAffected()
}

// ClearAll empties the job store entirely.
func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM jobs")
	if err != nil {
		return 0, fmt.Errorf("clear jobs: %w", err)
	}
	return res.RowsAffected()
}

// TerminalJobIDs returns ids of jobs that reached a terminal state before
// the cutoff.
func (s *Store) TerminalJobIDs(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM jobs WHERE state IN (?, ?, ?) AND updated_at < ?",
		StateSucceeded, StateFailed, StateCancelled,
		before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("terminal job ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan terminal id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate terminal ids: %w", err)
	}
	return ids, nil
}

// KnownJobIDs reports which of the given ids exist in the store.
func (s *Store) KnownJobIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	known := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return known, nil
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id FROM jobs WHERE id IN (%s)", makePlaceholders(len(ids))),
		args...)
	if err != nil {
		return nil, fmt.Errorf("known job ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan known id: %w", err)
		}
		known[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate known ids: %w", err)
	}
	return known, nil
}

// PurgeTerminal deletes terminal job records last touched before the cutoff.
func (s *Store) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM jobs WHERE state IN (?, ?, ?) AND updated_at < ?",
		StateSucceeded, StateFailed, StateCancelled,
		before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("purge terminal jobs: %w", err)
	}
	return res.RowsAffected()
}
