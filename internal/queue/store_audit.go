package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func insertAttempt(ctx context.Context, tx *sql.Tx, job *Job, rec AttemptRecord, outcome Outcome) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO attempts (
            job_id, stage_ordinal, stage_name, attempt,
            started_at, finished_at, outcome, error_detail, retryable
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.StageOrdinal,
		rec.StageName,
		job.RetryCount+1,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(outcome),
		nullableString(rec.ErrorDetail),
		boolToInt(rec.Retryable),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// Attempts returns the audit trail for a job in execution order.
func (s *Store) Attempts(ctx context.Context, jobID string) ([]*Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, stage_ordinal, stage_name, attempt,
                started_at, finished_at, outcome, error_detail, retryable
         FROM attempts WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		var (
			a           Attempt
			startedRaw  string
			finishedRaw string
			outcome     string
			detail      sql.NullString
			retryable   int
		)
		if err := rows.Scan(
			&a.ID,
			&a.JobID,
			&a.StageOrdinal,
			&a.StageName,
			&a.Attempt,
			&startedRaw,
			&finishedRaw,
			&outcome,
			&detail,
			&retryable,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Outcome = Outcome(outcome)
		a.ErrorDetail = detail.String
		a.Retryable = retryable != 0
		if started, err := parseTimeString(startedRaw); err == nil {
			a.StartedAt = started
		}
		if finished, err := parseTimeString(finishedRaw); err == nil {
			a.FinishedAt = finished
		}
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
