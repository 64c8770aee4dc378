package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"vidmill/internal/artifact"
)

// ErrLeaseLost indicates the caller no longer owns the job it is mutating.
// Workers treat this as a signal to abandon the execution without recording
// an outcome; whoever holds the lease now owns the attempt.
var ErrLeaseLost = errors.New("job lease lost")

// ErrAlreadyTerminal indicates a mutation was requested against a job that
// already reached an absorbing state.
var ErrAlreadyTerminal = errors.New("job already in a terminal state")

// ClaimNext atomically leases the highest-priority queued job whose stage
// ordinal is in ordinals. Ties break on enqueue time, oldest first. It
// returns (nil, nil) when nothing is eligible.
func (s *Store) ClaimNext(ctx context.Context, owner string, ttl time.Duration, ordinals []int) (*Job, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("claim: owner required")
	}
	if len(ordinals) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	args := []any{
		owner,
		now.Add(ttl).Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		string(StateQueued),
	}
	for _, ordinal := range ordinals {
		args = append(args, ordinal)
	}

	// The inner SELECT and the UPDATE run as one statement, so SQLite's
	// single-writer lock makes the claim atomic across workers.
	query := fmt.Sprintf(`UPDATE jobs
        SET state = 'running', lease_owner = ?, lease_expires_at = ?, updated_at = ?,
            progress_stage = NULL, progress_percent = 0, progress_message = NULL
        WHERE id = (
            SELECT id FROM jobs
            WHERE state = ? AND stage_ordinal IN (%s)
            ORDER BY priority DESC, enqueued_at ASC, id ASC
            LIMIT 1
        )
        RETURNING %s`, makePlaceholders(len(ordinals)), jobColumns)

	row := s.db.QueryRowContext(ctx, query, args...)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// RenewLease extends the caller's lease and reports whether cancellation has
// been requested since the last renewal.
func (s *Store) RenewLease(ctx context.Context, jobID, owner string, ttl time.Duration) (cancelRequested bool, err error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx,
		`UPDATE jobs SET lease_expires_at = ?, updated_at = ?
         WHERE id = ? AND lease_owner = ? AND state = ?
         RETURNING cancel_requested`,
		now.Add(ttl).Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		jobID,
		owner,
		StateRunning,
	)
	var flagged int
	if scanErr := row.Scan(&flagged); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return false, ErrLeaseLost
		}
		return false, fmt.Errorf("renew lease: %w", scanErr)
	}
	return flagged != 0, nil
}

// AttemptRecord carries the audit detail for one finished stage execution.
type AttemptRecord struct {
	StageName   string
	StartedAt   time.Time
	FinishedAt  time.Time
	ErrorDetail string
	Retryable   bool
}

// Advance records a successful stage attempt and moves the job forward.
// When final is true the pipeline is exhausted and the job succeeds;
// otherwise it re-enters the queue at the next ordinal with the retry
// counter reset. Outputs accumulate across stages. A cancel request that
// landed while the stage ran is honored here: the attempt is still
// recorded, but the job stops at the stage boundary instead of queueing
// the next stage.
func (s *Store) Advance(ctx context.Context, jobID, owner string, outputs []artifact.Ref, rec AttemptRecord, final bool) (*Job, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin advance tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	job, err := lockRunningJob(ctx, tx, jobID, owner)
	if err != nil {
		return nil, err
	}

	if err := insertAttempt(ctx, tx, job, rec, OutcomeSuccess); err != nil {
		return nil, err
	}

	merged := append(append([]artifact.Ref(nil), job.Outputs...), outputs...)
	outputsJSON, err := marshalOutputs(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal outputs: %w", err)
	}

	switch {
	case final:
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET state = ?, outputs_json = ?, error_message = NULL,
                lease_owner = NULL, lease_expires_at = NULL,
                progress_stage = NULL, progress_percent = 100, progress_message = NULL,
                updated_at = ?
             WHERE id = ? AND lease_owner = ?`,
			StateSucceeded, nullableString(outputsJSON), timestamp, jobID, owner)
	case job.CancelRequested:
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET state = ?, outputs_json = ?,
                error_message = 'cancelled between stages',
                lease_owner = NULL, lease_expires_at = NULL,
                progress_stage = NULL, progress_message = NULL,
                updated_at = ?
             WHERE id = ? AND lease_owner = ?`,
			StateCancelled, nullableString(outputsJSON), timestamp, jobID, owner)
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET state = ?, stage_ordinal = stage_ordinal + 1, retry_count = 0,
                outputs_json = ?, error_message = NULL,
                lease_owner = NULL, lease_expires_at = NULL,
                progress_stage = NULL, progress_percent = 0, progress_message = NULL,
                enqueued_at = ?, updated_at = ?
             WHERE id = ? AND lease_owner = ?`,
			StateQueued, nullableString(outputsJSON), timestamp, timestamp, jobID, owner)
	}
	if err != nil {
		return nil, fmt.Errorf("advance job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit advance: %w", err)
	}
	return s.GetByID(ctx, jobID)
}

// RecordFailure records a failed stage attempt. Retryable failures with
// retry budget left re-enter the queue at the same stage with the counter
// incremented; everything else lands in failed. It reports whether the job
// was requeued.
func (s *Store) RecordFailure(ctx context.Context, jobID, owner string, rec AttemptRecord, maxRetries int) (requeued bool, err error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin failure tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	job, err := lockRunningJob(ctx, tx, jobID, owner)
	if err != nil {
		return false, err
	}

	if err := insertAttempt(ctx, tx, job, rec, OutcomeFailure); err != nil {
		return false, err
	}

	requeued = rec.Retryable && job.RetryCount < maxRetries
	if requeued {
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET state = ?, retry_count = retry_count + 1, error_message = ?,
                lease_owner = NULL, lease_expires_at = NULL,
                progress_stage = NULL, progress_percent = 0, progress_message = NULL,
                enqueued_at = ?, updated_at = ?
             WHERE id = ? AND lease_owner = ?`,
			StateQueued, nullableString(rec.ErrorDetail), timestamp, timestamp, jobID, owner)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET state = ?, error_message = ?,
                lease_owner = NULL, lease_expires_at = NULL,
                updated_at = ?
             WHERE id = ? AND lease_owner = ?`,
			StateFailed, nullableString(rec.ErrorDetail), timestamp, jobID, owner)
	}
	if err != nil {
		return false, fmt.Errorf("record failure: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit failure: %w", err)
	}
	return requeued, nil
}

// RecordCancelled finishes a running job whose handler observed a cancel
// request and stopped.
func (s *Store) RecordCancelled(ctx context.Context, jobID, owner string, rec AttemptRecord) error {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cancel tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	job, err := lockRunningJob(ctx, tx, jobID, owner)
	if err != nil {
		return err
	}

	if err := insertAttempt(ctx, tx, job, rec, OutcomeCancelled); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET state = ?, error_message = ?,
            lease_owner = NULL, lease_expires_at = NULL,
            updated_at = ?
         WHERE id = ? AND lease_owner = ?`,
		StateCancelled, nullableString(rec.ErrorDetail), timestamp, jobID, owner); err != nil {
		return fmt.Errorf("record cancellation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cancellation: %w", err)
	}
	return nil
}

// Cancel requests cancellation. Queued jobs cancel immediately; running jobs
// get a flag the worker observes on its next lease renewal. Terminal jobs
// return ErrAlreadyTerminal. Unknown ids return (nil, nil).
func (s *Store) Cancel(ctx context.Context, jobID string) (*Job, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin cancel tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM jobs WHERE id = ?", jobColumns), jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job for cancel: %w", err)
	}

	switch {
	case job.Terminal():
		return job, ErrAlreadyTerminal
	case job.State == StateQueued:
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET state = ?, cancel_requested = 1,
                error_message = 'cancelled before execution', updated_at = ?
             WHERE id = ? AND state = ?`,
			StateCancelled, now, jobID, StateQueued)
	default:
		_, err = tx.ExecContext(ctx,
			"UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ?",
			now, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("request cancel: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cancel: %w", err)
	}
	return s.GetByID(ctx, jobID)
}

// RequeueExpiredLeases sweeps running jobs whose lease has lapsed. The
// backing worker is presumed dead, so the job returns to the queue at the
// same stage with its retry budget untouched. Expired jobs already flagged
// for cancellation go straight to cancelled. Returns the affected job ids.
func (s *Store) RequeueExpiredLeases(ctx context.Context, now time.Time) ([]string, error) {
	running, err := s.List(ctx, StateRunning)
	if err != nil {
		return nil, err
	}

	timestamp := now.UTC().Format(time.RFC3339Nano)
	var reclaimed []string
	for _, job := range running {
		if job.Leased(now) {
			continue
		}
		// Guard on the exact lease observed so a concurrent renewal or
		// completion wins over the sweep.
		var swept bool
		if job.CancelRequested {
			swept, err = s.cancelExpiredLease(ctx, job, now)
		} else {
			var res sql.Result
			res, err = s.db.ExecContext(ctx,
				`UPDATE jobs SET state = ?, lease_owner = NULL, lease_expires_at = NULL,
                    progress_stage = NULL, progress_percent = 0, progress_message = NULL,
                    enqueued_at = ?, updated_at = ?
                 WHERE id = ? AND state = ? AND lease_owner IS ? AND lease_expires_at IS ?`,
				StateQueued, timestamp, timestamp, job.ID, StateRunning,
				nullableString(job.LeaseOwner), nullableTime(job.LeaseExpiresAt))
			if err == nil {
				affected, raErr := res.RowsAffected()
				swept = raErr == nil && affected > 0
			}
		}
		if err != nil {
			return reclaimed, fmt.Errorf("requeue expired lease for %s: %w", job.ID, err)
		}
		if swept {
			reclaimed = append(reclaimed, job.ID)
		}
	}
	return reclaimed, nil
}

// cancelExpiredLease finishes a cancel-flagged job whose worker died. The
// attempt the dead worker was running still gets an audit row so the trail
// shows where the job stopped.
func (s *Store) cancelExpiredLease(ctx context.Context, job *Job, now time.Time) (bool, error) {
	timestamp := now.UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin sweep tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET state = ?, error_message = 'cancelled after worker loss',
            lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
         WHERE id = ? AND state = ? AND lease_owner IS ? AND lease_expires_at IS ?`,
		StateCancelled, timestamp, job.ID, StateRunning,
		nullableString(job.LeaseOwner), nullableTime(job.LeaseExpiresAt))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil || affected == 0 {
		return false, err
	}

	rec := AttemptRecord{
		StageName:   job.ProgressStage,
		StartedAt:   now.UTC(),
		FinishedAt:  now.UTC(),
		ErrorDetail: "cancelled after worker loss",
	}
	if err := insertAttempt(ctx, tx, job, rec, OutcomeCancelled); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit sweep: %w", err)
	}
	return true, nil
}

func lockRunningJob(ctx context.Context, tx *sql.Tx, jobID, owner string) (*Job, error) {
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM jobs WHERE id = ? AND lease_owner = ? AND state = ?", jobColumns),
		jobID, owner, StateRunning)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLeaseLost
	}
	if err != nil {
		return nil, fmt.Errorf("load leased job: %w", err)
	}
	return job, nil
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}
