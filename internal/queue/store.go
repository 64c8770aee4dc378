package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"vidmill/internal/artifact"
	"vidmill/internal/config"
)

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job database and verifies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.QueueDBPath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// SubmitRequest describes a new job to enqueue. ID may be pre-generated by
// the caller so the input artifact can be staged under the job's directory
// before the record becomes claimable; left empty, a fresh UUID is assigned.
type SubmitRequest struct {
	ID        string
	Submitter string
	InputRef  artifact.Ref
	Priority  int
}

// Submit inserts a new job at the first stage and returns the stored record.
func (s *Store) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if strings.TrimSpace(req.InputRef.Name) == "" {
		return nil, fmt.Errorf("submit: input artifact name required")
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if req.InputRef.Zone == "" {
		req.InputRef.Zone = artifact.ZoneIncoming
	}
	if req.InputRef.JobID == "" {
		req.InputRef.JobID = id
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, submitter, state, stage_ordinal, priority, retry_count,
            input_ref, created_at, updated_at, enqueued_at
        ) VALUES (?, ?, ?, 0, ?, 0, ?, ?, ?, ?)`,
		id,
		req.Submitter,
		StateQueued,
		req.Priority,
		req.InputRef.String(),
		timestamp,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a job, returning (nil, nil) when the id is unknown.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM jobs WHERE id = ?", jobColumns), id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// List returns jobs filtered by state, newest submissions first. With no
// states it returns every job.
func (s *Store) List(ctx context.Context, states ...State) ([]*Job, error) {
	query := fmt.Sprintf("SELECT %s FROM jobs", jobColumns)
	args := make([]any, 0, len(states))
	if len(states) > 0 {
		query += fmt.Sprintf(" WHERE state IN (%s)", makePlaceholders(len(states)))
		for _, st := range states {
			args = append(args, string(st))
		}
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// Stats returns job counts grouped by state.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT state, COUNT(1) FROM jobs GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(Stats)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[State(state)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}

// StageDepths returns the number of queued jobs waiting at each stage ordinal.
func (s *Store) StageDepths(ctx context.Context) (Depths, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT stage_ordinal, COUNT(1) FROM jobs WHERE state = ? GROUP BY stage_ordinal",
		StateQueued)
	if err != nil {
		return nil, fmt.Errorf("stage depths: %w", err)
	}
	defer rows.Close()

	depths := make(Depths)
	for rows.Next() {
		var ordinal, count int
		if err := rows.Scan(&ordinal, &count); err != nil {
			return nil, fmt.Errorf("scan stage depth: %w", err)
		}
		depths[ordinal] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage depths: %w", err)
	}
	return depths, nil
}

// UpdateProgress records handler progress for observers. Progress writes are
// lease-guarded so a superseded worker cannot scribble over the new holder.
func (s *Store) UpdateProgress(ctx context.Context, jobID, owner, stage string, percent float64, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET progress_stage = ?, progress_percent = ?, progress_message = ?, updated_at = ?
         WHERE id = ? AND lease_owner = ? AND state = ?`,
		nullableString(stage),
		percent,
		nullableString(message),
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
		owner,
		StateRunning,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update progress rows: %w", err)
	}
	if affected == 0 {
		return ErrLeaseLost
	}
	return nil
}

const jobColumns = "id, submitter, state, stage_ordinal, priority, retry_count, input_ref, outputs_json, error_message, cancel_requested, progress_stage, progress_percent, progress_message, created_at, updated_at, enqueued_at, lease_owner, lease_expires_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              string
		submitter       string
		stateStr        string
		stageOrdinal    int
		priority        int
		retryCount      int
		inputRef        string
		outputsJSON     sql.NullString
		errorMessage    sql.NullString
		cancelRequested int
		progressStage   sql.NullString
		progressPercent sql.NullFloat64
		progressMessage sql.NullString
		createdRaw      string
		updatedRaw      string
		enqueuedRaw     string
		leaseOwner      sql.NullString
		leaseExpiresRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&submitter,
		&stateStr,
		&stageOrdinal,
		&priority,
		&retryCount,
		&inputRef,
		&outputsJSON,
		&errorMessage,
		&cancelRequested,
		&progressStage,
		&progressPercent,
		&progressMessage,
		&createdRaw,
		&updatedRaw,
		&enqueuedRaw,
		&leaseOwner,
		&leaseExpiresRaw,
	); err != nil {
		return nil, err
	}

	ref, err := artifact.ParseRef(inputRef)
	if err != nil {
		return nil, fmt.Errorf("job %s input ref: %w", id, err)
	}
	outputs, err := unmarshalOutputs(outputsJSON.String)
	if err != nil {
		return nil, fmt.Errorf("job %s outputs: %w", id, err)
	}

	job := &Job{
		ID:              id,
		Submitter:       submitter,
		State:           State(stateStr),
		StageOrdinal:    stageOrdinal,
		Priority:        priority,
		RetryCount:      retryCount,
		InputRef:        ref,
		Outputs:         outputs,
		ErrorMessage:    errorMessage.String,
		CancelRequested: cancelRequested != 0,
		ProgressStage:   progressStage.String,
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
		LeaseOwner:      leaseOwner.String,
	}

	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if enqueued, err := parseTimeString(enqueuedRaw); err == nil {
		job.EnqueuedAt = enqueued
	}
	if leaseExpiresRaw.Valid {
		if expires, err := parseTimeString(leaseExpiresRaw.String); err == nil {
			job.LeaseExpiresAt = &expires
		}
	}
	return job, nil
}

func parseTimeString(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	return time.Parse(time.RFC3339Nano, trimmed)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
