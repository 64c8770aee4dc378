package artifact

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"vidmill/internal/logging"
)

// JobSource supplies the reclaimer with the job facts it needs. Implemented
// by the queue store; kept as an interface so the sweep can be tested without
// a database.
type JobSource interface {
	// TerminalJobIDs returns IDs of jobs that reached a terminal state
	// before the cutoff and whose scratch artifacts may be deleted.
	TerminalJobIDs(ctx context.Context, before time.Time) ([]string, error)
	// KnownJobIDs reports whether a job ID exists in the store at all.
	KnownJobIDs(ctx context.Context, ids []string) (map[string]bool, error)
	// PurgeTerminal deletes terminal job records older than the cutoff.
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}

// ReclaimPolicy controls sweep cadence and age cutoffs.
type ReclaimPolicy struct {
	Interval     time.Duration
	TerminalAge  time.Duration
	IncomingAge  time.Duration
	PurgeRecords time.Duration
}

// Reclaimer deletes scratch artifacts of terminal jobs and purges aged job
// records. It runs outside the dispatch hot path so storage I/O never stalls
// a worker.
type Reclaimer struct {
	store  *Store
	jobs   JobSource
	policy ReclaimPolicy
	logger *slog.Logger
}

// NewReclaimer constructs a reclaimer for the given store and job source.
func NewReclaimer(store *Store, jobs JobSource, policy ReclaimPolicy, logger *slog.Logger) *Reclaimer {
	return &Reclaimer{
		store:  store,
		jobs:   jobs,
		policy: policy,
		logger: logging.NewComponentLogger(logger, "reclaimer"),
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (r *Reclaimer) Run(ctx context.Context) {
	interval := r.policy.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.SweepOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				r.logger.Warn("reclamation sweep failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "reclaim_failed"),
					logging.String(logging.FieldErrorHint, "check data volume access"),
				)
			}
		}
	}
}

// SweepOnce performs a single reclamation pass.
func (r *Reclaimer) SweepOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-r.policy.TerminalAge)
	ids, err := r.jobs.TerminalJobIDs(ctx, cutoff)
	if err != nil {
		return err
	}

	var deleted int
	for _, id := range ids {
		for _, zone := range []Zone{ZoneIncoming, ZoneWorking, ZoneProcessing} {
			if err := r.store.DeleteJobZone(zone, id); err != nil {
				r.logger.Warn("failed to delete job artifacts",
					logging.String(logging.FieldJobID, id),
					logging.String("zone", string(zone)),
					logging.Error(err),
				)
				continue
			}
		}
		deleted++
	}
	if deleted > 0 {
		r.logger.Info("reclaimed scratch artifacts", logging.Int("jobs", deleted))
	}

	if err := r.sweepOrphanedIncoming(ctx); err != nil {
		return err
	}

	if r.policy.PurgeRecords > 0 {
		purged, err := r.jobs.PurgeTerminal(ctx, time.Now().Add(-r.policy.PurgeRecords))
		if err != nil {
			return err
		}
		if purged > 0 {
			r.logger.Info("purged terminal job records", logging.Int64("count", purged))
		}
	}
	return nil
}

// sweepOrphanedIncoming removes incoming directories that no longer map to a
// known job and are older than the incoming cutoff. These appear when a
// submission is accepted on disk but the job insert fails.
func (r *Reclaimer) sweepOrphanedIncoming(ctx context.Context) error {
	if r.policy.IncomingAge <= 0 {
		return nil
	}
	dir := filepath.Join(r.store.Root(), string(ZoneIncoming))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	if len(ids) == 0 {
		return nil
	}
	known, err := r.jobs.KnownJobIDs(ctx, ids)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-r.policy.IncomingAge)
	var removed int
	for _, id := range ids {
		if known[id] {
			continue
		}
		info, err := os.Stat(filepath.Join(dir, id))
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := r.store.DeleteJobZone(ZoneIncoming, id); err == nil {
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("removed orphaned incoming uploads", logging.Int("count", removed))
	}
	return nil
}
