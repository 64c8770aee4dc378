package dispatch

import (
	"context"
	"time"

	"vidmill/internal/logging"
	"vidmill/internal/queue"
	"vidmill/internal/stage"
)

// LaneStatus reports the admission configuration of one resource class.
type LaneStatus struct {
	Class   stage.ResourceClass
	Workers int
}

// WorkerStatus reports the last observed activity for one worker.
type WorkerStatus struct {
	Name         string
	LastActivity time.Time
	Stalled      bool
}

// StatusSummary represents lightweight dispatcher diagnostics.
type StatusSummary struct {
	Running     bool
	LastError   string
	LastJobID   string
	QueueStats  queue.Stats
	StageDepths queue.Depths
	StageHealth []stage.Health
	Lanes       []LaneStatus
	Workers     []WorkerStatus
	LastSweep   time.Time
}

// Status returns the latest dispatcher information.
func (d *Dispatcher) Status(ctx context.Context) StatusSummary {
	d.mu.RLock()
	running := d.running
	lastErr := d.lastErr
	lastJobID := d.lastJobID
	lastSweep := d.lastSweep
	workers := make([]WorkerStatus, 0, len(d.activity))
	cutoff := time.Now().Add(-d.livenessWindow)
	for name, seen := range d.activity {
		workers = append(workers, WorkerStatus{
			Name:         name,
			LastActivity: seen,
			Stalled:      d.livenessWindow > 0 && seen.Before(cutoff),
		})
	}
	d.mu.RUnlock()

	stats, err := d.store.Stats(ctx)
	if err != nil {
		d.logger.Warn("failed to read job stats", logging.Error(err))
	}
	depths, err := d.store.StageDepths(ctx)
	if err != nil {
		d.logger.Warn("failed to read stage depths", logging.Error(err))
	}

	summary := StatusSummary{
		Running:     running,
		LastJobID:   lastJobID,
		QueueStats:  stats,
		StageDepths: depths,
		StageHealth: d.registry.HealthCheck(ctx),
		LastSweep:   lastSweep,
		Workers:     workers,
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	for _, lane := range d.lanes {
		summary.Lanes = append(summary.Lanes, LaneStatus{Class: lane.class, Workers: lane.workers})
	}
	return summary
}

// Healthy reports whether the dispatcher is running and its lease sweep has
// ticked within twice the liveness window. The HTTP health endpoint relies
// on this.
func (d *Dispatcher) Healthy() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return false
	}
	if d.livenessWindow <= 0 {
		return true
	}
	return time.Since(d.lastSweep) < 2*d.livenessWindow
}
