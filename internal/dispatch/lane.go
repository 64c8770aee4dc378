package dispatch

import (
	"context"
	"errors"
	"time"

	"vidmill/internal/logging"
	"vidmill/internal/stage"
)

// laneState holds the claim window for one resource class. Every worker in
// the lane competes for the same stage ordinals; the worker count is the
// admission limit for the class.
type laneState struct {
	class    stage.ResourceClass
	ordinals []int
	workers  int
}

func (d *Dispatcher) runWorker(ctx context.Context, lane *laneState, worker string) {
	defer d.wg.Done()

	logger := d.logger.With(
		logging.String(logging.FieldResourceClass, string(lane.class)),
		logging.String("worker", worker),
	)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := d.store.ClaimNext(ctx, worker, d.leaseTTL, lane.ordinals)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.setLastError(err)
			logger.Error("failed to claim next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "claim_failed"),
				logging.String(logging.FieldErrorHint, "check job database access"),
			)
			d.waitOrShutdown(ctx, d.errorRetryInterval)
			continue
		}
		if job == nil {
			d.waitOrShutdown(ctx, d.pollInterval)
			continue
		}

		d.touchWorker(worker)
		if err := d.executeJob(ctx, lane, worker, logger, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

func (d *Dispatcher) waitOrShutdown(ctx context.Context, wait time.Duration) {
	if wait <= 0 {
		wait = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}
