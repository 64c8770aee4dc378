package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vidmill/internal/artifact"
	"vidmill/internal/logging"
	"vidmill/internal/queue"
	"vidmill/internal/services"
	"vidmill/internal/stage"
)

// errCancelObserved marks a stage context cancelled because the job's cancel
// flag was seen on lease renewal, as opposed to a timeout or shutdown.
var errCancelObserved = errors.New("cancel requested")

func (d *Dispatcher) executeJob(ctx context.Context, lane *laneState, worker string, laneLogger *slog.Logger, job *queue.Job) error {
	desc, ok := d.registry.At(job.StageOrdinal)
	if !ok {
		// A pipeline edit between daemon restarts can orphan a job beyond
		// the registry. Nothing can run it, so it fails permanently.
		laneLogger.Error("no stage configured for ordinal",
			logging.String(logging.FieldJobID, job.ID),
			logging.Int("stage_ordinal", job.StageOrdinal),
		)
		_, err := d.store.RecordFailure(ctx, job.ID, worker, queue.AttemptRecord{
			StageName:   "unknown",
			StartedAt:   time.Now(),
			FinishedAt:  time.Now(),
			ErrorDetail: "no stage configured for ordinal",
			Retryable:   false,
		}, 0)
		return err
	}
	handler, _ := d.registry.HandlerAt(job.StageOrdinal)

	if job.CancelRequested {
		// The flag landed while the job sat queued between stages; honor it
		// before any handler work instead of waiting for a lease renewal.
		laneLogger.Info("cancelling claimed job before stage start",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldStage, desc.Name),
		)
		now := time.Now()
		err := d.store.RecordCancelled(ctx, job.ID, worker, queue.AttemptRecord{
			StageName:   desc.Name,
			StartedAt:   now,
			FinishedAt:  now,
			ErrorDetail: "cancelled before stage execution",
		})
		if err != nil {
			return d.handleOutcomeError(laneLogger, job.ID, err)
		}
		d.setLastJob(job.ID)
		return nil
	}

	requestID := uuid.NewString()
	jobCtx := services.WithJobID(ctx, job.ID)
	jobCtx = services.WithStage(jobCtx, desc.Name)
	jobCtx = services.WithResourceClass(jobCtx, string(lane.class))
	jobCtx = services.WithRequestID(jobCtx, requestID)
	logger := logging.WithContext(jobCtx, laneLogger)

	stageCtx := jobCtx
	var timeoutCancel context.CancelFunc
	if desc.Timeout > 0 {
		stageCtx, timeoutCancel = context.WithTimeout(stageCtx, desc.Timeout)
		defer timeoutCancel()
	}
	stageCtx, stageCancel := context.WithCancelCause(stageCtx)
	defer stageCancel(nil)

	hbCtx, hbCancel := context.WithCancel(jobCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go d.renewLoop(hbCtx, &hbWG, job.ID, worker, logger, stageCancel)

	start := time.Now()
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("attempt", job.RetryCount+1),
		logging.String("input", job.InputRef.String()),
	)

	exec := &stage.Execution{
		JobID:   job.ID,
		Stage:   desc,
		Attempt: job.RetryCount + 1,
		Input:   job.InputRef,
		Inputs:  append([]artifact.Ref{job.InputRef}, job.Outputs...),
		Store:   d.artifacts,
		Logger:  logger,
		Progress: func(percent float64, message string) {
			d.touchWorker(worker)
			if err := d.store.UpdateProgress(jobCtx, job.ID, worker, desc.Label(), percent, message); err != nil && !errors.Is(err, queue.ErrLeaseLost) {
				logger.Debug("progress update failed", logging.Error(err))
			}
		},
	}

	outputs, runErr := handler.Run(stageCtx, exec)
	cause := context.Cause(stageCtx)
	hbCancel()
	hbWG.Wait()
	d.touchWorker(worker)

	rec := queue.AttemptRecord{
		StageName:  desc.Name,
		StartedAt:  start,
		FinishedAt: time.Now(),
	}

	switch {
	case runErr == nil:
		final := job.StageOrdinal+1 >= d.registry.Len()
		advanced, err := d.store.Advance(jobCtx, job.ID, worker, outputs, rec, final)
		if err != nil {
			return d.handleOutcomeError(logger, job.ID, err)
		}
		d.setLastJob(job.ID)
		logger.Info("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Duration("stage_duration", time.Since(start)),
			logging.String("state", string(advanced.State)),
			logging.Int("outputs", len(outputs)),
		)
		return nil

	case errors.Is(cause, errCancelObserved):
		rec.ErrorDetail = "cancelled by request"
		if err := d.store.RecordCancelled(jobCtx, job.ID, worker, rec); err != nil {
			return d.handleOutcomeError(logger, job.ID, err)
		}
		d.setLastJob(job.ID)
		logger.Info("stage cancelled",
			logging.String(logging.FieldEventType, "stage_cancelled"),
			logging.Duration("stage_duration", time.Since(start)),
		)
		return nil

	case errors.Is(cause, queue.ErrLeaseLost):
		// Another holder owns the job now; recording anything would race.
		logger.Warn("abandoning stage after lease loss",
			logging.String(logging.FieldEventType, "lease_lost"),
		)
		return nil

	case ctx.Err() != nil:
		// Shutdown: leave the job running, the lease sweep requeues it.
		logger.Info("stage interrupted by shutdown")
		return context.Canceled

	default:
		rec.ErrorDetail = failureDetail(runErr, stageCtx)
		rec.Retryable = d.classifyRetryable(desc, runErr, stageCtx)
		requeued, err := d.store.RecordFailure(jobCtx, job.ID, worker, rec, desc.MaxRetries)
		if err != nil {
			return d.handleOutcomeError(logger, job.ID, err)
		}
		d.setLastError(runErr)
		d.setLastJob(job.ID)
		logger.Error("stage failed",
			logging.Error(runErr),
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.Duration("stage_duration", time.Since(start)),
			logging.Bool("requeued", requeued),
			logging.Int("attempt", job.RetryCount+1),
		)
		return nil
	}
}

// renewLoop extends the lease on a heartbeat. Observing the cancel flag or
// losing the lease cancels the stage context with the matching cause.
func (d *Dispatcher) renewLoop(ctx context.Context, wg *sync.WaitGroup, jobID, worker string, logger *slog.Logger, stageCancel context.CancelCauseFunc) {
	defer wg.Done()

	interval := d.heartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cancelRequested, err := d.store.RenewLease(ctx, jobID, worker, d.leaseTTL)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				if errors.Is(err, queue.ErrLeaseLost) {
					stageCancel(queue.ErrLeaseLost)
					return
				}
				logger.Warn("lease renewal failed", logging.Error(err))
				continue
			}
			d.touchWorker(worker)
			if cancelRequested {
				stageCancel(errCancelObserved)
				return
			}
		}
	}
}

// classifyRetryable decides whether a failed attempt may run again. Stages
// with external side effects never auto-retry; re-running them could double
// the effect.
func (d *Dispatcher) classifyRetryable(desc stage.Descriptor, runErr error, stageCtx context.Context) bool {
	if desc.NonIdempotent {
		return false
	}
	if services.IsTimeout(runErr) || errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		return true
	}
	return services.Retryable(runErr)
}

func failureDetail(runErr error, stageCtx context.Context) string {
	if errors.Is(stageCtx.Err(), context.DeadlineExceeded) && !strings.Contains(runErr.Error(), "deadline") {
		return "stage timeout: " + runErr.Error()
	}
	return runErr.Error()
}

func (d *Dispatcher) handleOutcomeError(logger *slog.Logger, jobID string, err error) error {
	if errors.Is(err, queue.ErrLeaseLost) {
		logger.Warn("outcome discarded after lease loss",
			logging.String(logging.FieldEventType, "lease_lost"),
		)
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	d.setLastError(err)
	logger.Error("failed to persist stage outcome",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check job database access"),
	)
	return err
}
