package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vidmill/internal/artifact"
	"vidmill/internal/config"
	"vidmill/internal/logging"
	"vidmill/internal/queue"
	"vidmill/internal/stage"
)

// Dispatcher coordinates queue processing across resource-class lanes.
type Dispatcher struct {
	cfg       *config.Config
	store     *queue.Store
	artifacts *artifact.Store
	registry  *stage.Registry
	logger    *slog.Logger

	pollInterval       time.Duration
	errorRetryInterval time.Duration
	leaseTTL           time.Duration
	heartbeatInterval  time.Duration
	livenessWindow     time.Duration

	lanes []*laneState

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastErr   error
	lastJobID string
	lastSweep time.Time
	activity  map[string]time.Time
}

// New constructs a dispatcher with one lane per resource class the registry
// declares. Worker counts come from the workflow config; classes without an
// entry get a single worker.
func New(cfg *config.Config, store *queue.Store, artifacts *artifact.Store, registry *stage.Registry, logger *slog.Logger) (*Dispatcher, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, errors.New("dispatch: stage registry is empty")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	d := &Dispatcher{
		cfg:                cfg,
		store:              store,
		artifacts:          artifacts,
		registry:           registry,
		logger:             logging.NewComponentLogger(logger, "dispatcher"),
		pollInterval:       time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		leaseTTL:           time.Duration(cfg.Workflow.LeaseTTL) * time.Second,
		heartbeatInterval:  time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second,
		livenessWindow:     time.Duration(cfg.Workflow.LivenessWindow) * time.Second,
		activity:           make(map[string]time.Time),
	}

	for _, class := range registry.Classes() {
		workers := cfg.Workflow.Workers[string(class)]
		if workers <= 0 {
			workers = 1
		}
		d.lanes = append(d.lanes, &laneState{
			class:    class,
			ordinals: registry.OrdinalsForClass(class),
			workers:  workers,
		})
	}
	return d, nil
}

// Start begins background processing.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dispatcher already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.lastSweep = time.Now()

	total := 1 // lease sweep loop
	for _, lane := range d.lanes {
		total += lane.workers
	}
	d.wg.Add(total)
	d.mu.Unlock()

	go d.runLeaseSweep(runCtx)
	for _, lane := range d.lanes {
		for i := 0; i < lane.workers; i++ {
			worker := fmt.Sprintf("%s-%d", lane.class, i)
			go d.runWorker(runCtx, lane, worker)
		}
	}

	d.logger.Info("dispatcher started",
		logging.Int("lanes", len(d.lanes)),
		logging.Int("stages", d.registry.Len()),
	)
	return nil
}

// Stop terminates background processing and waits for in-flight work to
// unwind. Running stage handlers observe context cancellation; their jobs
// return to the queue via lease expiry.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// runLeaseSweep periodically requeues jobs whose lease lapsed.
func (d *Dispatcher) runLeaseSweep(ctx context.Context) {
	defer d.wg.Done()

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
			reclaimed, err := d.store.RequeueExpiredLeases(ctx, time.Now())
			d.mu.Lock()
			d.lastSweep = time.Now()
			d.mu.Unlock()
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				d.setLastError(err)
				d.logger.Error("lease sweep failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "lease_sweep_failed"),
					logging.String(logging.FieldErrorHint, "check job database access"),
				)
				continue
			}
			for _, id := range reclaimed {
				d.logger.Warn("requeued job after lease expiry",
					logging.String(logging.FieldJobID, id),
					logging.String(logging.FieldEventType, "lease_reclaimed"),
				)
			}
		}
	}
}

func (d *Dispatcher) setLastError(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
}

func (d *Dispatcher) setLastJob(id string) {
	d.mu.Lock()
	d.lastJobID = id
	d.mu.Unlock()
}

func (d *Dispatcher) touchWorker(worker string) {
	d.mu.Lock()
	d.activity[worker] = time.Now()
	d.mu.Unlock()
}
