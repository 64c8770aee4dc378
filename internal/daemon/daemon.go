package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"vidmill/internal/artifact"
	"vidmill/internal/config"
	"vidmill/internal/dispatch"
	"vidmill/internal/logging"
	"vidmill/internal/queue"
)

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *queue.Store
	artifacts  *artifact.Store
	dispatcher *dispatch.Dispatcher
	reclaimer  *artifact.Reclaimer

	apiServer *apiServer
	monitor   *monitorServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Dispatcher   dispatch.StatusSummary
	JobDBPath    string
	LockFilePath string
	FreeSpaceMB  int64
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, artifacts *artifact.Store, dispatcher *dispatch.Dispatcher, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || artifacts == nil || dispatcher == nil {
		return nil, errors.New("daemon requires config, stores, and dispatcher")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "vidmilld.lock")
	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      store,
		artifacts:  artifacts,
		dispatcher: dispatcher,
		reclaimer: artifact.NewReclaimer(artifacts, store, artifact.ReclaimPolicy{
			Interval:     time.Duration(cfg.Retention.SweepInterval) * time.Second,
			TerminalAge:  time.Duration(cfg.Retention.TerminalAgeHours) * time.Hour,
			IncomingAge:  time.Duration(cfg.Retention.IncomingAgeHours) * time.Hour,
			PurgeRecords: time.Duration(cfg.Retention.PurgeRecordsDays) * 24 * time.Hour,
		}, logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	srv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.apiServer = srv
	d.monitor = newMonitorServer(cfg, srv, logger)
	return d, nil
}

// Start acquires the daemon lock and launches the dispatcher, the artifact
// reclaimer, and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another vidmill daemon instance is already running")
	}

	if free, err := d.artifacts.FreeSpaceMB(); err == nil && d.cfg.Retention.MinFreeSpaceMB > 0 && free < int64(d.cfg.Retention.MinFreeSpaceMB) {
		_ = d.lock.Unlock()
		return fmt.Errorf("artifact store has %d MB free, need %d MB", free, d.cfg.Retention.MinFreeSpaceMB)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.dispatcher.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start dispatcher: %w", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.reclaimer.Run(runCtx)
	}()

	if d.apiServer != nil {
		if err := d.apiServer.start(runCtx); err != nil {
			d.dispatcher.Stop()
			cancel()
			d.cancel = nil
			_ = d.lock.Unlock()
			return err
		}
	}
	if err := d.monitor.start(runCtx); err != nil {
		if d.apiServer != nil {
			d.apiServer.stop()
		}
		d.dispatcher.Stop()
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("vidmill daemon started",
		logging.String("lock", d.lockPath),
		logging.String("job_db", d.store.Path()),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.monitor.stop()
	if d.apiServer != nil {
		d.apiServer.stop()
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.dispatcher.Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("vidmill daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether the daemon has started.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddr returns the bound address of the HTTP API, empty until started.
func (d *Daemon) APIAddr() string {
	if d.apiServer == nil {
		return ""
	}
	return d.apiServer.addr()
}

// MonitorAddr returns the bound address of the read-only monitor listener,
// empty when disabled or not started.
func (d *Daemon) MonitorAddr() string {
	return d.monitor.addr()
}

// Status collects runtime diagnostics.
func (d *Daemon) Status(ctx context.Context) Status {
	free, err := d.artifacts.FreeSpaceMB()
	if err != nil {
		d.logger.Warn("free space probe failed", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Dispatcher:   d.dispatcher.Status(ctx),
		JobDBPath:    d.store.Path(),
		LockFilePath: d.lockPath,
		FreeSpaceMB:  free,
	}
}
