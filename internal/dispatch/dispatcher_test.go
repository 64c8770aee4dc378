package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vidmill/internal/artifact"
	"vidmill/internal/config"
	"vidmill/internal/dispatch"
	"vidmill/internal/logging"
	"vidmill/internal/queue"
	"vidmill/internal/services"
	"vidmill/internal/stage"
	"vidmill/internal/testsupport"
)

type fakeHandler struct {
	name string
	run  func(ctx context.Context, exec *stage.Execution) ([]artifact.Ref, error)

	mu    sync.Mutex
	calls int
}

func (f *fakeHandler) Name() string { return f.name }

func (f *fakeHandler) Run(ctx context.Context, exec *stage.Execution) ([]artifact.Ref, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.run == nil {
		return nil, nil
	}
	return f.run(ctx, exec)
}

func (f *fakeHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(f.name)
}

func (f *fakeHandler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1
	cfg.Workflow.HeartbeatInterval = 1
	cfg.Workflow.LeaseTTL = 10
	return cfg
}

func newDispatcher(t *testing.T, cfg *config.Config, store *queue.Store, descs []stage.Descriptor, handlers map[string]stage.Handler) *dispatch.Dispatcher {
	t.Helper()
	artifacts, err := artifact.NewStore(cfg.Paths.DataDir)
	if err != nil {
		t.Fatalf("artifact.NewStore: %v", err)
	}
	registry, err := stage.NewRegistry(descs, handlers)
	if err != nil {
		t.Fatalf("stage.NewRegistry: %v", err)
	}
	d, err := dispatch.New(cfg, store, artifacts, registry, logging.NewNop())
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	return d
}

func waitForState(t *testing.T, store *queue.Store, jobID string, want queue.State, timeout time.Duration) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		job, err := store.GetByID(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if job != nil && job.State == want {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s never reached %s, last seen %#v", jobID, want, job)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDispatcherRunsPipelineToCompletion(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	descs := []stage.Descriptor{
		{Name: "first", Class: stage.ClassCPU, MaxRetries: 1, Timeout: time.Minute},
		{Name: "second", Class: stage.ClassCPU, MaxRetries: 1, Timeout: time.Minute},
	}
	handlers := map[string]stage.Handler{
		"first": &fakeHandler{name: "first", run: func(_ context.Context, exec *stage.Execution) ([]artifact.Ref, error) {
			exec.Progress(50, "halfway")
			return []artifact.Ref{{Zone: artifact.ZoneWorking, JobID: exec.JobID, Name: "mid.bin"}}, nil
		}},
		"second": &fakeHandler{name: "second", run: func(_ context.Context, exec *stage.Execution) ([]artifact.Ref, error) {
			if len(exec.Inputs) != 2 {
				return nil, fmt.Errorf("expected accumulated inputs, got %d", len(exec.Inputs))
			}
			return []artifact.Ref{{Zone: artifact.ZoneCompleted, JobID: exec.JobID, Name: "final.bin"}}, nil
		}},
	}

	d := newDispatcher(t, cfg, store, descs, handlers)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	job := testsupport.SubmitJob(t, store, "clip.mp4")
	done := waitForState(t, store, job.ID, queue.StateSucceeded, 10*time.Second)

	if len(done.Outputs) != 2 {
		t.Fatalf("expected 2 accumulated outputs, got %#v", done.Outputs)
	}
	attempts, err := store.Attempts(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	for _, a := range attempts {
		if a.Outcome != queue.OutcomeSuccess {
			t.Fatalf("unexpected attempt outcome: %#v", a)
		}
	}
}

func TestDispatcherRetriesUntilBudgetExhausted(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	const maxRetries = 1
	broken := &fakeHandler{name: "validate", run: func(context.Context, *stage.Execution) ([]artifact.Ref, error) {
		return nil, services.Wrap(services.ErrTransient, "validate", "probe", "probe crashed", errors.New("exit 1"))
	}}
	descs := []stage.Descriptor{
		{Name: "validate", Class: stage.ClassCPU, MaxRetries: maxRetries, Timeout: time.Minute},
	}

	d := newDispatcher(t, cfg, store, descs, map[string]stage.Handler{"validate": broken})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	job := testsupport.SubmitJob(t, store, "clip.mp4")
	failed := waitForState(t, store, job.ID, queue.StateFailed, 10*time.Second)

	if failed.ErrorMessage == "" {
		t.Fatal("expected failure detail on job")
	}
	if got := broken.callCount(); got != maxRetries+1 {
		t.Fatalf("expected %d executions, got %d", maxRetries+1, got)
	}
	attempts, _ := store.Attempts(context.Background(), job.ID)
	if len(attempts) != maxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", maxRetries+1, len(attempts))
	}
}

func TestDispatcherDoesNotRetryNonRetryableErrors(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	broken := &fakeHandler{name: "validate", run: func(context.Context, *stage.Execution) ([]artifact.Ref, error) {
		return nil, services.Wrap(services.ErrInvalidInput, "validate", "probe", "not a media file", nil)
	}}
	descs := []stage.Descriptor{
		{Name: "validate", Class: stage.ClassCPU, MaxRetries: 5, Timeout: time.Minute},
	}

	d := newDispatcher(t, cfg, store, descs, map[string]stage.Handler{"validate": broken})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	job := testsupport.SubmitJob(t, store, "clip.mp4")
	waitForState(t, store, job.ID, queue.StateFailed, 10*time.Second)

	if got := broken.callCount(); got != 1 {
		t.Fatalf("invalid input must not retry, got %d executions", got)
	}
}

func TestDispatcherDoesNotRetryNonIdempotentStages(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	broken := &fakeHandler{name: "package", run: func(context.Context, *stage.Execution) ([]artifact.Ref, error) {
		return nil, services.Wrap(services.ErrTransient, "package", "publish", "publish interrupted", nil)
	}}
	descs := []stage.Descriptor{
		{Name: "package", Class: stage.ClassCPU, MaxRetries: 5, Timeout: time.Minute, NonIdempotent: true},
	}

	d := newDispatcher(t, cfg, store, descs, map[string]stage.Handler{"package": broken})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	job := testsupport.SubmitJob(t, store, "clip.mp4")
	waitForState(t, store, job.ID, queue.StateFailed, 10*time.Second)

	if got := broken.callCount(); got != 1 {
		t.Fatalf("non-idempotent stage must not retry, got %d executions", got)
	}
}

func TestDispatcherRecoversAfterRetryableFailures(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	var failures atomic.Int32
	flaky := &fakeHandler{name: "transcode", run: func(_ context.Context, exec *stage.Execution) ([]artifact.Ref, error) {
		if failures.Add(1) <= 2 {
			return nil, services.Wrap(services.ErrExternalTool, "transcode", "encode", "encoder crashed", errors.New("exit 1"))
		}
		return []artifact.Ref{{Zone: artifact.ZoneWorking, JobID: exec.JobID, Name: "clip_720p.mp4"}}, nil
	}}
	clean := &fakeHandler{name: "package", run: func(_ context.Context, exec *stage.Execution) ([]artifact.Ref, error) {
		return []artifact.Ref{{Zone: artifact.ZoneCompleted, JobID: exec.JobID, Name: "manifest.json"}}, nil
	}}
	descs := []stage.Descriptor{
		{Name: "transcode", Class: stage.ClassCPU, MaxRetries: 3, Timeout: time.Minute},
		{Name: "package", Class: stage.ClassCPU, MaxRetries: 0, Timeout: time.Minute},
	}

	d := newDispatcher(t, cfg, store, descs, map[string]stage.Handler{"transcode": flaky, "package": clean})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	job := testsupport.SubmitJob(t, store, "clip.mp4")
	done := waitForState(t, store, job.ID, queue.StateSucceeded, 15*time.Second)
	if done.ErrorMessage != "" {
		t.Fatalf("succeeded job should clear error detail, got %q", done.ErrorMessage)
	}

	attempts, err := store.Attempts(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}
	wantOutcomes := []queue.Outcome{
		queue.OutcomeFailure, queue.OutcomeFailure, queue.OutcomeSuccess, queue.OutcomeSuccess,
	}
	if len(attempts) != len(wantOutcomes) {
		t.Fatalf("expected %d attempts, got %#v", len(wantOutcomes), attempts)
	}
	for i, a := range attempts {
		if a.Outcome != wantOutcomes[i] {
			t.Fatalf("attempt %d: expected %s, got %#v", i, wantOutcomes[i], a)
		}
	}
	// Two failed tries plus the recovery on the same stage, then the next
	// stage's counter starts fresh.
	if attempts[2].StageName != "transcode" || attempts[2].Attempt != 3 {
		t.Fatalf("unexpected recovery attempt: %#v", attempts[2])
	}
	if attempts[3].StageName != "package" || attempts[3].Attempt != 1 {
		t.Fatalf("unexpected final attempt: %#v", attempts[3])
	}
	if !attempts[0].Retryable || !attempts[1].Retryable {
		t.Fatalf("encoder crashes should audit as retryable: %#v", attempts[:2])
	}
}

func TestCancelDuringStageStopsAtStageBoundary(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	// The first stage finishes before any lease renewal can observe the
	// cancel flag, so the flag must be honored when the stage completes.
	first := &fakeHandler{name: "validate", run: func(_ context.Context, exec *stage.Execution) ([]artifact.Ref, error) {
		if _, err := store.Cancel(context.Background(), exec.JobID); err != nil {
			return nil, err
		}
		return []artifact.Ref{{Zone: artifact.ZoneWorking, JobID: exec.JobID, Name: "probe.json"}}, nil
	}}
	second := &fakeHandler{name: "transcode"}
	descs := []stage.Descriptor{
		{Name: "validate", Class: stage.ClassCPU, MaxRetries: 0, Timeout: time.Minute},
		{Name: "transcode", Class: stage.ClassCPU, MaxRetries: 0, Timeout: time.Minute},
	}

	d := newDispatcher(t, cfg, store, descs, map[string]stage.Handler{"validate": first, "transcode": second})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	job := testsupport.SubmitJob(t, store, "clip.mp4")
	final := waitForState(t, store, job.ID, queue.StateCancelled, 10*time.Second)

	if got := second.callCount(); got != 0 {
		t.Fatalf("stage after a cancel request must not run, got %d executions", got)
	}
	if len(final.Outputs) != 1 {
		t.Fatalf("completed stage output should persist: %#v", final.Outputs)
	}
	attempts, _ := store.Attempts(context.Background(), job.ID)
	if len(attempts) != 1 || attempts[0].Outcome != queue.OutcomeSuccess {
		t.Fatalf("expected the finished stage's attempt only, got %#v", attempts)
	}
}

func TestSingleWorkerLaneSerializesExecution(t *testing.T) {
	cfg := fastConfig(t)
	cfg.Workflow.Workers = map[string]int{"gpu": 1}
	store := testsupport.MustOpenStore(t, cfg)

	var concurrent, peak atomic.Int32
	slow := &fakeHandler{name: "transcribe", run: func(ctx context.Context, _ *stage.Execution) ([]artifact.Ref, error) {
		now := concurrent.Add(1)
		defer concurrent.Add(-1)
		for {
			prev := peak.Load()
			if now <= prev || peak.CompareAndSwap(prev, now) {
				break
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(150 * time.Millisecond):
		}
		return nil, nil
	}}
	descs := []stage.Descriptor{
		{Name: "transcribe", Class: stage.ClassGPU, MaxRetries: 0, Timeout: time.Minute},
	}

	d := newDispatcher(t, cfg, store, descs, map[string]stage.Handler{"transcribe": slow})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	a := testsupport.SubmitJob(t, store, "a.mp4")
	b := testsupport.SubmitJob(t, store, "b.mp4")
	waitForState(t, store, a.ID, queue.StateSucceeded, 15*time.Second)
	waitForState(t, store, b.ID, queue.StateSucceeded, 15*time.Second)

	if peak.Load() != 1 {
		t.Fatalf("single gpu worker must serialize execution, peak concurrency %d", peak.Load())
	}
}

func TestCancelRequestStopsRunningJob(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	started := make(chan struct{})
	var once sync.Once
	blocking := &fakeHandler{name: "transcode", run: func(ctx context.Context, _ *stage.Execution) ([]artifact.Ref, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	descs := []stage.Descriptor{
		{Name: "transcode", Class: stage.ClassCPU, MaxRetries: 3, Timeout: time.Minute},
	}

	d := newDispatcher(t, cfg, store, descs, map[string]stage.Handler{"transcode": blocking})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	job := testsupport.SubmitJob(t, store, "clip.mp4")
	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("handler never started")
	}

	if _, err := store.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	final := waitForState(t, store, job.ID, queue.StateCancelled, 10*time.Second)
	if !final.Terminal() {
		t.Fatal("cancelled must be terminal")
	}
	attempts, _ := store.Attempts(context.Background(), job.ID)
	if len(attempts) != 1 || attempts[0].Outcome != queue.OutcomeCancelled {
		t.Fatalf("expected one cancelled attempt, got %#v", attempts)
	}
}

func TestStatusReportsLanesAndStats(t *testing.T) {
	cfg := fastConfig(t)
	cfg.Workflow.Workers = map[string]int{"cpu": 2}
	store := testsupport.MustOpenStore(t, cfg)

	descs := []stage.Descriptor{
		{Name: "validate", Class: stage.ClassCPU, MaxRetries: 0, Timeout: time.Minute},
	}
	idle := &fakeHandler{name: "validate"}

	d := newDispatcher(t, cfg, store, descs, map[string]stage.Handler{"validate": idle})
	testsupport.SubmitJob(t, store, "clip.mp4")

	summary := d.Status(context.Background())
	if summary.Running {
		t.Fatal("dispatcher not started yet")
	}
	if summary.QueueStats[queue.StateQueued] != 1 {
		t.Fatalf("unexpected stats: %#v", summary.QueueStats)
	}
	if len(summary.Lanes) != 1 || summary.Lanes[0].Workers != 2 {
		t.Fatalf("unexpected lanes: %#v", summary.Lanes)
	}
	if len(summary.StageHealth) != 1 || !summary.StageHealth[0].Ready {
		t.Fatalf("unexpected stage health: %#v", summary.StageHealth)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !d.Healthy() {
		t.Fatal("running dispatcher should report healthy")
	}
	d.Stop()
	if d.Healthy() {
		t.Fatal("stopped dispatcher should report unhealthy")
	}
}
