package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vidmill/internal/queue"
	"vidmill/internal/testsupport"
)

func TestSubmitCommandReportsQueuedJob(t *testing.T) {
	srv := newStubAPI(t, map[string]stubResponse{
		"POST /api/jobs": {status: 202, body: `{"id": "job-1", "state": "queued", "input": "incoming/job-1/movie.mkv", "progress": {}}`},
	})

	stdout, _, err := runCLI(t, []string{"submit", "/media/movie.mkv"}, srv.URL, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireContains(t, stdout, "Job job-1 queued")
	requireContains(t, stdout, "incoming/job-1/movie.mkv")
}

func TestSubmitCommandSurfacesDaemonError(t *testing.T) {
	srv := newStubAPI(t, map[string]stubResponse{
		"POST /api/jobs": {status: 400, body: `{"error": "source file does not exist"}`},
	})

	_, _, err := runCLI(t, []string{"submit", "/media/missing.mkv"}, srv.URL, "")
	if err == nil {
		t.Fatal("expected error")
	}
	requireContains(t, err.Error(), "source file does not exist")
}

func TestJobsListRendersTable(t *testing.T) {
	srv := newStubAPI(t, map[string]stubResponse{
		"GET /api/jobs": {status: 200, body: `{"jobs": [
			{"id": "aaaaaaaa-1111", "state": "running", "stageOrdinal": 1, "input": "incoming/a/one.mkv", "progress": {"stage": "Transcode", "percent": 50}},
			{"id": "bbbbbbbb-2222", "state": "queued", "stageOrdinal": 0, "input": "incoming/b/two.mkv", "progress": {}}
		]}`},
	})

	stdout, _, err := runCLI(t, []string{"jobs", "list"}, srv.URL, "")
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	requireContains(t, stdout, "aaaaaaaa")
	requireContains(t, stdout, "running")
	requireContains(t, stdout, "Transcode 50%")
	requireContains(t, stdout, "incoming/b/two.mkv")
}

func TestJobsListRejectsUnknownState(t *testing.T) {
	_, _, err := runCLI(t, []string{"jobs", "list", "--state", "bogus"}, "http://127.0.0.1:1", "")
	if err == nil {
		t.Fatal("expected error for unknown state")
	}
	requireContains(t, err.Error(), "unknown state")
}

func TestJobsShowRendersAttempts(t *testing.T) {
	srv := newStubAPI(t, map[string]stubResponse{
		"GET /api/jobs/job-9": {status: 200, body: `{
			"job": {"id": "job-9", "state": "failed", "stageOrdinal": 1, "input": "incoming/job-9/clip.mkv",
				"errorMessage": "external tool error", "progress": {}},
			"attempts": [
				{"stageOrdinal": 1, "stageName": "transcode", "attempt": 1, "outcome": "failure", "errorDetail": "exit status 1", "retryable": true}
			]
		}`},
	})

	stdout, _, err := runCLI(t, []string{"jobs", "show", "job-9"}, srv.URL, "")
	if err != nil {
		t.Fatalf("jobs show: %v", err)
	}
	requireContains(t, stdout, "Job job-9")
	requireContains(t, stdout, "failed")
	requireContains(t, stdout, "external tool error")
	requireContains(t, stdout, "transcode")
	requireContains(t, stdout, "exit status 1")
}

func TestJobsCancelReportsOutcome(t *testing.T) {
	srv := newStubAPI(t, map[string]stubResponse{
		"POST /api/jobs/job-3/cancel": {status: 200, body: `{"id": "job-3", "state": "running", "cancelRequested": true, "progress": {}}`},
	})

	stdout, _, err := runCLI(t, []string{"jobs", "cancel", "job-3"}, srv.URL, "")
	if err != nil {
		t.Fatalf("jobs cancel: %v", err)
	}
	requireContains(t, stdout, "will stop after the current stage")
}

func TestStatusCommandRendersSections(t *testing.T) {
	srv := newStubAPI(t, map[string]stubResponse{
		"GET /api/status": {status: 200, body: `{
			"running": true, "pid": 4242,
			"jobStats": {"queued": 2, "running": 1, "succeeded": 0, "failed": 0, "cancelled": 0},
			"stageDepths": {},
			"dispatcher": {
				"running": true,
				"lanes": [{"class": "cpu", "workers": 2}, {"class": "gpu", "workers": 1}],
				"stageHealth": [
					{"name": "validate", "ready": true},
					{"name": "transcribe", "ready": false, "detail": "binary \"whisper-ctl\" not found"}
				]
			},
			"freeSpaceMb": 2048
		}`},
	})

	stdout, _, err := runCLI(t, []string{"status"}, srv.URL, "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, stdout, "pid 4242")
	requireContains(t, stdout, "cpu x2, gpu x1")
	requireContains(t, stdout, "2048 MB")
	requireContains(t, stdout, "whisper-ctl")
	requireContains(t, stdout, "queued")
}

func TestJobsClearRemovesTerminalRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := writeTestConfig(t, cfg)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.SubmitJob(t, store, "movie.mkv")
	failJob(t, store, job.ID)
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	stdout, _, err := runCLI(t, []string{"jobs", "clear"}, "", configPath)
	if err != nil {
		t.Fatalf("jobs clear: %v", err)
	}
	requireContains(t, stdout, "Removed 1 finished job records")

	reopened, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()
	remaining, err := reopened.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected empty store, found %d jobs", len(remaining))
	}
}

func TestJobsRetryRequeuesFailedJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := writeTestConfig(t, cfg)
	store := testsupport.MustOpenStore(t, cfg)

	job := testsupport.SubmitJob(t, store, "movie.mkv")
	failJob(t, store, job.ID)
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	stdout, _, err := runCLI(t, []string{"jobs", "retry", job.ID}, "", configPath)
	if err != nil {
		t.Fatalf("jobs retry: %v", err)
	}
	requireContains(t, stdout, "requeued at stage 0")

	reopened, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got == nil || got.State != queue.StateQueued {
		t.Fatalf("expected queued job, got %+v", got)
	}
}

func TestConfigInitWritesSampleFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	stdout, _, err := runCLI(t, []string{"config", "init", "-p", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, stdout, target)
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}
}

// failJob drives a queued job to the failed state through the normal claim
// and failure path.
func failJob(t *testing.T, store *queue.Store, jobID string) {
	t.Helper()
	ctx := context.Background()
	claimed, err := store.ClaimNext(ctx, "test-worker", time.Minute, []int{0})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != jobID {
		t.Fatalf("claimed %+v, want job %s", claimed, jobID)
	}
	now := time.Now().UTC()
	_, err = store.RecordFailure(ctx, jobID, "test-worker", queue.AttemptRecord{
		StageName:   "validate",
		StartedAt:   now,
		FinishedAt:  now,
		ErrorDetail: "stage failed",
		Retryable:   false,
	}, 0)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
}
