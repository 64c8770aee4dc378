package testsupport

import (
	"context"
	"testing"

	"vidmill/internal/artifact"
	"vidmill/internal/config"
	"vidmill/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SubmitJob enqueues a job for tests using the provided store.
func SubmitJob(t testing.TB, store *queue.Store, name string) *queue.Job {
	t.Helper()

	job, err := store.Submit(context.Background(), queue.SubmitRequest{
		Submitter: "test",
		InputRef:  artifact.Ref{Zone: artifact.ZoneIncoming, Name: name},
	})
	if err != nil {
		t.Fatalf("store.Submit: %v", err)
	}
	return job
}
