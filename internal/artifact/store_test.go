package artifact_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vidmill/internal/artifact"
	"vidmill/internal/services"
)

func newStore(t *testing.T) *artifact.Store {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newStore(t)
	ref, err := store.Put(artifact.ZoneIncoming, "job-1", "input.mp4", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ref.String() != "incoming/job-1/input.mp4" {
		t.Fatalf("unexpected ref: %s", ref)
	}

	rc, err := store.Get(ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected content: %q", data)
	}

	size, err := store.Stat(ref)
	if err != nil || size != int64(len("payload")) {
		t.Fatalf("Stat = %d, %v", size, err)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	store := newStore(t)
	_, err := store.Get(artifact.Ref{Zone: artifact.ZoneWorking, JobID: "job-x", Name: "absent.bin"})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPutRejectsTraversalNames(t *testing.T) {
	store := newStore(t)
	if _, err := store.Put(artifact.ZoneIncoming, "job-1", "../escape", strings.NewReader("x")); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := store.Put(artifact.ZoneIncoming, "job-1", "a/b", strings.NewReader("x")); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected invalid input for nested name, got %v", err)
	}
}

func TestMoveTransfersZones(t *testing.T) {
	store := newStore(t)
	ref, err := store.Put(artifact.ZoneWorking, "job-2", "mezzanine.mp4", strings.NewReader("video"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	moved, err := store.Move(ref, artifact.ZoneCompleted)
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if moved.Zone != artifact.ZoneCompleted {
		t.Fatalf("unexpected zone: %s", moved.Zone)
	}
	if _, err := store.Get(ref); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("source should be gone, got %v", err)
	}
	if _, err := store.Get(moved); err != nil {
		t.Fatalf("destination missing: %v", err)
	}
}

func TestCompletedZoneIsImmutable(t *testing.T) {
	store := newStore(t)
	ref, err := store.Put(artifact.ZoneCompleted, "job-3", "final.mp4", strings.NewReader("v1"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := store.Put(artifact.ZoneCompleted, "job-3", "final.mp4", strings.NewReader("v2")); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}
	if _, err := store.Move(ref, artifact.ZoneWorking); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected move-out refusal, got %v", err)
	}

	// A second job moving its own artifact onto an existing completed file
	// must also be refused.
	working, err := store.Put(artifact.ZoneWorking, "job-3", "final.mp4", strings.NewReader("v2"))
	if err != nil {
		t.Fatalf("Put working: %v", err)
	}
	if _, err := store.Move(working, artifact.ZoneCompleted); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected completed collision refusal, got %v", err)
	}
}

func TestDeleteJobZone(t *testing.T) {
	store := newStore(t)
	if _, err := store.Put(artifact.ZoneWorking, "job-4", "a.bin", strings.NewReader("a")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Put(artifact.ZoneWorking, "job-4", "b.bin", strings.NewReader("b")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := store.DeleteJobZone(artifact.ZoneWorking, "job-4"); err != nil {
		t.Fatalf("DeleteJobZone: %v", err)
	}
	refs, err := store.List(artifact.ZoneWorking, "job-4")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("expected empty zone, got %v", refs)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "working", "job-4")); !os.IsNotExist(err) {
		t.Fatalf("job dir should be removed: %v", err)
	}
}

func TestListOrdersAndSkipsDirs(t *testing.T) {
	store := newStore(t)
	for _, name := range []string{"b.bin", "a.bin"} {
		if _, err := store.Put(artifact.ZoneProcessing, "job-5", name, strings.NewReader("x")); err != nil {
			t.Fatalf("Put %s: %v", name, err)
		}
	}
	refs, err := store.List(artifact.ZoneProcessing, "job-5")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(refs) != 2 || refs[0].Name != "a.bin" || refs[1].Name != "b.bin" {
		t.Fatalf("unexpected listing: %v", refs)
	}
}

func TestParseRefRoundTrip(t *testing.T) {
	ref := artifact.Ref{Zone: artifact.ZoneCompleted, JobID: "job-6", Name: "manifest.json"}
	parsed, err := artifact.ParseRef(ref.String())
	if err != nil {
		t.Fatalf("ParseRef: %v", err)
	}
	if parsed != ref {
		t.Fatalf("round trip mismatch: %v vs %v", parsed, ref)
	}
	if _, err := artifact.ParseRef("outputs/job/x"); err == nil {
		t.Fatal("expected unknown zone error")
	}
}

func TestFreeSpaceMB(t *testing.T) {
	store := newStore(t)
	free, err := store.FreeSpaceMB()
	if err != nil {
		t.Fatalf("FreeSpaceMB: %v", err)
	}
	if free <= 0 {
		t.Fatalf("expected positive free space, got %d", free)
	}
}
