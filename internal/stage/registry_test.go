package stage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vidmill/internal/artifact"
	"vidmill/internal/stage"
)

type nopHandler struct {
	name string
}

func (h nopHandler) Name() string { return h.name }

func (h nopHandler) Run(context.Context, *stage.Execution) ([]artifact.Ref, error) {
	return nil, nil
}

func (h nopHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(h.name)
}

func handlerSet(names ...string) map[string]stage.Handler {
	out := make(map[string]stage.Handler, len(names))
	for _, name := range names {
		out[name] = nopHandler{name: name}
	}
	return out
}

func TestNewRegistryAssignsOrdinals(t *testing.T) {
	descs := []stage.Descriptor{
		{Name: "validate", Timeout: time.Minute},
		{Name: "transcode", Timeout: time.Minute},
		{Name: "transcribe", Class: stage.ClassGPU, Timeout: time.Minute},
	}
	reg, err := stage.NewRegistry(descs, handlerSet("validate", "transcode", "transcribe"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if reg.Len() != 3 {
		t.Fatalf("Len = %d", reg.Len())
	}
	for i, want := range []string{"validate", "transcode", "transcribe"} {
		desc, ok := reg.At(i)
		if !ok || desc.Name != want || desc.Ordinal != i {
			t.Fatalf("At(%d) = %+v, %v", i, desc, ok)
		}
	}
	if gpu := reg.OrdinalsForClass(stage.ClassGPU); len(gpu) != 1 || gpu[0] != 2 {
		t.Fatalf("gpu ordinals = %v", gpu)
	}
	if cpu := reg.OrdinalsForClass(stage.ClassCPU); len(cpu) != 2 {
		t.Fatalf("cpu ordinals = %v", cpu)
	}
	classes := reg.Classes()
	if len(classes) != 2 || classes[0] != stage.ClassCPU || classes[1] != stage.ClassGPU {
		t.Fatalf("classes = %v", classes)
	}
}

func TestNewRegistryRejectsUnboundHandler(t *testing.T) {
	descs := []stage.Descriptor{{Name: "validate", Timeout: time.Minute}}
	if _, err := stage.NewRegistry(descs, handlerSet("other")); err == nil {
		t.Fatal("expected unbound handler error")
	}
}

func TestNewRegistryRejectsDuplicateNames(t *testing.T) {
	descs := []stage.Descriptor{
		{Name: "validate", Timeout: time.Minute},
		{Name: "validate", Timeout: time.Minute},
	}
	if _, err := stage.NewRegistry(descs, handlerSet("validate")); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestNewRegistryRejectsZeroTimeout(t *testing.T) {
	descs := []stage.Descriptor{{Name: "validate"}}
	if _, err := stage.NewRegistry(descs, handlerSet("validate")); err == nil {
		t.Fatal("expected timeout validation error")
	}
}

func TestLoadPipeline(t *testing.T) {
	body := `
pipeline:
  - name: validate
    resource_class: cpu
    max_retries: 1
    timeout_seconds: 60
  - name: infer
    handler: transcribe
    resource_class: gpu
    max_retries: 3
    timeout_seconds: 900
    non_idempotent: true
`
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	descs, err := stage.LoadPipeline(path)
	if err != nil {
		t.Fatalf("LoadPipeline: %v", err)
	}
	if len(descs) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(descs))
	}
	if descs[1].Name != "infer" || descs[1].HandlerName != "transcribe" || descs[1].Class != stage.ClassGPU {
		t.Fatalf("unexpected second stage: %+v", descs[1])
	}
	if descs[1].Timeout != 15*time.Minute || !descs[1].NonIdempotent {
		t.Fatalf("unexpected timing fields: %+v", descs[1])
	}

	reg, err := stage.NewRegistry(descs, handlerSet("validate", "transcribe"))
	if err != nil {
		t.Fatalf("NewRegistry from file: %v", err)
	}
	if desc, _ := reg.At(1); desc.HandlerName != "transcribe" {
		t.Fatalf("handler binding lost: %+v", desc)
	}
}

func TestDefaultPipelineBindsBuiltins(t *testing.T) {
	descs := stage.DefaultPipeline()
	names := make([]string, 0, len(descs))
	for _, d := range descs {
		names = append(names, d.Name)
	}
	if _, err := stage.NewRegistry(descs, handlerSet(names...)); err != nil {
		t.Fatalf("default pipeline must be valid: %v", err)
	}
	if descs[2].Class != stage.ClassGPU {
		t.Fatalf("transcribe should be gpu-bound: %+v", descs[2])
	}
}

func TestDescriptorLabel(t *testing.T) {
	desc := stage.Descriptor{Name: "episode_split"}
	if got := desc.Label(); got != "Episode Split" {
		t.Fatalf("Label = %q", got)
	}
}
