package logging_test

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"vidmill/internal/logging"
	"vidmill/internal/services"
)

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestConsoleOutputIncludesComponentAndAttrs(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/out.log"
	logger, err := logging.New(logging.Options{Level: "debug", Format: "console", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logging.NewComponentLogger(logger, "dispatcher").Info("lane started", logging.String("resource_class", "gpu"), logging.Int("slots", 1))

	data := readFile(t, path)
	if !strings.Contains(data, "dispatcher: lane started") {
		t.Fatalf("missing component prefix: %q", data)
	}
	if !strings.Contains(data, "resource_class=gpu") || !strings.Contains(data, "slots=1") {
		t.Fatalf("missing attrs: %q", data)
	}
}

func TestJSONOutputUsesLowercaseLevel(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/out.json"
	logger, err := logging.New(logging.Options{Level: "info", Format: "json", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Warn("queue depth high", logging.Int("depth", 42))

	data := readFile(t, path)
	if !strings.Contains(data, `"level":"warn"`) {
		t.Fatalf("expected lowercase level key: %q", data)
	}
	if !strings.Contains(data, `"depth":42`) {
		t.Fatalf("expected depth attr: %q", data)
	}
}

func TestWithContextAddsStandardFields(t *testing.T) {
	recorder := &recordingHandler{}
	logger := slog.New(recorder)

	ctx := services.WithJobID(context.Background(), "job-7")
	ctx = services.WithStage(ctx, "transcribe")
	logging.WithContext(ctx, logger).Info("stage started")

	if !recorder.has(logging.FieldJobID, "job-7") {
		t.Fatalf("missing job_id attr: %#v", recorder.attrs)
	}
	if !recorder.has(logging.FieldStage, "transcribe") {
		t.Fatalf("missing stage attr: %#v", recorder.attrs)
	}
}

type recordingHandler struct {
	attrs map[string]string
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, record slog.Record) error {
	if h.attrs == nil {
		h.attrs = map[string]string{}
	}
	record.Attrs(func(attr slog.Attr) bool {
		h.attrs[attr.Key] = attr.Value.String()
		return true
	})
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if h.attrs == nil {
		h.attrs = map[string]string{}
	}
	for _, attr := range attrs {
		h.attrs[attr.Key] = attr.Value.String()
	}
	return h
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func (h *recordingHandler) has(key, value string) bool {
	return h.attrs[key] == value
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
