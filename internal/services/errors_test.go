package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"vidmill/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("disk quota exceeded")
	err := services.Wrap(services.ErrStorageUnavailable, "transcode", "write mezzanine", "cannot persist output", base)
	if !errors.Is(err, services.ErrStorageUnavailable) {
		t.Fatalf("expected storage marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped cause to survive")
	}
	if !strings.Contains(err.Error(), "transcode: write mezzanine") {
		t.Fatalf("expected stage detail in message, got %q", err)
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "validate", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient default, got %v", err)
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"invalid input", services.Wrap(services.ErrInvalidInput, "validate", "probe", "unreadable", nil), false},
		{"not found", services.ErrNotFound, false},
		{"terminal", services.Wrap(services.ErrTerminal, "transcode", "", "codec unsupported", nil), false},
		{"storage", services.ErrStorageUnavailable, true},
		{"external tool", services.Wrap(services.ErrExternalTool, "thumbnail", "ffmpeg", "exit 1", nil), true},
		{"deadline", fmt.Errorf("stage: %w", context.DeadlineExceeded), true},
		{"unclassified", errors.New("connection reset"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Retryable(tc.err); got != tc.retryable {
				t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.retryable)
			}
		})
	}
}

func TestIsTimeout(t *testing.T) {
	if !services.IsTimeout(fmt.Errorf("x: %w", context.DeadlineExceeded)) {
		t.Fatal("expected deadline to classify as timeout")
	}
	if services.IsTimeout(errors.New("other")) {
		t.Fatal("unexpected timeout classification")
	}
}
