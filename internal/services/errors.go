package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput marks caller errors at submission; never retried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorageUnavailable marks transient artifact store failures; retryable.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrNotFound marks missing jobs or artifact references; never retried.
	ErrNotFound = errors.New("not found")
	// ErrExternalTool marks failures of external commands invoked by stage
	// handlers; retryable unless the handler wraps with a terminal marker.
	ErrExternalTool = errors.New("external tool error")
	// ErrTransient marks failures expected to clear on a later attempt.
	ErrTransient = errors.New("transient failure")
	// ErrTerminal marks handler failures that must not be retried.
	ErrTerminal = errors.New("terminal failure")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later retry classification. The marker should
// be one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a stage error should consume one of the stage's
// configured retries and be re-queued, rather than failing the job outright.
// Deadline exhaustion counts as retryable; idempotency policy for timed-out
// stages is applied by the dispatcher, which consults the stage descriptor.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrTerminal):
		return false
	case errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, ErrTransient),
		errors.Is(err, ErrExternalTool),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		// Unclassified handler errors default to retryable so transient
		// faults in external tooling do not strand jobs.
		return true
	}
}

// IsTimeout reports whether the error stems from a stage deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
