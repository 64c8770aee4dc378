package handlers

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"vidmill/internal/services"
	"vidmill/internal/stage"
)

// commandRunner abstracts external tool invocation so tests can intercept it.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, tailOf(stderr.String(), 512))
	}
	return stdout.Bytes(), nil
}

func tailOf(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}

func toolErr(stageName, operation, message string, err error) error {
	return services.Wrap(services.ErrExternalTool, stageName, operation, message, err)
}

// binaryHealth probes PATH for the configured binary.
func binaryHealth(stageName, binary string) stage.Health {
	if strings.TrimSpace(binary) == "" {
		return stage.Unhealthy(stageName, "binary not configured")
	}
	if _, err := exec.LookPath(binary); err != nil {
		return stage.Unhealthy(stageName, fmt.Sprintf("binary %q not found", binary))
	}
	return stage.Healthy(stageName)
}
