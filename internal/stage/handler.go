package stage

import (
	"context"
	"log/slog"

	"vidmill/internal/artifact"
)

// Execution carries everything a handler may touch during one stage attempt.
// The dispatcher owns the surrounding lease, retry, and timeout machinery;
// handlers only transform artifacts.
type Execution struct {
	JobID   string
	Stage   Descriptor
	Attempt int
	// Input is the artifact the job was submitted with.
	Input artifact.Ref
	// Inputs lists the input artifact plus every output produced by earlier
	// stages, in production order.
	Inputs []artifact.Ref
	Store  *artifact.Store
	Logger *slog.Logger
	// Progress reports stage progress for the status surface. Never nil.
	Progress func(percent float64, message string)
}

// Handler is the pluggable stage contract. Run must honor ctx cancellation at
// its checkpoints: the context is cancelled on job cancellation and carries
// the stage's attempt deadline. Returned errors are classified through
// services.Retryable unless the handler wrapped them with an explicit marker.
type Handler interface {
	Name() string
	Run(ctx context.Context, exec *Execution) ([]artifact.Ref, error)
	HealthCheck(ctx context.Context) Health
}
