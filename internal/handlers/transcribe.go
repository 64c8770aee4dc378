package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"vidmill/internal/artifact"
	"vidmill/internal/config"
	"vidmill/internal/services"
	"vidmill/internal/stage"
)

// Transcriber runs the speech-to-text tool against the submitted media and
// stores the resulting subtitle track. It is the only GPU-class built-in.
type Transcriber struct {
	bin string
	run commandRunner
}

// NewTranscriber constructs the transcribe stage handler.
func NewTranscriber(cfg *config.Config) *Transcriber {
	return &Transcriber{
		bin: cfg.Tools.TranscriberBin,
		run: defaultCommandRunner,
	}
}

// WithCommandRunner injects a custom command runner for tests.
func (t *Transcriber) WithCommandRunner(run commandRunner) {
	if run != nil {
		t.run = run
	}
}

func (t *Transcriber) Name() string { return "transcribe" }

func (t *Transcriber) Run(ctx context.Context, exec *stage.Execution) ([]artifact.Ref, error) {
	src := exec.Store.Path(exec.Input)
	scratch, err := os.MkdirTemp("", "vidmill-transcribe-")
	if err != nil {
		return nil, services.Wrap(services.ErrStorageUnavailable, t.Name(), "scratch", "", err)
	}
	defer os.RemoveAll(scratch)

	dest := filepath.Join(scratch, "transcript.srt")
	exec.Progress(5, "transcribing audio")
	if _, err := t.run(ctx, t.bin,
		"--input", src,
		"--format", "srt",
		"--output", dest,
	); err != nil {
		return nil, toolErr(t.Name(), "transcriber", fmt.Sprintf("transcribe %s", exec.Input), err)
	}

	ref, err := putFile(t.Name(), exec.Store, artifact.ZoneWorking, exec.JobID, "transcript.srt", dest)
	if err != nil {
		return nil, err
	}
	exec.Progress(100, "transcript ready")
	return []artifact.Ref{ref}, nil
}

func (t *Transcriber) HealthCheck(context.Context) stage.Health {
	return binaryHealth(t.Name(), t.bin)
}
