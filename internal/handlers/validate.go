package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"vidmill/internal/artifact"
	"vidmill/internal/config"
	"vidmill/internal/services"
	"vidmill/internal/stage"
)

// Validator probes the submitted file with ffprobe and rejects anything
// without a video stream. The probe report is kept as a working artifact so
// later stages can consult stream metadata without probing again.
type Validator struct {
	ffprobe string
	run     commandRunner
}

// NewValidator constructs the validate stage handler.
func NewValidator(cfg *config.Config) *Validator {
	return &Validator{
		ffprobe: cfg.Tools.FFprobeBin,
		run:     defaultCommandRunner,
	}
}

// WithCommandRunner injects a custom command runner for tests.
func (v *Validator) WithCommandRunner(run commandRunner) {
	if run != nil {
		v.run = run
	}
}

func (v *Validator) Name() string { return "validate" }

type probeReport struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
}

func (v *Validator) Run(ctx context.Context, exec *stage.Execution) ([]artifact.Ref, error) {
	src := exec.Store.Path(exec.Input)
	exec.Progress(10, "probing input")

	out, err := v.run(ctx, v.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		src,
	)
	if err != nil {
		return nil, toolErr(v.Name(), "ffprobe", fmt.Sprintf("probe %s", exec.Input), err)
	}

	var report probeReport
	if err := json.Unmarshal(out, &report); err != nil {
		return nil, toolErr(v.Name(), "ffprobe", "unreadable probe output", err)
	}
	hasVideo := false
	for _, stream := range report.Streams {
		if stream.CodecType == "video" {
			hasVideo = true
			break
		}
	}
	if !hasVideo {
		return nil, services.Wrap(services.ErrInvalidInput, v.Name(), "probe",
			fmt.Sprintf("%s contains no video stream", exec.Input), nil)
	}
	if duration, err := strconv.ParseFloat(report.Format.Duration, 64); err != nil || duration <= 0 {
		return nil, services.Wrap(services.ErrInvalidInput, v.Name(), "probe",
			fmt.Sprintf("%s reports no playable duration", exec.Input), nil)
	}

	ref, err := exec.Store.Put(artifact.ZoneWorking, exec.JobID, "probe.json", bytes.NewReader(out))
	if err != nil {
		return nil, err
	}
	exec.Progress(100, "input validated")
	return []artifact.Ref{ref}, nil
}

func (v *Validator) HealthCheck(context.Context) stage.Health {
	return binaryHealth(v.Name(), v.ffprobe)
}
