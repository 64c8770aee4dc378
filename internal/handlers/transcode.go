package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vidmill/internal/artifact"
	"vidmill/internal/config"
	"vidmill/internal/services"
	"vidmill/internal/stage"
)

// presetHeights maps rendition preset names to target frame heights.
var presetHeights = map[string]int{
	"1080p": 1080,
	"720p":  720,
	"480p":  480,
}

// Transcoder renders one output per configured preset with ffmpeg.
type Transcoder struct {
	ffmpeg  string
	presets []string
	run     commandRunner
}

// NewTranscoder constructs the transcode stage handler.
func NewTranscoder(cfg *config.Config) *Transcoder {
	presets := cfg.Tools.TranscodePresets
	if len(presets) == 0 {
		presets = []string{"720p"}
	}
	return &Transcoder{
		ffmpeg:  cfg.Tools.FFmpegBin,
		presets: presets,
		run:     defaultCommandRunner,
	}
}

// WithCommandRunner injects a custom command runner for tests.
func (t *Transcoder) WithCommandRunner(run commandRunner) {
	if run != nil {
		t.run = run
	}
}

func (t *Transcoder) Name() string { return "transcode" }

func (t *Transcoder) Run(ctx context.Context, exec *stage.Execution) ([]artifact.Ref, error) {
	for _, preset := range t.presets {
		if _, ok := presetHeights[preset]; !ok {
			return nil, services.Wrap(services.ErrInvalidInput, t.Name(), "presets",
				fmt.Sprintf("unknown transcode preset %q", preset), nil)
		}
	}

	src := exec.Store.Path(exec.Input)
	scratch, err := os.MkdirTemp("", "vidmill-transcode-")
	if err != nil {
		return nil, services.Wrap(services.ErrStorageUnavailable, t.Name(), "scratch", "", err)
	}
	defer os.RemoveAll(scratch)

	base := strings.TrimSuffix(exec.Input.Name, filepath.Ext(exec.Input.Name))
	refs := make([]artifact.Ref, 0, len(t.presets))
	for i, preset := range t.presets {
		exec.Progress(float64(i)/float64(len(t.presets))*100,
			fmt.Sprintf("rendering %s", preset))

		name := fmt.Sprintf("%s_%s.mp4", base, preset)
		dest := filepath.Join(scratch, name)
		args := []string{
			"-y",
			"-i", src,
			"-vf", fmt.Sprintf("scale=-2:%d", presetHeights[preset]),
			"-c:v", "libx264",
			"-preset", "medium",
			"-c:a", "aac",
			dest,
		}
		if _, err := t.run(ctx, t.ffmpeg, args...); err != nil {
			return nil, toolErr(t.Name(), "ffmpeg", fmt.Sprintf("render %s", preset), err)
		}

		ref, err := putFile(t.Name(), exec.Store, artifact.ZoneWorking, exec.JobID, name, dest)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	exec.Progress(100, "renditions complete")
	return refs, nil
}

func (t *Transcoder) HealthCheck(context.Context) stage.Health {
	return binaryHealth(t.Name(), t.ffmpeg)
}

// putFile streams a scratch file produced by an external tool into the store.
func putFile(stageName string, store *artifact.Store, zone artifact.Zone, jobID, name, path string) (artifact.Ref, error) {
	f, err := os.Open(path)
	if err != nil {
		return artifact.Ref{}, services.Wrap(services.ErrExternalTool, stageName, "collect output",
			fmt.Sprintf("expected output %s was not produced", filepath.Base(path)), err)
	}
	defer f.Close()
	return store.Put(zone, jobID, name, f)
}
