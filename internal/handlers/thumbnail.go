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

// Thumbnailer extracts evenly spaced still frames from the submitted media.
type Thumbnailer struct {
	ffmpeg string
	count  int
	run    commandRunner
}

// NewThumbnailer constructs the thumbnail stage handler.
func NewThumbnailer(cfg *config.Config) *Thumbnailer {
	count := cfg.Tools.ThumbnailCount
	if count <= 0 {
		count = 3
	}
	return &Thumbnailer{
		ffmpeg: cfg.Tools.FFmpegBin,
		count:  count,
		run:    defaultCommandRunner,
	}
}

// WithCommandRunner injects a custom command runner for tests.
func (h *Thumbnailer) WithCommandRunner(run commandRunner) {
	if run != nil {
		h.run = run
	}
}

func (h *Thumbnailer) Name() string { return "thumbnail" }

func (h *Thumbnailer) Run(ctx context.Context, exec *stage.Execution) ([]artifact.Ref, error) {
	src := exec.Store.Path(exec.Input)
	scratch, err := os.MkdirTemp("", "vidmill-thumbnail-")
	if err != nil {
		return nil, services.Wrap(services.ErrStorageUnavailable, h.Name(), "scratch", "", err)
	}
	defer os.RemoveAll(scratch)

	refs := make([]artifact.Ref, 0, h.count)
	for i := 0; i < h.count; i++ {
		exec.Progress(float64(i)/float64(h.count)*100,
			fmt.Sprintf("extracting frame %d of %d", i+1, h.count))

		// Offsets spread across the timeline without probing duration:
		// ffmpeg clamps a seek past end-of-stream to the final frame.
		offset := fmt.Sprintf("%d", i*30)
		name := fmt.Sprintf("thumb_%02d.jpg", i+1)
		dest := filepath.Join(scratch, name)
		if _, err := h.run(ctx, h.ffmpeg,
			"-y",
			"-ss", offset,
			"-i", src,
			"-frames:v", "1",
			"-q:v", "2",
			dest,
		); err != nil {
			return nil, toolErr(h.Name(), "ffmpeg", fmt.Sprintf("extract %s", name), err)
		}

		ref, err := putFile(h.Name(), exec.Store, artifact.ZoneWorking, exec.JobID, name, dest)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	exec.Progress(100, "thumbnails complete")
	return refs, nil
}

func (h *Thumbnailer) HealthCheck(context.Context) stage.Health {
	return binaryHealth(h.Name(), h.ffmpeg)
}
