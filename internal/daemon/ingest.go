package daemon

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"vidmill/internal/artifact"
	"vidmill/internal/logging"
	"vidmill/internal/queue"
	"vidmill/internal/services"
)

// SubmitJob copies a source file into the incoming zone and enqueues a job
// for it. The artifact lands under the job's ID before the record becomes
// claimable, so no worker can observe a job without its input.
func (d *Daemon) SubmitJob(ctx context.Context, sourcePath, submitter string, priority int) (*queue.Job, error) {
	info, err := os.Stat(sourcePath)
	switch {
	case err == nil:
	case os.IsNotExist(err):
		return nil, services.Wrap(services.ErrInvalidInput, "submit", "stat",
			fmt.Sprintf("source file %s does not exist", sourcePath), err)
	default:
		return nil, services.Wrap(services.ErrStorageUnavailable, "submit", "stat",
			fmt.Sprintf("cannot read source file %s", sourcePath), err)
	}
	if !info.Mode().IsRegular() {
		return nil, services.Wrap(services.ErrInvalidInput, "submit", "stat",
			fmt.Sprintf("source %s is not a regular file", sourcePath), fs.ErrInvalid)
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return nil, services.Wrap(services.ErrStorageUnavailable, "submit", "open",
			fmt.Sprintf("cannot open source file %s", sourcePath), err)
	}
	defer src.Close()

	id := uuid.NewString()
	ref, err := d.artifacts.Put(artifact.ZoneIncoming, id, filepath.Base(sourcePath), src)
	if err != nil {
		return nil, err
	}

	job, err := d.store.Submit(ctx, queue.SubmitRequest{
		ID:        id,
		Submitter: submitter,
		InputRef:  ref,
		Priority:  priority,
	})
	if err != nil {
		if delErr := d.artifacts.Delete(ref); delErr != nil {
			d.logger.Warn("failed to remove staged input after submit failure",
				logging.String(logging.FieldJobID, id),
				logging.Error(delErr),
			)
		}
		return nil, err
	}

	d.logger.Info("job submitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("input", ref.String()),
		logging.Int("priority", priority),
	)
	return job, nil
}
