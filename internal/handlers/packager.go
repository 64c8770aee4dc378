package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"vidmill/internal/artifact"
	"vidmill/internal/config"
	"vidmill/internal/services"
	"vidmill/internal/stage"
)

// Packager promotes every working artifact into the completed zone and seals
// the job with a manifest. Moves are not reversible once the completed zone
// accepts a file, so the default pipeline marks this stage non-idempotent.
type Packager struct{}

// NewPackager constructs the package stage handler.
func NewPackager(*config.Config) *Packager { return &Packager{} }

func (p *Packager) Name() string { return "package" }

type manifestEntry struct {
	Name  string `json:"name"`
	Bytes int64  `json:"bytes"`
}

type manifest struct {
	JobID       string          `json:"jobId"`
	Source      string          `json:"source"`
	PackagedAt  time.Time       `json:"packagedAt"`
	Deliverable []manifestEntry `json:"deliverables"`
}

func (p *Packager) Run(ctx context.Context, exec *stage.Execution) ([]artifact.Ref, error) {
	man := manifest{
		JobID:      exec.JobID,
		Source:     exec.Input.Name,
		PackagedAt: time.Now().UTC(),
	}

	refs := make([]artifact.Ref, 0, len(exec.Inputs))
	total := len(exec.Inputs) + 1
	done := 0
	for _, ref := range exec.Inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ref.Zone != artifact.ZoneWorking {
			continue
		}
		size, err := exec.Store.Stat(ref)
		if err != nil {
			return nil, services.Wrap(services.ErrStorageUnavailable, p.Name(), "stat",
				ref.String(), err)
		}
		moved, err := exec.Store.Move(ref, artifact.ZoneCompleted)
		if err != nil {
			return nil, services.Wrap(services.ErrStorageUnavailable, p.Name(), "promote",
				ref.String(), err)
		}
		man.Deliverable = append(man.Deliverable, manifestEntry{Name: moved.Name, Bytes: size})
		refs = append(refs, moved)
		done++
		exec.Progress(float64(done)/float64(total)*100, "promoting deliverables")
	}

	payload, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return nil, services.Wrap(services.ErrTerminal, p.Name(), "manifest", "", err)
	}
	manRef, err := exec.Store.Put(artifact.ZoneCompleted, exec.JobID, "manifest.json",
		bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	refs = append(refs, manRef)

	exec.Progress(100, "package sealed")
	return refs, nil
}

func (p *Packager) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(p.Name())
}
