package api

import (
	"context"

	"vidmill/internal/queue"
)

// JobReader abstracts job persistence interactions needed for API queries.
type JobReader interface {
	List(ctx context.Context, states ...queue.State) ([]*queue.Job, error)
	Stats(ctx context.Context) (queue.Stats, error)
	GetByID(ctx context.Context, id string) (*queue.Job, error)
	Attempts(ctx context.Context, jobID string) ([]*queue.Attempt, error)
}

// JobService exposes read-only job operations returning API DTOs.
type JobService struct {
	store JobReader
}

// NewJobService constructs a JobService around the provided reader.
func NewJobService(store JobReader) *JobService {
	if store == nil {
		return nil
	}
	return &JobService{store: store}
}

// List returns jobs filtered by state.
func (s *JobService) List(ctx context.Context, states ...queue.State) ([]Job, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	jobs, err := s.store.List(ctx, states...)
	if err != nil {
		return nil, err
	}
	return FromJobs(jobs), nil
}

// Stats returns job summary counts keyed by state string.
func (s *JobService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeJobStats(stats), nil
}

// Describe fetches a single job with its attempt history. It returns
// (nil, nil) when the id is unknown.
func (s *JobService) Describe(ctx context.Context, id string) (*JobDetail, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	job, err := s.store.GetByID(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	attempts, err := s.store.Attempts(ctx, id)
	if err != nil {
		return nil, err
	}
	return &JobDetail{Job: FromJob(job), Attempts: FromAttempts(attempts)}, nil
}
