package api

import (
	"time"

	"vidmill/internal/queue"
)

// FromJob converts a queue record into its API projection.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:              job.ID,
		Submitter:       job.Submitter,
		State:           string(job.State),
		StageOrdinal:    job.StageOrdinal,
		Priority:        job.Priority,
		RetryCount:      job.RetryCount,
		Input:           job.InputRef.String(),
		ErrorMessage:    job.ErrorMessage,
		CancelRequested: job.CancelRequested,
		Progress: JobProgress{
			Stage:   job.ProgressStage,
			Percent: job.ProgressPercent,
			Message: job.ProgressMessage,
		},
		CreatedAt:  formatTime(job.CreatedAt),
		UpdatedAt:  formatTime(job.UpdatedAt),
		EnqueuedAt: formatTime(job.EnqueuedAt),
		LeaseOwner: job.LeaseOwner,
	}
	if job.LeaseExpiresAt != nil {
		dto.LeaseExpiresAt = formatTime(*job.LeaseExpiresAt)
	}
	for _, ref := range job.Outputs {
		dto.Outputs = append(dto.Outputs, ref.String())
	}
	return dto
}

// FromJobs converts a slice of queue records.
func FromJobs(jobs []*queue.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromAttempt converts one audit entry.
func FromAttempt(a *queue.Attempt) Attempt {
	if a == nil {
		return Attempt{}
	}
	return Attempt{
		StageOrdinal: a.StageOrdinal,
		StageName:    a.StageName,
		Attempt:      a.Attempt,
		StartedAt:    formatTime(a.StartedAt),
		FinishedAt:   formatTime(a.FinishedAt),
		Outcome:      string(a.Outcome),
		ErrorDetail:  a.ErrorDetail,
		Retryable:    a.Retryable,
	}
}

// FromAttempts converts the full audit trail.
func FromAttempts(attempts []*queue.Attempt) []Attempt {
	out := make([]Attempt, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, FromAttempt(a))
	}
	return out
}

// MergeJobStats normalizes counts so every known state appears, zero or not.
func MergeJobStats(stats queue.Stats) map[string]int {
	merged := make(map[string]int, len(stats))
	for _, state := range queue.AllStates() {
		merged[string(state)] = stats[state]
	}
	return merged
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
