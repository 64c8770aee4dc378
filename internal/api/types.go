package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a job record in a transport-friendly format.
type Job struct {
	ID              string      `json:"id"`
	Submitter       string      `json:"submitter,omitempty"`
	State           string      `json:"state"`
	StageOrdinal    int         `json:"stageOrdinal"`
	Priority        int         `json:"priority"`
	RetryCount      int         `json:"retryCount"`
	Input           string      `json:"input"`
	Outputs         []string    `json:"outputs,omitempty"`
	ErrorMessage    string      `json:"errorMessage,omitempty"`
	CancelRequested bool        `json:"cancelRequested"`
	Progress        JobProgress `json:"progress"`
	CreatedAt       string      `json:"createdAt,omitempty"`
	UpdatedAt       string      `json:"updatedAt,omitempty"`
	EnqueuedAt      string      `json:"enqueuedAt,omitempty"`
	LeaseOwner      string      `json:"leaseOwner,omitempty"`
	LeaseExpiresAt  string      `json:"leaseExpiresAt,omitempty"`
}

// JobProgress captures stage progress information for a job.
type JobProgress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// Attempt mirrors one audit trail entry for API consumers.
type Attempt struct {
	StageOrdinal int    `json:"stageOrdinal"`
	StageName    string `json:"stageName"`
	Attempt      int    `json:"attempt"`
	StartedAt    string `json:"startedAt,omitempty"`
	FinishedAt   string `json:"finishedAt,omitempty"`
	Outcome      string `json:"outcome"`
	ErrorDetail  string `json:"errorDetail,omitempty"`
	Retryable    bool   `json:"retryable"`
}

// JobDetail bundles a job with its attempt history.
type JobDetail struct {
	Job      Job       `json:"job"`
	Attempts []Attempt `json:"attempts"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// LaneStatus reports one resource class and its admission limit.
type LaneStatus struct {
	Class   string `json:"class"`
	Workers int    `json:"workers"`
}

// DispatcherStatus summarizes dispatcher execution state.
type DispatcherStatus struct {
	Running     bool          `json:"running"`
	LastError   string        `json:"lastError,omitempty"`
	LastJobID   string        `json:"lastJobId,omitempty"`
	Lanes       []LaneStatus  `json:"lanes"`
	StageHealth []StageHealth `json:"stageHealth"`
	LastSweep   string        `json:"lastSweep,omitempty"`
}

// StatusResponse aggregates daemon runtime information for API consumers.
type StatusResponse struct {
	Running     bool             `json:"running"`
	PID         int              `json:"pid"`
	JobStats    map[string]int   `json:"jobStats"`
	StageDepths map[string]int   `json:"stageDepths"`
	Dispatcher  DispatcherStatus `json:"dispatcher"`
	FreeSpaceMB int64            `json:"freeSpaceMb"`
	JobDBPath   string           `json:"jobDbPath,omitempty"`
}

// JobListResponse wraps a collection of jobs for API responses.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// SubmitRequest is the POST /api/jobs payload.
type SubmitRequest struct {
	SourcePath string `json:"sourcePath"`
	Submitter  string `json:"submitter,omitempty"`
	Priority   int    `json:"priority,omitempty"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
