package queue

import (
	"encoding/json"
	"strings"
	"time"

	"vidmill/internal/artifact"
)

// State represents the lifecycle of a job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

var allStates = []State{StateQueued, StateRunning, StateSucceeded, StateFailed, StateCancelled}

var terminalStates = map[State]struct{}{
	StateSucceeded: {},
	StateFailed:    {},
	StateCancelled: {},
}

// AllStates returns the ordered list of known states.
func AllStates() []State {
	cp := make([]State, len(allStates))
	copy(cp, allStates)
	return cp
}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStates {
		if normalized == s {
			return s, true
		}
	}
	return "", false
}

// Terminal reports whether the state is absorbing.
func (s State) Terminal() bool {
	_, ok := terminalStates[s]
	return ok
}

// Outcome classifies one recorded stage attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// Job is the durable record tracking one submitted video.
type Job struct {
	ID              string
	Submitter       string
	State           State
	StageOrdinal    int
	Priority        int
	RetryCount      int
	InputRef        artifact.Ref
	Outputs         []artifact.Ref
	ErrorMessage    string
	CancelRequested bool
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	EnqueuedAt      time.Time
	LeaseOwner      string
	LeaseExpiresAt  *time.Time
}

// Terminal reports whether the job reached an absorbing state.
func (j *Job) Terminal() bool {
	return j.State.Terminal()
}

// Leased reports whether the job currently carries an unexpired lease.
func (j *Job) Leased(now time.Time) bool {
	return j.LeaseOwner != "" && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.After(now)
}

// Attempt is one audit trail entry for a stage execution.
type Attempt struct {
	ID           int64
	JobID        string
	StageOrdinal int
	StageName    string
	Attempt      int
	StartedAt    time.Time
	FinishedAt   time.Time
	Outcome      Outcome
	ErrorDetail  string
	Retryable    bool
}

// Stats aggregates job counts per state.
type Stats map[State]int

// Depths maps queued stage ordinals to pending job counts.
type Depths map[int]int

func marshalOutputs(refs []artifact.Ref) (string, error) {
	if len(refs) == 0 {
		return "", nil
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalOutputs(raw string) ([]artifact.Ref, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var refs []artifact.Ref
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return nil, err
	}
	return refs, nil
}
