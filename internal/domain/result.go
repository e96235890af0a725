package domain

import "time"

// EventName is the fixed event taxonomy emitted by every adapter.
type EventName string

const (
	EventRunStart     EventName = "run_start"
	EventStepStart    EventName = "step_start"
	EventStepComplete EventName = "step_complete"
	EventStepError    EventName = "step_error"
	EventRunComplete  EventName = "run_complete"
)

// Event is one entry in a run's ordered event stream. Timestamp and
// DurationMs are host-specific and excluded from adapter parity comparison.
type Event struct {
	Name       EventName
	RunID      string
	StepID     string
	Timestamp  time.Time
	DurationMs int64
	Fields     Metadata
}

// StepStatus is a step's terminal state.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// RunStatus is the overall outcome of a run. Cancelled is distinct from
// Failed: it marks a run torn down before the graph reached a terminal state
// on its own.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// StepResult is one step's terminal outcome.
type StepResult struct {
	StepID  string
	Status  StepStatus
	Error   string
	Metrics map[string]float64
}

// ExecutionResult is the per-run outcome returned by an adapter.
type ExecutionResult struct {
	RunID   string
	Status  RunStatus
	Events  []Event
	Steps   []StepResult
	Metrics map[string]float64
}

// StepStatuses returns terminal step statuses keyed by step id.
func (r ExecutionResult) StepStatuses() map[string]StepStatus {
	out := make(map[string]StepStatus, len(r.Steps))
	for _, step := range r.Steps {
		out[step.StepID] = step.Status
	}
	return out
}

// ArtifactFile is one gathered artifact.
type ArtifactFile struct {
	Path   string
	Size   int64
	SHA256 string
}

// CollectedArtifacts is the inventory produced by Adapter.Collect.
type CollectedArtifacts struct {
	RunID string
	Files []ArtifactFile
}
