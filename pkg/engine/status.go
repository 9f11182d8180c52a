package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the status of a build run.
type RunStatus string

const (
	// RunStatusPending indicates the run is recorded but the build has not started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the native build is executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every build step exited with status zero.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates a build step exited nonzero or could not start.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the caller cancelled the build.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// EventType represents the type of a run event.
type EventType string

const (
	EventTypeRunStarted    EventType = "run_started"
	EventTypeRunCompleted  EventType = "run_completed"
	EventTypeRunFailed     EventType = "run_failed"
	EventTypeStepStarted   EventType = "step_started"
	EventTypeStepCompleted EventType = "step_completed"
	EventTypeStepFailed    EventType = "step_failed"
	EventTypeDepEnsured    EventType = "dependency_ensured"
	EventTypeWarning       EventType = "warning"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeRunFailed, EventTypeStepFailed:
		return "error"
	case EventTypeWarning:
		return "warning"
	default:
		return "info"
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}
