package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/openfroyo/pclforge/pkg/engine"
)

// ErrNotFound is returned when a plan or run does not exist.
var ErrNotFound = errors.New("not found")

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// PlanRecord is a stored build plan. Saving the same plan again bumps
// TimesSeen instead of inserting a new row.
type PlanRecord struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Recipe      string    `json:"recipe"`
	Version     string    `json:"version"`
	Document    string    `json:"document"` // JSON of engine.BuildPlan
	TimesSeen   int       `json:"times_seen"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Run represents a build run of a stored plan
type Run struct {
	ID          string           `json:"id"`
	PlanID      string           `json:"plan_id"`
	Status      engine.RunStatus `json:"status"`
	Target      string           `json:"target"` // "local" or user@host
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	ExitCode    int              `json:"exit_code"`
	Error       *string          `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// StepRecord is one native build step of a run
type StepRecord struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Position   int       `json:"position"`
	Step       string    `json:"step"`
	Command    string    `json:"command"` // JSON array
	ExitCode   int       `json:"exit_code"`
	Output     string    `json:"output"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event represents an append-only log event
type Event struct {
	ID        int64            `json:"id"`
	RunID     *string          `json:"run_id,omitempty"`
	Type      engine.EventType `json:"type"`
	Level     EventLevel       `json:"level"`
	Message   string           `json:"message"`
	Details   *string          `json:"details,omitempty"` // JSON blob
	Timestamp time.Time        `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	engine.PlanRecorder

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Plan operations
	GetPlan(ctx context.Context, id string) (*PlanRecord, *engine.BuildPlan, error)
	ListPlans(ctx context.Context, limit, offset int) ([]*PlanRecord, error)

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status engine.RunStatus, exitCode int, errMsg *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Step operations
	RecordSteps(ctx context.Context, runID string, steps []engine.StepResult) error
	ListSteps(ctx context.Context, runID string) ([]*StepRecord, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
