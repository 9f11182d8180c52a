package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/pclforge/pkg/engine"
	"github.com/openfroyo/pclforge/pkg/stores"
)

// EventSink persists run events.
type EventSink interface {
	AppendEvent(ctx context.Context, event *stores.Event) error
}

// EventSubscriber receives every recorded event that passes its filter.
type EventSubscriber func(event stores.Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event stores.Event) bool

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// EventRecorder records the events of one build run. Events are written to
// the sink, logged, counted in metrics and handed to subscribers, in that
// order and synchronously, so subscribers see them in run order.
type EventRecorder struct {
	sink    EventSink
	runID   string
	logger  *Logger
	metrics *Metrics

	mu          sync.RWMutex
	subscribers []subscriberEntry
}

// NewEventRecorder creates a recorder for runID. sink, logger and metrics
// may be nil.
func NewEventRecorder(sink EventSink, runID string, logger *Logger, metrics *Metrics) *EventRecorder {
	if logger == nil {
		logger = FromContext(context.Background())
	}
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &EventRecorder{
		sink:    sink,
		runID:   runID,
		logger:  logger.WithRunID(runID),
		metrics: metrics,
	}
}

// Subscribe registers a subscriber; a nil filter accepts everything.
func (r *EventRecorder) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// Record records one event. A sink failure is returned after the event has
// still been logged and delivered.
func (r *EventRecorder) Record(ctx context.Context, typ engine.EventType, message string, details map[string]any) error {
	event := stores.Event{
		Type:      typ,
		Level:     stores.EventLevel(typ.Severity()),
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	if r.runID != "" {
		runID := r.runID
		event.RunID = &runID
	}
	if len(details) > 0 {
		data, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to encode event details: %w", err)
		}
		s := string(data)
		event.Details = &s
	}

	var sinkErr error
	if r.sink != nil {
		stored := event
		if err := r.sink.AppendEvent(ctx, &stored); err != nil {
			sinkErr = fmt.Errorf("failed to persist %s event: %w", typ, err)
		} else {
			event.ID = stored.ID
		}
	}

	l := r.logger.WithField("event", string(typ))
	switch event.Level {
	case stores.EventLevelError:
		l.Error(message)
	case stores.EventLevelWarning:
		l.Warn(message)
	default:
		l.Debug(message)
	}

	r.deliver(event)
	return sinkErr
}

func (r *EventRecorder) deliver(event stores.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// StepStarted records the start of a native build step.
func (r *EventRecorder) StepStarted(ctx context.Context, step string, command []string) {
	err := r.Record(ctx, engine.EventTypeStepStarted, fmt.Sprintf("%s: %s", step, strings.Join(command, " ")),
		map[string]any{"step": step, "command": command})
	if err != nil {
		r.logger.WithError(err).Warn("event not recorded")
	}
}

// StepFinished records the outcome of a native build step and counts it.
func (r *EventRecorder) StepFinished(ctx context.Context, result engine.StepResult) {
	typ := engine.EventTypeStepCompleted
	status := "succeeded"
	if result.ExitCode != 0 {
		typ = engine.EventTypeStepFailed
		status = "failed"
	}
	r.metrics.ObserveStep(result.Step, status)

	err := r.Record(ctx, typ, fmt.Sprintf("%s %s (exit %d, %s)", result.Step, status, result.ExitCode, result.Duration.Round(time.Millisecond)),
		map[string]any{"step": result.Step, "exit_code": result.ExitCode, "duration_ms": result.Duration.Milliseconds()})
	if err != nil {
		r.logger.WithError(err).Warn("event not recorded")
	}
}

// DependencyEnsured records that a dependency is present, installing it
// first when installed is true.
func (r *EventRecorder) DependencyEnsured(ctx context.Context, name string, installed bool) {
	msg := name + " already present"
	if installed {
		msg = name + " installed"
	}
	err := r.Record(ctx, engine.EventTypeDepEnsured, msg, map[string]any{"dependency": name, "installed": installed})
	if err != nil {
		r.logger.WithError(err).Warn("event not recorded")
	}
}

var levelRank = map[stores.EventLevel]int{
	stores.EventLevelDebug:   0,
	stores.EventLevelInfo:    1,
	stores.EventLevelWarning: 2,
	stores.EventLevelError:   3,
}

// FilterByLevel only allows events of minLevel or higher.
func FilterByLevel(minLevel stores.EventLevel) EventFilter {
	min := levelRank[minLevel]
	return func(event stores.Event) bool {
		return levelRank[event.Level] >= min
	}
}

// FilterByType only allows events of the given types.
func FilterByType(types ...engine.EventType) EventFilter {
	set := make(map[engine.EventType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event stores.Event) bool {
		return set[event.Type]
	}
}
