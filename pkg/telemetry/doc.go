// Package telemetry wires observability for pclforge: a zerolog logger
// wrapper, Prometheus metrics and an OpenTelemetry tracer.
//
// Metrics implements engine.Observer, so handing it to the planner with
// engine.WithObserver is enough to count planning passes, requirement
// checks, builds and errors:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	planner, err := engine.NewPlanner(recipe.PCL(), probe,
//	    engine.WithObserver(tel.Metrics))
//
// # Events
//
// EventRecorder records the events of one build run. Each event is
// persisted through an EventSink (the SQLite store), logged, and delivered
// synchronously to subscribers such as the CLI progress printer:
//
//	rec := telemetry.NewEventRecorder(store, runID, tel.Logger, tel.Metrics)
//	rec.Subscribe(printEvent, telemetry.FilterByLevel(stores.EventLevelInfo))
//
// # Tracing
//
// An enabled Tracer installs itself as the global OpenTelemetry provider.
// The exporter is "stdout" (pretty JSON on stderr), "otlp" (gRPC) or
// "none".
package telemetry
