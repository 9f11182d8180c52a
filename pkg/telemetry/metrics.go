package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/pclforge/pkg/engine"
)

// Metrics provides Prometheus metrics for planning and builds. It implements
// engine.Observer; a disabled instance drops every observation.
type Metrics struct {
	config MetricsConfig

	plans         *prometheus.CounterVec
	planDuration  prometheus.Histogram
	probeChecks   *prometheus.CounterVec
	buildSteps    *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ engine.Observer = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.BuildBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		plans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_total",
				Help:      "Total number of planning passes by outcome",
			},
			[]string{"outcome"},
		),
		planDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_duration_seconds",
				Help:      "Duration of a planning pass in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		probeChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probe_checks_total",
				Help:      "Requirement evaluations by result",
			},
			[]string{"requirement", "result"},
		),
		buildSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "build_steps_total",
				Help:      "Native build steps executed by status",
			},
			[]string{"step", "status"},
		),
		buildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_duration_seconds",
				Help:      "Duration of native builds in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Errors by class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Errors by code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.plans,
		m.planDuration,
		m.probeChecks,
		m.buildSteps,
		m.buildDuration,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// ObservePlan records a planning pass.
func (m *Metrics) ObservePlan(outcome string, duration time.Duration) {
	if m.plans == nil {
		return
	}
	m.plans.WithLabelValues(outcome).Inc()
	m.planDuration.Observe(duration.Seconds())
}

// ObserveRequirement records one requirement evaluation.
func (m *Metrics) ObserveRequirement(name string, satisfied bool) {
	if m.probeChecks == nil {
		return
	}
	result := "unsatisfied"
	if satisfied {
		result = "satisfied"
	}
	m.probeChecks.WithLabelValues(name, result).Inc()
}

// ObserveBuild records a finished build with its final status.
func (m *Metrics) ObserveBuild(status string, duration time.Duration) {
	if m.buildDuration == nil {
		return
	}
	m.buildDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveStep records one native build step.
func (m *Metrics) ObserveStep(step, status string) {
	if m.buildSteps == nil {
		return
	}
	m.buildSteps.WithLabelValues(step, status).Inc()
}

// ObserveError records an error by class and, when present, by code.
func (m *Metrics) ObserveError(class engine.ErrorClass, code string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(string(class)).Inc()
	if code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint on the configured address until ctx is
// done. It returns once the listener is bound; an empty address or disabled
// metrics make it a no-op.
func (m *Metrics) Serve(ctx context.Context) error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()

	log.Debug().Str("addr", ln.Addr().String()).Msg("serving metrics")
	return nil
}
