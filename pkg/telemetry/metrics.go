package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the supervisor.
type Metrics struct {
	config MetricsConfig

	// Reconciliation pass metrics
	reconcilesTotal   *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec

	// Step metrics
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	// Resource metrics
	resourcesCurrent *prometheus.GaugeVec
	resourcesTarget  *prometheus.GaugeVec

	// Adapter metrics
	adapterCalls        *prometheus.CounterVec
	adapterCallDuration *prometheus.HistogramVec

	// Snapshot persistence metrics
	snapshotSaveFailures *prometheus.CounterVec

	// Target supplier metrics
	targetFetches *prometheus.CounterVec

	// Policy gate metrics
	policyDenials *prometheus.CounterVec

	// System metrics
	passesInFlight prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		reconcilesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciles_total",
				Help:      "Total number of completed reconciliation passes",
			},
			[]string{"kind", "status"},
		),
		reconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_duration_seconds",
				Help:      "Duration of reconciliation passes",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Total number of executed reconciliation steps",
			},
			[]string{"kind", "action", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of individual reconciliation steps",
				Buckets:   buckets,
			},
			[]string{"kind", "action"},
		),
		resourcesCurrent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources_current",
				Help:      "Number of resources in the reconciled current state",
			},
			[]string{"kind"},
		),
		resourcesTarget: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources_target",
				Help:      "Number of resources in the declared target state",
			},
			[]string{"kind"},
		),
		adapterCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "adapter_calls_total",
				Help:      "Total number of adapter operations",
			},
			[]string{"kind", "operation", "status"},
		),
		adapterCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "adapter_call_duration_seconds",
				Help:      "Duration of adapter operations",
				Buckets:   buckets,
			},
			[]string{"kind", "operation"},
		),
		snapshotSaveFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_save_failures_total",
				Help:      "Total number of snapshot persistence failures",
			},
			[]string{"kind"},
		),
		targetFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "target_fetches_total",
				Help:      "Total number of target state fetch attempts",
			},
			[]string{"source", "status"},
		),
		policyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_denials_total",
				Help:      "Total number of steps denied by the policy gate",
			},
			[]string{"kind", "action"},
		),
		passesInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "passes_in_flight",
				Help:      "Number of reconciliation passes currently executing",
			},
		),
	}

	// Register all metrics
	collectors := []prometheus.Collector{
		m.reconcilesTotal,
		m.reconcileDuration,
		m.stepsTotal,
		m.stepDuration,
		m.adapterCalls,
		m.adapterCallDuration,
		m.resourcesCurrent,
		m.resourcesTarget,
		m.snapshotSaveFailures,
		m.targetFetches,
		m.policyDenials,
		m.passesInFlight,
	}

	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

// Reconciliation Pass Metrics

// RecordReconcileStarted marks the start of a reconciliation pass.
func (m *Metrics) RecordReconcileStarted() {
	if m == nil || m.passesInFlight == nil {
		return
	}
	m.passesInFlight.Inc()
}

// RecordReconcileCompleted records a completed pass with its status and duration.
func (m *Metrics) RecordReconcileCompleted(kind, status string, duration time.Duration) {
	if m == nil || m.reconcilesTotal == nil {
		return
	}
	m.reconcilesTotal.WithLabelValues(kind, status).Inc()
	m.reconcileDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.passesInFlight.Dec()
}

// Step Metrics

// RecordStep records the execution of a single step.
func (m *Metrics) RecordStep(kind, action, status string, duration time.Duration) {
	if m == nil || m.stepsTotal == nil {
		return
	}
	m.stepsTotal.WithLabelValues(kind, action, status).Inc()
	m.stepDuration.WithLabelValues(kind, action).Observe(duration.Seconds())
}

// Adapter Metrics

// RecordAdapterCall records a single adapter operation.
func (m *Metrics) RecordAdapterCall(kind, operation, status string, duration time.Duration) {
	if m == nil || m.adapterCalls == nil {
		return
	}
	m.adapterCalls.WithLabelValues(kind, operation, status).Inc()
	m.adapterCallDuration.WithLabelValues(kind, operation).Observe(duration.Seconds())
}

// Resource Metrics

// SetCurrentResources sets the current state resource count for a kind.
func (m *Metrics) SetCurrentResources(kind string, count float64) {
	if m == nil || m.resourcesCurrent == nil {
		return
	}
	m.resourcesCurrent.WithLabelValues(kind).Set(count)
}

// SetTargetResources sets the target state resource count for a kind.
func (m *Metrics) SetTargetResources(kind string, count float64) {
	if m == nil || m.resourcesTarget == nil {
		return
	}
	m.resourcesTarget.WithLabelValues(kind).Set(count)
}

// Persistence Metrics

// RecordSnapshotSaveFailure counts a failed snapshot write.
func (m *Metrics) RecordSnapshotSaveFailure(kind string) {
	if m == nil || m.snapshotSaveFailures == nil {
		return
	}
	m.snapshotSaveFailures.WithLabelValues(kind).Inc()
}

// Supplier Metrics

// RecordTargetFetch counts a target state fetch attempt.
func (m *Metrics) RecordTargetFetch(source, status string) {
	if m == nil || m.targetFetches == nil {
		return
	}
	m.targetFetches.WithLabelValues(source, status).Inc()
}

// Policy Metrics

// RecordPolicyDenial counts a step denied by the policy gate.
func (m *Metrics) RecordPolicyDenial(kind, action string) {
	if m == nil || m.policyDenials == nil {
		return
	}
	m.policyDenials.WithLabelValues(kind, action).Inc()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
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

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
