// Package telemetry provides observability instrumentation for the supervisor.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus) into a unified system for monitoring
// and debugging supervisor operations.
//
// # Architecture
//
// The telemetry system is built on three pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//
// Lifecycle events (resource added, updated, removed, pass complete) are not
// part of this package; they are typed and published by the engine itself.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "supervisord"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithPassID("pass-123").WithResourceID("sensor-456")
//	logger.Info("Starting reconciliation pass")
//	logger.WithError(err).Error("Step failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into pass and step flow:
//
//	ctx, span := tel.Tracer.StartPassSpan(ctx, "sensor", passID)
//	defer span.End()
//
//	// Record errors
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track reconciliation behavior and performance:
//
//	tel.Metrics.RecordReconcileCompleted("sensor", "success", duration)
//	tel.Metrics.RecordStep("sensor", "add", "success", duration)
//	tel.Metrics.SetCurrentResources("sensor", 12)
//	tel.Metrics.RecordSnapshotSaveFailure("container")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Instrument an operation
//	ic := telemetry.StartOperation(ctx, "target.fetch",
//	    attribute.String("source", "http"))
//	defer ic.End(err)
//
//	ic.Logger.Info("Fetching target state")
//
//	// Adapter operation
//	err := telemetry.RecordAdapterOperation(ctx, "container", "create", func() error {
//	    return adapter.Create(ctx, res)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
// # Common Metrics
//
// Key metrics exposed:
//
//  - supervisor_reconciles_total{kind,status}
//  - supervisor_reconcile_duration_seconds{kind}
//  - supervisor_steps_total{kind,action,status}
//  - supervisor_step_duration_seconds{kind,action}
//  - supervisor_adapter_calls_total{kind,operation,status}
//  - supervisor_resources_current{kind}
//  - supervisor_resources_target{kind}
//  - supervisor_snapshot_save_failures_total{kind}
//  - supervisor_target_fetches_total{source,status}
//  - supervisor_policy_denials_total{kind,action}
//  - supervisor_passes_in_flight
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending traces:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
package telemetry
