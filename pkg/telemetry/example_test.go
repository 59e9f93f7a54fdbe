package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/iotistic/supervisor/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	// Create configuration
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "supervisord"
	cfg.ServiceVersion = "1.0.0"

	// Initialize telemetry
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Start metrics server (non-blocking)
	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	// Add telemetry to context
	ctx := tel.WithContext(context.Background())

	// Use telemetry
	logger := telemetry.FromContext(ctx)
	logger.Info("Supervisor started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific logger
	logger := tel.Logger.NewComponentLogger("engine")

	// Add context fields
	logger = logger.WithFields(map[string]interface{}{
		"pass_id":     "pass-123",
		"resource_id": "sensor-456",
	})

	// Log at different levels
	logger.Debug("Planning reconciliation pass")
	logger.Info("Resource created successfully")
	logger.Warn("Snapshot save retried")

	// Log with error
	err := fmt.Errorf("network timeout")
	logger.WithError(err).Error("Failed to reach sensor endpoint")

	// Output varies, no output specified
}

// Example_distributedTracing demonstrates distributed tracing usage.
func Example_distributedTracing() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start a pass span
	ctx, span := tel.Tracer.StartPassSpan(ctx, "sensor", "pass-789")
	defer span.End()

	// Nested step span
	_, stepSpan := tel.Tracer.StartStepSpan(ctx, "pass-789", "sensor-456", "add")
	defer stepSpan.End()

	// Simulate work
	time.Sleep(10 * time.Millisecond)

	// Record success
	telemetry.RecordSuccess(stepSpan)

	// Output varies, no output specified
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Record pass metrics
	tel.Metrics.RecordReconcileStarted()

	// Simulate pass execution
	start := time.Now()
	time.Sleep(50 * time.Millisecond)
	duration := time.Since(start)

	tel.Metrics.RecordReconcileCompleted("sensor", "success", duration)

	// Record step metrics
	tel.Metrics.RecordStep("sensor", "add", "success", 25*time.Millisecond)

	// Record adapter metrics
	tel.Metrics.RecordAdapterCall("container", "create", "success", 15*time.Millisecond)

	// Set resource counts
	tel.Metrics.SetCurrentResources("sensor", 10)
	tel.Metrics.SetTargetResources("sensor", 12)

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

// Example_adapterInstrumentation demonstrates instrumenting adapter calls.
func Example_adapterInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Record adapter operation
	err := telemetry.RecordAdapterOperation(ctx, "container", "create", func() error {
		// Simulate adapter work
		time.Sleep(15 * time.Millisecond)
		return nil
	})

	if err == nil {
		fmt.Println("Adapter operation completed successfully")
	}

	// Output: Adapter operation completed successfully
}

// Example_instrumentedOperation demonstrates using the InstrumentedContext helper.
func Example_instrumentedOperation() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start instrumented operation
	ic := telemetry.StartOperation(ctx, "target.validate",
		attribute.String("target.path", "/etc/supervisor/target.json"),
	)
	defer ic.End(nil)

	// Use the instrumented context
	ic.Logger.Info("Validating target state")

	// Simulate validation
	time.Sleep(5 * time.Millisecond)

	ic.Logger.Debug("Target state validation complete")

	fmt.Println("Operation instrumentation complete")
	// Output: Operation instrumentation complete
}

// Example_productionConfiguration demonstrates production-ready configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()

	// Customize for your environment
	cfg.ServiceName = "supervisord"
	cfg.ServiceVersion = "1.2.3"
	cfg.Environment = "production"

	// Configure OTLP exporter
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Tracing.SamplingRate = 0.1 // 10% sampling
	cfg.Tracing.Insecure = false   // Use TLS in production

	// Configure metrics
	cfg.Metrics.ListenAddress = ":9090"
	cfg.Metrics.Namespace = "supervisor"

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("Production configuration validated")
	// Output: Production configuration validated
}

// Example_multipleComponents demonstrates telemetry in a multi-component system.
func Example_multipleComponents() {
	cfg := telemetry.DevelopmentConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific loggers
	engineLogger := tel.Logger.NewComponentLogger("engine")
	supplierLogger := tel.Logger.NewComponentLogger("supplier")
	adapterLogger := tel.Logger.NewComponentLogger("adapter")

	engineLogger.Info("Engine initialized")
	supplierLogger.Info("Polling control plane for target state")
	adapterLogger.Info("Connecting to container runtime")

	fmt.Println("Multi-component logging complete")
	// Output: Multi-component logging complete
}
