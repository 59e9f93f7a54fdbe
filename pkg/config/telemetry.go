package config

import (
	"github.com/iotistic/supervisor/pkg/telemetry"
)

// TelemetryConfig builds the telemetry configuration from the device config,
// starting from the package defaults.
func (c *Config) TelemetryConfig(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Environment = c.Device.Environment
	if c.Device.Name != "" {
		tc.ResourceAttributes["device.name"] = c.Device.Name
	}
	tc.ResourceAttributes["device.uuid"] = c.Device.UUID

	tc.Logging.Level = c.Telemetry.LogLevel
	tc.Logging.Format = c.Telemetry.LogFormat

	tc.Metrics.Enabled = c.Telemetry.MetricsEnabled
	tc.Metrics.ListenAddress = c.Telemetry.MetricsListen

	tc.Tracing.Enabled = c.Telemetry.TracingEnabled
	tc.Tracing.Exporter = c.Telemetry.TracingExporter
	tc.Tracing.Endpoint = c.Telemetry.TracingEndpoint
	if !c.Telemetry.TracingEnabled {
		tc.Tracing.Exporter = "none"
	}
	if c.Telemetry.SamplingRate != nil {
		tc.Tracing.SamplingRate = *c.Telemetry.SamplingRate
	}

	tc.Events.BufferSize = c.Engine.EventBuffer

	return tc
}
