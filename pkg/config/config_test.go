package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "supervisord.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

const validConfig = `
device:
  uuid: "4f5a9c1e-2b7d-4e8a-9c3f-1d2e3f4a5b6c"
  name: "plant-floor-3"
  environment: staging
control_plane:
  url: "https://cloud.iotistic.local"
  poll_interval: 15s
store:
  path: "/tmp/supervisor-test.db"
`

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Device.UUID != "4f5a9c1e-2b7d-4e8a-9c3f-1d2e3f4a5b6c" {
		t.Errorf("Unexpected device uuid: %s", cfg.Device.UUID)
	}
	if cfg.Device.Environment != "staging" {
		t.Errorf("Unexpected environment: %s", cfg.Device.Environment)
	}
	if cfg.ControlPlane.PollInterval.Duration() != 15*time.Second {
		t.Errorf("Unexpected poll interval: %v", cfg.ControlPlane.PollInterval.Duration())
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
device:
  uuid: "4f5a9c1e-2b7d-4e8a-9c3f-1d2e3f4a5b6c"
control_plane:
  url: "https://cloud.iotistic.local"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ControlPlane.PollInterval.Duration() != 30*time.Second {
		t.Errorf("Expected default poll interval 30s, got %v", cfg.ControlPlane.PollInterval.Duration())
	}
	if cfg.ControlPlane.Timeout.Duration() != 10*time.Second {
		t.Errorf("Expected default timeout 10s, got %v", cfg.ControlPlane.Timeout.Duration())
	}
	if cfg.Store.Path == "" {
		t.Error("Expected default store path")
	}
	if cfg.Device.Environment != "production" {
		t.Errorf("Expected default environment production, got %s", cfg.Device.Environment)
	}
	if cfg.Telemetry.LogLevel != "info" || cfg.Telemetry.LogFormat != "json" {
		t.Errorf("Unexpected logging defaults: %s/%s", cfg.Telemetry.LogLevel, cfg.Telemetry.LogFormat)
	}
	if cfg.Engine.EventBuffer != 1000 {
		t.Errorf("Expected default event buffer 1000, got %d", cfg.Engine.EventBuffer)
	}
	if cfg.Adapters.Sensor.ConnectTimeout.Duration() != 5*time.Second {
		t.Errorf("Unexpected sensor connect timeout: %v", cfg.Adapters.Sensor.ConnectTimeout.Duration())
	}
}

func TestLoad_MissingDeviceUUID(t *testing.T) {
	path := writeConfig(t, `
device:
  name: "unnamed"
control_plane:
  url: "https://cloud.iotistic.local"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected error for missing device uuid")
	}
}

func TestLoad_InvalidUUID(t *testing.T) {
	path := writeConfig(t, `
device:
  uuid: "not-a-uuid"
control_plane:
  url: "https://cloud.iotistic.local"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected error for malformed device uuid")
	}
}

func TestLoad_NoTargetSource(t *testing.T) {
	path := writeConfig(t, `
device:
  uuid: "4f5a9c1e-2b7d-4e8a-9c3f-1d2e3f4a5b6c"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected error when neither url nor target_file is set")
	}
	if !strings.Contains(err.Error(), "target_file") {
		t.Errorf("Unexpected error message: %v", err)
	}
}

func TestLoad_TargetFileOnly(t *testing.T) {
	path := writeConfig(t, `
device:
  uuid: "4f5a9c1e-2b7d-4e8a-9c3f-1d2e3f4a5b6c"
control_plane:
  target_file: "/etc/supervisord/target.json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ControlPlane.URL != "" {
		t.Errorf("Expected empty control plane url, got %s", cfg.ControlPlane.URL)
	}
}

func TestLoad_InvalidPlanOrder(t *testing.T) {
	path := writeConfig(t, `
device:
  uuid: "4f5a9c1e-2b7d-4e8a-9c3f-1d2e3f4a5b6c"
control_plane:
  url: "https://cloud.iotistic.local"
engine:
  plan_order: [add, remove, destroy]
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected error for invalid plan order action")
	}
}

func TestLoad_PlanOrderIncomplete(t *testing.T) {
	path := writeConfig(t, `
device:
  uuid: "4f5a9c1e-2b7d-4e8a-9c3f-1d2e3f4a5b6c"
control_plane:
  url: "https://cloud.iotistic.local"
engine:
  plan_order: [add, remove]
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected error for plan order missing an action")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("SUPERVISOR_TEST_UUID", "4f5a9c1e-2b7d-4e8a-9c3f-1d2e3f4a5b6c")

	path := writeConfig(t, `
device:
  uuid: "${SUPERVISOR_TEST_UUID}"
  environment: "${SUPERVISOR_TEST_ENV:development}"
control_plane:
  url: "https://cloud.iotistic.local"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Device.UUID != "4f5a9c1e-2b7d-4e8a-9c3f-1d2e3f4a5b6c" {
		t.Errorf("Environment variable not expanded: %s", cfg.Device.UUID)
	}
	if cfg.Device.Environment != "development" {
		t.Errorf("Default for unset variable not applied: %s", cfg.Device.Environment)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/supervisord.yaml")
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "device: [unclosed")

	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected error for malformed YAML")
	}
}

func TestDuration_Unmarshal(t *testing.T) {
	path := writeConfig(t, `
device:
  uuid: "4f5a9c1e-2b7d-4e8a-9c3f-1d2e3f4a5b6c"
control_plane:
  url: "https://cloud.iotistic.local"
  poll_interval: 1m30s
shutdown_timeout: 45s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ControlPlane.PollInterval.Duration() != 90*time.Second {
		t.Errorf("Unexpected poll interval: %v", cfg.ControlPlane.PollInterval.Duration())
	}
	if cfg.ShutdownTimeout.Duration() != 45*time.Second {
		t.Errorf("Unexpected shutdown timeout: %v", cfg.ShutdownTimeout.Duration())
	}
}

func TestTelemetryConfig(t *testing.T) {
	path := writeConfig(t, `
device:
  uuid: "4f5a9c1e-2b7d-4e8a-9c3f-1d2e3f4a5b6c"
  name: "plant-floor-3"
  environment: staging
control_plane:
  url: "https://cloud.iotistic.local"
telemetry:
  log_level: debug
  metrics_enabled: true
  metrics_listen: ":9100"
  tracing_enabled: true
  tracing_exporter: otlp
  tracing_endpoint: "collector:4317"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tc := cfg.TelemetryConfig("1.2.3")
	if tc.ServiceVersion != "1.2.3" {
		t.Errorf("Unexpected service version: %s", tc.ServiceVersion)
	}
	if tc.Environment != "staging" {
		t.Errorf("Unexpected environment: %s", tc.Environment)
	}
	if tc.Logging.Level != "debug" {
		t.Errorf("Unexpected log level: %s", tc.Logging.Level)
	}
	if !tc.Metrics.Enabled || tc.Metrics.ListenAddress != ":9100" {
		t.Errorf("Unexpected metrics config: %+v", tc.Metrics)
	}
	if tc.Tracing.Exporter != "otlp" || tc.Tracing.Endpoint != "collector:4317" {
		t.Errorf("Unexpected tracing config: %+v", tc.Tracing)
	}
	if tc.ResourceAttributes["device.name"] != "plant-floor-3" {
		t.Errorf("Device name not propagated: %v", tc.ResourceAttributes)
	}
}
