package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the device configuration for the supervisor daemon.
type Config struct {
	Device          DeviceConfig       `yaml:"device" validate:"required"`
	ControlPlane    ControlPlaneConfig `yaml:"control_plane"`
	Store           StoreConfig        `yaml:"store"`
	Engine          EngineConfig       `yaml:"engine"`
	Policy          PolicyConfig       `yaml:"policy"`
	Telemetry       TelemetryConfig    `yaml:"telemetry"`
	Adapters        AdaptersConfig     `yaml:"adapters"`
	ShutdownTimeout Duration           `yaml:"shutdown_timeout"`
}

// DeviceConfig identifies this device to the control plane.
type DeviceConfig struct {
	// UUID is the device identity used in control-plane URLs.
	UUID string `yaml:"uuid" validate:"required,uuid_rfc4122"`

	// Name is a human-readable device name.
	Name string `yaml:"name"`

	// Environment tags the device for policy evaluation.
	Environment string `yaml:"environment" validate:"omitempty,oneof=development staging production test"`
}

// ControlPlaneConfig configures the target supplier. When URL is empty the
// supervisor runs from the local target file only.
type ControlPlaneConfig struct {
	// URL is the control plane base URL.
	URL string `yaml:"url" validate:"omitempty,http_url"`

	// PollInterval is how often the target endpoint is polled.
	PollInterval Duration `yaml:"poll_interval"`

	// Timeout bounds a single poll request.
	Timeout Duration `yaml:"timeout"`

	// TargetFile is a local target document that overrides the control
	// plane when present. Watched for changes.
	TargetFile string `yaml:"target_file"`
}

// StoreConfig configures the snapshot store.
type StoreConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`

	// HistoryRetention caps how many pass records are kept per kind.
	HistoryRetention int `yaml:"history_retention" validate:"omitempty,min=1"`
}

// EngineConfig tunes the reconciliation engines.
type EngineConfig struct {
	// PlanOrder overrides the default add, remove, update step grouping.
	PlanOrder []string `yaml:"plan_order" validate:"omitempty,len=3,dive,oneof=add remove update"`

	// EventBuffer sizes the event publisher's delivery buffer.
	EventBuffer int `yaml:"event_buffer" validate:"omitempty,min=1"`
}

// PolicyConfig configures the plan policy gate.
type PolicyConfig struct {
	// Enabled turns the policy gate on. Built-in policies apply when on.
	Enabled bool `yaml:"enabled"`

	// Paths are extra .rego or .json policy files or directories.
	Paths []string `yaml:"paths"`

	// Watch reloads policies when the files change.
	Watch bool `yaml:"watch"`
}

// TelemetryConfig is the YAML surface over pkg/telemetry.
type TelemetryConfig struct {
	LogLevel        string   `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat       string   `yaml:"log_format" validate:"omitempty,oneof=console json"`
	MetricsEnabled  bool     `yaml:"metrics_enabled"`
	MetricsListen   string   `yaml:"metrics_listen"`
	TracingEnabled  bool     `yaml:"tracing_enabled"`
	TracingExporter string   `yaml:"tracing_exporter" validate:"omitempty,oneof=otlp stdout none"`
	TracingEndpoint string   `yaml:"tracing_endpoint"`
	SamplingRate    *float64 `yaml:"sampling_rate" validate:"omitempty"`
}

// AdaptersConfig configures the resource adapters.
type AdaptersConfig struct {
	Sensor    SensorAdapterConfig    `yaml:"sensor"`
	Container ContainerAdapterConfig `yaml:"container"`
}

// SensorAdapterConfig configures the Modbus sensor adapter.
type SensorAdapterConfig struct {
	// ConnectTimeout bounds the TCP connect plus verification read.
	ConnectTimeout Duration `yaml:"connect_timeout"`

	// DefaultPollInterval applies to sensors whose spec omits one.
	DefaultPollInterval Duration `yaml:"default_poll_interval"`
}

// ContainerAdapterConfig configures the Docker container adapter.
type ContainerAdapterConfig struct {
	// Host is the Docker daemon socket. Empty uses the environment.
	Host string `yaml:"host"`

	// StopTimeout is the grace period before a container is killed.
	StopTimeout Duration `yaml:"stop_timeout"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads, expands, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ControlPlane.PollInterval == 0 {
		c.ControlPlane.PollInterval = Duration(30 * time.Second)
	}
	if c.ControlPlane.Timeout == 0 {
		c.ControlPlane.Timeout = Duration(10 * time.Second)
	}
	if c.Store.Path == "" {
		c.Store.Path = "/var/lib/supervisord/state.db"
	}
	if c.Store.HistoryRetention == 0 {
		c.Store.HistoryRetention = 500
	}
	if c.Engine.EventBuffer == 0 {
		c.Engine.EventBuffer = 1000
	}
	if c.Device.Environment == "" {
		c.Device.Environment = "production"
	}
	if c.Telemetry.LogLevel == "" {
		c.Telemetry.LogLevel = "info"
	}
	if c.Telemetry.LogFormat == "" {
		c.Telemetry.LogFormat = "json"
	}
	if c.Telemetry.MetricsListen == "" {
		c.Telemetry.MetricsListen = ":9090"
	}
	if c.Telemetry.TracingExporter == "" {
		c.Telemetry.TracingExporter = "none"
	}
	if c.Adapters.Sensor.ConnectTimeout == 0 {
		c.Adapters.Sensor.ConnectTimeout = Duration(5 * time.Second)
	}
	if c.Adapters.Sensor.DefaultPollInterval == 0 {
		c.Adapters.Sensor.DefaultPollInterval = Duration(10 * time.Second)
	}
	if c.Adapters.Container.StopTimeout == 0 {
		c.Adapters.Container.StopTimeout = Duration(10 * time.Second)
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = Duration(15 * time.Second)
	}
}

// Validate checks the configuration against its struct tags plus the
// cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.ControlPlane.URL == "" && c.ControlPlane.TargetFile == "" {
		return fmt.Errorf("invalid config: control_plane needs a url, a target_file, or both")
	}

	if s := c.Telemetry.SamplingRate; s != nil && (*s < 0 || *s > 1) {
		return fmt.Errorf("invalid config: sampling_rate must be between 0 and 1")
	}

	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or
// ${VAR:default}.
func expandEnvVars(input string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
