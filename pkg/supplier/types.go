package supplier

import (
	"time"

	"github.com/iotistic/supervisor/pkg/engine"
)

// TargetDocument is the wire format of a declared target state. The control
// plane serves one per device; the same format is accepted from a local
// override file.
type TargetDocument struct {
	// Version is the document schema version. Only version 1 exists.
	Version int `json:"version"`

	// Sensors declares the Modbus sensors this device must poll.
	Sensors []SensorTarget `json:"sensors,omitempty"`

	// Containers declares the application containers this device must run.
	Containers []ContainerTarget `json:"containers,omitempty"`
}

// SensorTarget declares one Modbus TCP sensor endpoint.
type SensorTarget struct {
	ID     string            `json:"id" validate:"required"`
	Host   string            `json:"host" validate:"required,hostname|ip"`
	Port   int               `json:"port" validate:"omitempty,min=1,max=65535"`
	UnitID int               `json:"unit_id" validate:"omitempty,min=0,max=247"`
	Labels map[string]string `json:"labels,omitempty"`

	// Registers maps named readings onto holding register ranges.
	Registers []RegisterTarget `json:"registers" validate:"required,min=1,dive"`

	// PollInterval overrides the adapter default, e.g. "10s".
	PollInterval string `json:"poll_interval,omitempty"`
}

// RegisterTarget maps a named reading onto a holding register range. Raw
// register values are scaled integers; Scale converts them to engineering
// units (a temperature stored as °C x 10 has scale 0.1).
type RegisterTarget struct {
	Name    string  `json:"name" validate:"required"`
	Address uint16  `json:"address"`
	Count   uint16  `json:"count" validate:"omitempty,min=1,max=125"`
	Scale   float64 `json:"scale,omitempty"`
	Unit    string  `json:"unit,omitempty"`
}

// ContainerTarget declares one managed container.
type ContainerTarget struct {
	ID         string            `json:"id" validate:"required"`
	Image      string            `json:"image" validate:"required"`
	Env        map[string]string `json:"env,omitempty"`
	Ports      []PortTarget      `json:"ports,omitempty" validate:"omitempty,dive"`
	Volumes    []string          `json:"volumes,omitempty"`
	Command    []string          `json:"command,omitempty"`
	Restart    string            `json:"restart,omitempty" validate:"omitempty,oneof=no always unless-stopped on-failure"`
	Privileged bool              `json:"privileged,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
}

// PortTarget publishes a container port on the host.
type PortTarget struct {
	Host      int    `json:"host" validate:"required,min=1,max=65535"`
	Container int    `json:"container" validate:"required,min=1,max=65535"`
	Protocol  string `json:"protocol,omitempty" validate:"omitempty,oneof=tcp udp"`
}

// Target is a parsed and validated document, one State per resource kind.
type Target struct {
	// States holds the declared state for every kind the document names.
	// A kind absent from the document maps to an empty State, so dropping
	// all sensors from the document removes them from the device.
	States map[engine.Kind]engine.State

	// Source records where the document came from.
	Source string

	// FetchedAt is when the document was received.
	FetchedAt time.Time
}

// Handler receives validated targets from a source. Implementations hand the
// per-kind states to their engines.
type Handler interface {
	HandleTarget(target *Target)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(target *Target)

// HandleTarget calls f.
func (f HandlerFunc) HandleTarget(target *Target) { f(target) }
