package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Kind identifies a class of managed resources. Each kind is reconciled by
// its own Engine instance against its own adapter and snapshot.
type Kind string

// Well-known resource kinds managed by the supervisor.
const (
	// KindSensor covers industrial-protocol sensor devices (Modbus TCP
	// endpoints) whose definitions are pushed from the control plane.
	KindSensor Kind = "sensor"

	// KindContainer covers containerized application services.
	KindContainer Kind = "container"
)

// Validate checks that the kind is non-empty.
func (k Kind) Validate() error {
	if k == "" {
		return fmt.Errorf("resource kind must not be empty")
	}
	return nil
}

// Resource is one managed resource: an identity plus an opaque specification.
// The id is the sole identity key within a kind; two resources with equal id
// but different specs are the same resource in different states.
type Resource struct {
	// ID uniquely identifies the resource within its kind.
	ID string `json:"id"`

	// Spec is the full desired configuration of the resource. The engine
	// never interprets it; it only needs equality and serialization.
	Spec json.RawMessage `json:"spec"`

	// Labels are key-value pairs attached by the target supplier. The
	// engine ignores them; the policy gate may match on them.
	Labels map[string]string `json:"labels,omitempty"`
}

// Clone returns a deep copy of the resource.
func (r Resource) Clone() Resource {
	out := Resource{ID: r.ID}
	if r.Spec != nil {
		out.Spec = bytes.Clone(r.Spec)
	}
	if r.Labels != nil {
		out.Labels = make(map[string]string, len(r.Labels))
		for k, v := range r.Labels {
			out.Labels[k] = v
		}
	}
	return out
}

// State is an ordered collection of resources, used for both target state
// (what should exist) and current state (what the engine believes exists).
type State []Resource

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for i, r := range s {
		out[i] = r.Clone()
	}
	return out
}

// Validate rejects states containing duplicate resource ids or resources
// without an id. Duplicate ids are a programming invariant violation in the
// target supplier, not a runtime condition the engine recovers from.
func (s State) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for _, r := range s {
		if r.ID == "" {
			return NewValidationError("resource has empty id", nil)
		}
		if _, dup := seen[r.ID]; dup {
			return NewValidationError("duplicate resource id", nil).WithResource(r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

// index returns an id-keyed lookup into the state.
func (s State) index() map[string]int {
	idx := make(map[string]int, len(s))
	for i, r := range s {
		idx[r.ID] = i
	}
	return idx
}

// SpecEqual compares two specs by deep structural equality of their decoded
// JSON values, so formatting and key order differences do not count as drift.
func SpecEqual(a, b json.RawMessage) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	var av, bv interface{}
	if err := json.Unmarshal(a, &av); err != nil {
		return bytes.Equal(a, b)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return bytes.Equal(a, b)
	}
	return reflect.DeepEqual(av, bv)
}

// Action is the type of change a step applies to a resource.
type Action string

const (
	// ActionAdd creates a resource that exists in target but not current.
	ActionAdd Action = "add"

	// ActionUpdate replaces the spec of a resource present in both states.
	ActionUpdate Action = "update"

	// ActionRemove deletes a resource present in current but not target.
	ActionRemove Action = "remove"
)

// Validate checks if the action is one of the closed set.
func (a Action) Validate() error {
	switch a {
	case ActionAdd, ActionUpdate, ActionRemove:
		return nil
	default:
		return fmt.Errorf("invalid step action: %s", a)
	}
}

// Step is one planned change. For add and update the resource carries the
// full target spec; for remove only the identity matters.
type Step struct {
	Action   Action   `json:"action"`
	Resource Resource `json:"resource"`
}

// StepError records the failure of a single step without interpreting the
// adapter's reason beyond its message.
type StepError struct {
	ResourceID string `json:"resource_id"`
	Message    string `json:"message"`
}

// Result is the aggregate outcome of one reconciliation pass.
type Result struct {
	// PassID uniquely identifies the pass, for correlating events and logs.
	PassID string `json:"pass_id"`

	// Success is true iff no step failed.
	Success bool `json:"success"`

	// Added, Updated and Removed count the steps that completed.
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`

	// Errors lists the per-resource failures of this pass.
	Errors []StepError `json:"errors,omitempty"`

	// Timestamp is when the pass completed.
	Timestamp time.Time `json:"timestamp"`

	// Duration is the total pass duration.
	Duration time.Duration `json:"duration"`
}

// Changed reports whether the pass applied any change.
func (r *Result) Changed() bool {
	return r.Added+r.Updated+r.Removed > 0
}

// Snapshot is the durable form of a kind's current state. It is overwritten
// after every successful step so that a restart resumes from the last applied
// change, never from the start of an interrupted pass.
type Snapshot struct {
	// Kind tags the snapshot with the resource kind it belongs to.
	Kind Kind `json:"kind"`

	// State is the current state at the time of the save.
	State State `json:"state"`

	// PassID is the reconciliation pass that produced this snapshot.
	PassID string `json:"pass_id"`

	// SavedAt is when the snapshot was written.
	SavedAt time.Time `json:"saved_at"`
}

// Phase describes the engine lifecycle for one resource kind.
type Phase string

const (
	// PhaseUninitialized is the state before Start is called.
	PhaseUninitialized Phase = "uninitialized"

	// PhaseLoading covers reading the prior snapshot at start-up.
	PhaseLoading Phase = "loading"

	// PhaseIdle means no reconciliation pass is in flight.
	PhaseIdle Phase = "idle"

	// PhaseReconciling means a pass is executing steps.
	PhaseReconciling Phase = "reconciling"
)
