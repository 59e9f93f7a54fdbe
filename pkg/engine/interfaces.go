package engine

import "context"

// Adapter is the resource-kind-specific implementation of create, update and
// remove. It is the only component that touches the real external system
// (Docker daemon, Modbus endpoint). Adapters must be safe to call with a
// resource that may already exist externally: whether that is an error or a
// no-op is the adapter's decision, the engine only captures the message.
//
// Adapters own their own deadlines; the engine imposes no per-step timeout.
type Adapter interface {
	// Kind returns the resource kind this adapter manages.
	Kind() Kind

	// Create brings a new resource into existence.
	Create(ctx context.Context, res Resource) error

	// Update replaces an existing resource's configuration with the full
	// new spec. Partial in-place edits are never requested.
	Update(ctx context.Context, res Resource) error

	// Remove deletes the resource with the given id.
	Remove(ctx context.Context, id string) error
}

// StateStore persists one snapshot per resource kind, representing the last
// successfully reconciled current state.
type StateStore interface {
	// Load returns the stored snapshot for a kind, or (nil, nil) when no
	// snapshot exists yet.
	Load(ctx context.Context, kind Kind) (*Snapshot, error)

	// Save overwrites the snapshot for the snapshot's kind.
	Save(ctx context.Context, snap *Snapshot) error
}

// Notifier receives the engine's typed lifecycle events. Publisher is the
// in-process implementation; tests substitute their own.
type Notifier interface {
	Publish(event Event) error
}

// PolicyGate screens a computed plan before execution. Denied steps are not
// executed; they surface as per-resource errors in the pass Result, so a
// denial behaves exactly like a failed step.
type PolicyGate interface {
	// Check partitions the steps into allowed and denied. The returned
	// error indicates a gate malfunction, not a denial; the engine logs
	// it and executes the plan unfiltered.
	Check(ctx context.Context, kind Kind, steps []Step) (allowed []Step, denied []StepError, err error)
}
