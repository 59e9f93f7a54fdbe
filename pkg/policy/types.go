package policy

import (
	"time"

	"github.com/iotistic/supervisor/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that are logged but do not deny a step.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that deny the offending step.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that deny the offending step and
	// should page someone.
	SeverityCritical Severity = "critical"
)

// Denies reports whether a violation at this severity removes the step from
// the plan.
func (s Severity) Denies() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation against a planned step.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Resource is the resource ID that violated the policy.
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// Input is the document handed to Rego for each planned step.
type Input struct {
	// Kind is the resource kind of the plan under evaluation.
	Kind engine.Kind `json:"kind"`

	// Step is the step under evaluation.
	Step *engine.Step `json:"step"`

	// Plan summarizes the whole pass the step belongs to, so policies can
	// express plan-wide limits such as a removal budget.
	Plan *PlanSummary `json:"plan"`

	// Context provides additional evaluation context.
	Context *Context `json:"context"`
}

// PlanSummary is the per-pass aggregate visible to policies.
type PlanSummary struct {
	Adds    int `json:"adds"`
	Updates int `json:"updates"`
	Removes int `json:"removes"`
	Total   int `json:"total"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Environment is the environment (e.g. "production", "staging").
	Environment string `json:"environment,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Metadata contains additional context metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
