package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		protectedResourcePolicy(),
		massRemovalPolicy(),
		privilegedContainerPolicy(),
	}
}

// protectedResourcePolicy blocks removal of resources carrying the protected
// label. The planner keeps labels on remove steps for exactly this rule.
func protectedResourcePolicy() Policy {
	return Policy{
		Name:        "protected-resource",
		Description: "Prevents removal of resources labeled protected=true",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"safety", "removal"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package supervisor.policies.protected

import rego.v1

deny contains violation if {
	input.step.action == "remove"
	resource := input.step.resource

	resource.labels.protected == "true"

	violation := {
		"message": sprintf("Cannot remove resource %s marked as protected", [resource.id]),
		"severity": "critical",
		"resource": resource.id,
	}
}`,
	}
}

// massRemovalPolicy denies removal steps when a single pass would remove more
// resources than the budget allows. A control-plane bug that empties the
// target document must not wipe the device.
func massRemovalPolicy() Policy {
	return Policy{
		Name:        "mass-removal",
		Description: "Denies removal steps when a pass would remove more than 10 resources",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety", "removal", "budget"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package supervisor.policies.removal_budget

import rego.v1

max_removals := 10

deny contains violation if {
	input.step.action == "remove"

	input.plan.removes > max_removals

	violation := {
		"message": sprintf("Plan removes %d resources, exceeding the budget of %d", [input.plan.removes, max_removals]),
		"severity": "error",
		"resource": input.step.resource.id,
	}
}`,
	}
}

// privilegedContainerPolicy blocks creation or update of containers that ask
// for privileged mode.
func privilegedContainerPolicy() Policy {
	return Policy{
		Name:        "container-privileged",
		Description: "Prevents containers from being created or updated with privileged mode",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"containers", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package supervisor.policies.containers

import rego.v1

deny contains violation if {
	input.kind == "container"
	input.step.action in ["add", "update"]
	resource := input.step.resource

	resource.spec.privileged == true

	violation := {
		"message": sprintf("Container %s requests privileged mode", [resource.id]),
		"severity": "error",
		"resource": resource.id,
	}
}`,
	}
}
