// Package policy screens reconciliation plans through Open Policy Agent
// before the engine touches any device or container.
//
// The Gate evaluates every planned step against a set of Rego policies.
// Each policy queries a deny set; a violation at error or critical severity
// removes the step from the plan and surfaces it as a step error in the pass
// result, while info and warning violations are only logged. The rest of the
// plan executes unaffected, so one blocked step never stalls reconciliation.
//
// Policies receive a JSON input document per step:
//
//	{
//	  "kind": "container",
//	  "step": {
//	    "action": "remove",
//	    "resource": {"id": "app", "spec": {...}, "labels": {...}}
//	  },
//	  "plan": {"adds": 1, "updates": 0, "removes": 3, "total": 4},
//	  "context": {"environment": "production", "timestamp": "..."}
//	}
//
// The plan summary lets a policy reason about the pass as a whole, such as
// the built-in removal budget.
//
// Built-in policies ship compiled in (see GetBuiltinPolicies); operators add
// their own as .rego or .json files, which the Loader reads and watches for
// changes, swapping the active set on the fly.
package policy
