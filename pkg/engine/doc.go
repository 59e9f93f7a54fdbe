// Package engine implements the reconciliation core of the Iotistic edge
// supervisor: the control loop that converges a device's actual configuration
// toward a cloud-declared target configuration.
//
// # Overview
//
// One Engine instance manages exactly one resource kind (sensor devices,
// containers). Each pass runs the same four phases:
//
//  1. Plan - diff the target state against the current state (Planner)
//  2. Execute - apply each step through the resource Adapter (stepExecutor)
//  3. Persist - write a state snapshot after every successful step (StateStore)
//  4. Notify - publish typed lifecycle events (Publisher)
//
// The engine itself is resource-kind-agnostic: it treats resource specs as
// opaque JSON blobs and needs only identity and structural equality. All
// knowledge of how to create, update, or remove a concrete resource lives
// behind the Adapter interface.
//
// # Core Domain Types
//
//   - Resource: an identity plus an opaque spec; the unit of management
//   - State: an ordered collection of resources (target or current)
//   - Step: one planned change (add/update/remove) for one resource
//   - Result: the aggregate outcome of one reconciliation pass
//   - Snapshot: the durable form of current state, tagged with its kind
//
// # Failure Semantics
//
// A failed step is recorded in the pass Result and execution continues with
// the next step; one malfunctioning resource never blocks convergence of the
// others. Snapshot save failures are logged and do not roll back in-memory
// state. Only target validation failures (duplicate resource ids) fail a
// SetTarget call outright.
//
// # Concurrency
//
// At most one reconciliation pass per kind is in flight at any time. A target
// that arrives while a pass is running supersedes any earlier pending target:
// the active pass finishes, then a fresh plan runs against the newest target.
// Intermediate targets are dropped by design, since the control plane always
// sends full replacements. Engines for different kinds are fully independent.
package engine
