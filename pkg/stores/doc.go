// Package stores provides the persistence layer for the supervisor.
// It includes a SQLite-based snapshot store with WAL mode that backs the
// engine's crash-safety guarantee: one snapshot row per resource kind,
// overwritten after every applied step, hash-checked at load, plus an
// append-only history of reconciliation pass outcomes.
package stores
