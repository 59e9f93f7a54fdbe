// Package supplier fetches and validates declared target state.
//
// Targets arrive either from the control plane, polled over HTTP with ETag
// conditional requests, or from a local target file watched for changes.
// Every document passes CUE schema validation, struct validation and
// duplicate-id checks before it is split into per-kind states for the
// engines; an invalid document is rejected whole and the last valid target
// keeps driving the device.
//
// While the local target file exists it overrides the control plane, which
// gives field technicians a way to pin a device to a known configuration.
// Removing the file hands control back to the cloud on the next poll.
package supplier
