package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an engine error for propagation policy. Only
// validation errors are fatal to a SetTarget or Reconcile call; every other
// class is recovered locally and surfaced as data in the pass Result or logs.
type ErrorClass string

const (
	// ErrorClassValidation indicates malformed input at the engine
	// boundary (duplicate ids, empty ids, engine not started). These are
	// programming invariant violations in the caller, rejected before any
	// step is planned.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassStep indicates one adapter call failed. Recorded in the
	// pass Result; the pass continues.
	ErrorClassStep ErrorClass = "step"

	// ErrorClassPersistence indicates a snapshot save failed. Logged; the
	// in-memory state remains authoritative for the process lifetime.
	ErrorClassPersistence ErrorClass = "persistence"

	// ErrorClassLoad indicates the prior snapshot was missing or corrupt
	// at start-up. Treated as empty prior state, never fatal.
	ErrorClassLoad ErrorClass = "load"
)

// Error is a classified engine error with optional resource context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Kind is the resource kind the error relates to, if any.
	Kind Kind `json:"kind,omitempty"`

	// Resource is the resource id the error relates to, if any.
	Resource string `json:"resource,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements class-based equality for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithResource adds resource context to the error.
func (e *Error) WithResource(id string) *Error {
	e.Resource = id
	return e
}

// WithKind adds kind context to the error.
func (e *Error) WithKind(kind Kind) *Error {
	e.Kind = kind
	return e
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *Error {
	return &Error{Class: ErrorClassValidation, Message: message, Err: err}
}

// NewStepError creates a new step error.
func NewStepError(message string, err error) *Error {
	return &Error{Class: ErrorClassStep, Message: message, Err: err}
}

// NewPersistenceError creates a new persistence error.
func NewPersistenceError(message string, err error) *Error {
	return &Error{Class: ErrorClassPersistence, Message: message, Err: err}
}

// NewLoadError creates a new load error.
func NewLoadError(message string, err error) *Error {
	return &Error{Class: ErrorClassLoad, Message: message, Err: err}
}

// IsValidation returns true if the error is classified as validation.
func IsValidation(err error) bool {
	return hasClass(err, ErrorClassValidation)
}

// IsStep returns true if the error is classified as a step failure.
func IsStep(err error) bool {
	return hasClass(err, ErrorClassStep)
}

// IsPersistence returns true if the error is classified as persistence.
func IsPersistence(err error) bool {
	return hasClass(err, ErrorClassPersistence)
}

// IsLoad returns true if the error is classified as a load failure.
func IsLoad(err error) bool {
	return hasClass(err, ErrorClassLoad)
}

func hasClass(err error, class ErrorClass) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}
