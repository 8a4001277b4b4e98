// Package bmerrors contains the typed errors shared by the benchmark driver components.
//
// Callers should inspect errors with errors.As rather than comparing messages. Errors are
// usually returned wrapped with github.com/pkg/errors, so the concrete type is only reachable
// through the chain. If several independent failures occur in one operation, they are
// combined into a multierror.Error from github.com/hashicorp/go-multierror.
package bmerrors

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned whenever some resource, e.g., an event or a session, isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrNotFound struct {
	Type    string // Resource type, e.g., "event" or "session"
	Value   string // Resource id
	Message string // An optional message to include in the error message
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("could not find %s %q", err.Type, err.Value)
	} else {
		s = fmt.Sprintf("could not find %q", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrAlreadyExists is a generic error to be returned whenever some resource already exists.
type ErrAlreadyExists struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrAlreadyExists) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q already exists", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q already exists", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrInvalidArgument is returned when a value supplied by the caller or by configuration is invalid.
type ErrInvalidArgument struct {
	Name    string      // Name of the field/argument that is invalid
	Value   interface{} // The invalid value
	Message string      // An optional message to include in the error message
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %v is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// ErrDuplicateEvent is returned when an event is inserted with a pre-assigned id that is already in the store.
// It is not retryable: the lock held by that id can never be reused.
type ErrDuplicateEvent struct {
	EventId string
}

func (err *ErrDuplicateEvent) Error() string {
	return fmt.Sprintf("event %q already exists", err.EventId)
}

// ErrStoreUnavailable wraps a failure to reach the shared store. Callers may retry.
type ErrStoreUnavailable struct {
	Operation string
	Cause     error
}

func (err *ErrStoreUnavailable) Error() string {
	return fmt.Sprintf("store unavailable during %s: %s", err.Operation, err.Cause)
}

func (err *ErrStoreUnavailable) Unwrap() error {
	return err.Cause
}

// ErrUnknownEvent is returned when a successor event name is not bound to any processor.
type ErrUnknownEvent struct {
	EventName string
	Selector  string
}

func (err *ErrUnknownEvent) Error() string {
	if err.Selector != "" {
		return fmt.Sprintf("event selector %q contains unknown event mapping %q; no further events will be published", err.Selector, err.EventName)
	}
	return fmt.Sprintf("event selector contains unknown event mapping %q; no further events will be published", err.EventName)
}

// ErrSessionEnded is returned when ending a session that has already been ended.
type ErrSessionEnded struct {
	SessionId string
	EndTime   int64
}

func (err *ErrSessionEnded) Error() string {
	return fmt.Sprintf("session %q already ended at %d", err.SessionId, err.EndTime)
}

// ErrInvalidTransition is returned when a test run is moved between two states that the lifecycle doesn't allow.
type ErrInvalidTransition struct {
	From string
	To   string
}

func (err *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("transition from state %s to state %s is not allowed", err.From, err.To)
}

// ErrRunTimeout is returned by the run watchdog when a test run fails to make progress.
type ErrRunTimeout struct {
	Reason  string
	Elapsed time.Duration
}

func (err *ErrRunTimeout) Error() string {
	return fmt.Sprintf("test run %s after %s", err.Reason, err.Elapsed)
}

// IsRetryable returns true if err, or any error it wraps, signals a transient store failure.
func IsRetryable(err error) bool {
	var e *ErrStoreUnavailable
	return errors.As(err, &e)
}

// IsFatal returns true for configuration and lifecycle errors that must abort a run.
func IsFatal(err error) bool {
	var unknown *ErrUnknownEvent
	if errors.As(err, &unknown) {
		return true
	}
	var transition *ErrInvalidTransition
	if errors.As(err, &transition) {
		return true
	}
	var invalid *ErrInvalidArgument
	return errors.As(err, &invalid)
}
