package coordinator

import (
	"errors"
	"fmt"
)

// ErrModeConflict rejects a manual-only command while the system is automatic.
var ErrModeConflict = errors.New("mode conflict: manual mode required")

// ValidationError names the rejected field of a command or request.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func invalid(field string, value any, format string, args ...any) error {
	return &ValidationError{Field: field, Value: value, Reason: fmt.Sprintf(format, args...)}
}

// PersistenceError is a failed durable write or read.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence %s: %v", e.Op, e.Err) }

func (e *PersistenceError) Unwrap() error { return e.Err }

// TransportError is a failed publish or subscriber delivery. It is only
// logged and never returned to the issuer of a command.
type TransportError struct {
	Target string
	Err    error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Target, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }
