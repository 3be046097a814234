package reminder

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown reminder id.
	ErrNotFound = errors.New("reminder not found")
	// ErrConflict is returned when an optimistic update lost too many races in a row.
	ErrConflict = errors.New("reminder was modified concurrently")
	// errNotClaimable aborts a claim whose precondition no longer holds.
	errNotClaimable = errors.New("reminder is not claimable")
	// errNotDispatching aborts a release of a reminder that is no longer in flight.
	errNotDispatching = errors.New("reminder is not dispatching")
)

// ValidationError reports bad input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InvalidStateError reports a transition attempted from an incompatible state.
type InvalidStateError struct {
	Current    Status
	Transition string
	Reason     string
}

func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("cannot %s reminder in state %q", e.Transition, e.Current)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// StoreError wraps a persistence failure. Callers may retry.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("reminder store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.Is(err, ErrNotFound) || errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsInvalidState reports whether err is an InvalidStateError.
func IsInvalidState(err error) bool {
	var se *InvalidStateError
	return errors.As(err, &se)
}

// IsStoreError reports whether err is a retriable StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
