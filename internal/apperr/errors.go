// Package apperr defines the error taxonomy shared by the pipeline: validation
// and conflict errors rejected synchronously at the API, transient errors
// retried inside the job queue, and fatal job errors that end a job.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNotFound is returned when a session, job or artifact does not exist
var ErrNotFound = errors.New("not found")

// ValidationError is malformed input or a stale reference. Never retried.
type ValidationError struct {
	Reason  string
	Details []string
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, strings.Join(e.Details, "; "))
}

// ConflictError is a state conflict: a duplicate active job, a lock
// violation or a concurrent edit. The caller resolves it and resubmits.
type ConflictError struct {
	Reason      string
	ActiveJobID string
}

func (e *ConflictError) Error() string {
	if e.ActiveJobID != "" {
		return fmt.Sprintf("%s (active job %s)", e.Reason, e.ActiveJobID)
	}
	return e.Reason
}

// TransientError wraps I/O and timeout failures that are worth retrying
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalJobError ends a job in the failed state with no automatic retry
type FatalJobError struct {
	Err error
}

func (e *FatalJobError) Error() string { return e.Err.Error() }
func (e *FatalJobError) Unwrap() error { return e.Err }

// Validation builds a ValidationError
func Validation(reason string, details ...string) error {
	return &ValidationError{Reason: reason, Details: details}
}

// Validationf builds a ValidationError from a format string
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Conflict builds a ConflictError
func Conflict(reason string) error {
	return &ConflictError{Reason: reason}
}

// Conflictf builds a ConflictError from a format string
func Conflictf(format string, args ...any) error {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

// ActiveJobConflict reports that another job already holds the slot
func ActiveJobConflict(sessionID, jobType, activeJobID string) error {
	return &ConflictError{
		Reason:      fmt.Sprintf("a %s job is already active for session %s", jobType, sessionID),
		ActiveJobID: activeJobID,
	}
}

// Transient marks err as retryable. nil stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Fatal marks err as terminal for the job. nil stays nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalJobError{Err: err}
}

// NotFoundf wraps ErrNotFound with context
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConflict reports whether err is a ConflictError
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsNotFound reports whether err wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Retryable decides whether a job execution error should be retried by the
// queue. Validation, conflict and fatal errors never are; explicit transient
// errors, deadlines and network timeouts are. Anything else is fatal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var fatal *FatalJobError
	if errors.As(err, &fatal) || IsValidation(err) || IsConflict(err) || IsNotFound(err) {
		return false
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
