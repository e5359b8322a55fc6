package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a document is not found
	ErrNotFound = errors.New("document not found")
	// ErrAlreadySubscribed is returned when awaiting a result that is already listened to
	ErrAlreadySubscribed = errors.New("can't await after subscribing")
	// ErrAlreadyAwaited is returned when listening to a result that is already awaited
	ErrAlreadyAwaited = errors.New("can't subscribe after awaiting")
	// ErrInvalidQuery is returned when a query is malformed
	ErrInvalidQuery = errors.New("invalid query")
	// ErrInvalidCursor is returned when order cursors are misplaced
	ErrInvalidCursor = errors.New("invalid cursor")
	// ErrInvalidField is returned when a field path does not exist on the document shape
	ErrInvalidField = errors.New("invalid field path")
	// ErrInvalidID is returned when a document id does not match the id format
	ErrInvalidID = errors.New("invalid document id")
	// ErrUnknownCollection is returned when a collection is not declared in the schema
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrWrongEnvironment is returned when an operation runs in the wrong runtime environment
	ErrWrongEnvironment = errors.New("wrong runtime environment")
	// ErrTransactionConflict is returned when a transaction exhausted its retries
	ErrTransactionConflict = errors.New("transaction conflict")
	// ErrUnsupported is returned when a driver can't execute a request
	ErrUnsupported = errors.New("operation not supported by driver")
	// ErrClosed is returned when operating on a closed driver
	ErrClosed = errors.New("driver is closed")
	// ErrCanceled is returned when the operation is canceled by the client
	ErrCanceled = errors.New("operation canceled")
)

// UsageError reports a violation of the await/listen exclusivity contract.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return "usage error: " + e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

// EnvironmentError reports an operation requested in the wrong runtime context.
type EnvironmentError struct {
	Expected Environment
	Actual   Environment
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("expected %s environment, running as %s", e.Expected, e.Actual)
}

func (e *EnvironmentError) Unwrap() error { return ErrWrongEnvironment }

// QueryConstructionError reports an invalid query or reference shape detected
// before anything reaches the driver.
type QueryConstructionError struct {
	Reason string
	Err    error
}

func (e *QueryConstructionError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Reason
}

func (e *QueryConstructionError) Unwrap() error { return e.Err }

// NewQueryError builds a QueryConstructionError around one of the query sentinels.
func NewQueryError(err error, format string, args ...interface{}) *QueryConstructionError {
	return &QueryConstructionError{Err: err, Reason: fmt.Sprintf(format, args...)}
}

// DriverError wraps any failure surfaced by a driver.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string { return "driver " + e.Op + ": " + e.Err.Error() }

func (e *DriverError) Unwrap() error { return e.Err }

// WrapDriverError wraps a driver failure once. It converts context.Canceled and
// context.DeadlineExceeded to ErrCanceled.
func WrapDriverError(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DriverError
	if errors.As(err, &de) {
		return err
	}
	if IsCanceled(err) {
		err = ErrCanceled
	}
	return &DriverError{Op: op, Err: err}
}

// IsCanceled returns true if the error is due to context cancellation or deadline exceeded.
// It checks both direct context errors and wrapped errors (e.g., from MongoDB driver).
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrCanceled) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "context canceled") || strings.Contains(errStr, "context deadline exceeded")
}

// IsUsageError reports whether err is a UsageError.
func IsUsageError(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}

// IsQueryError reports whether err is a QueryConstructionError.
func IsQueryError(err error) bool {
	var qe *QueryConstructionError
	return errors.As(err, &qe)
}

// IsDriverError reports whether err is a DriverError.
func IsDriverError(err error) bool {
	var de *DriverError
	return errors.As(err, &de)
}
