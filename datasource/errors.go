package datasource

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a single-row read matched no rows.
	ErrNotFound = errors.New("not found")
	// ErrAmbiguousResult is returned when a single-row read matched more than one row.
	ErrAmbiguousResult = errors.New("ambiguous result")
)

// NetworkError wraps a transport failure talking to the backend.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RemoteError is returned when the backend rejected an operation.
type RemoteError struct {
	Message string
	Code    string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
	}
	return "remote error: " + e.Message
}

// ValidationError reports a malformed predicate, key or payload. It is
// raised before anything is sent to the backend.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error on %q: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// classify maps driver errors onto the taxonomy. Errors that are already
// classified, and context errors, pass through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		netErr    *NetworkError
		remoteErr *RemoteError
		valErr    *ValidationError
	)
	if errors.As(err, &netErr) || errors.As(err, &remoteErr) || errors.As(err, &valErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &RemoteError{Message: pqErr.Message, Code: string(pqErr.Code)}
	}

	var opErr net.Error
	if errors.As(err, &opErr) || errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &NetworkError{Op: op, Err: err}
	}
	return err
}
