package report

import (
	"errors"
	"fmt"
)

// Every error returned by Service is one of the types below. Callers branch
// with errors.As; Kind is used as the metrics outcome label.

type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
func (e *ValidationError) Kind() string  { return "validation" }

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// OwnershipError means a child id is not under the stated parent. The whole
// batch is rejected.
type OwnershipError struct {
	Msg string
}

func (e *OwnershipError) Error() string { return e.Msg }
func (e *OwnershipError) Kind() string  { return "ownership" }

type PermissionError struct {
	Msg string
}

func (e *PermissionError) Error() string { return e.Msg }
func (e *PermissionError) Kind() string  { return "permission" }

// PreconditionError carries the report's actual status so the caller can resync.
type PreconditionError struct {
	Current Status
	Msg     string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s (current status: %s)", e.Msg, e.Current)
}
func (e *PreconditionError) Kind() string { return "precondition" }

type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %d not found", e.Entity, e.ID) }
func (e *NotFoundError) Kind() string  { return "not_found" }

// AuthenticationError means credential re-verification failed.
type AuthenticationError struct{}

func (e *AuthenticationError) Error() string { return "credential verification failed" }
func (e *AuthenticationError) Kind() string  { return "authentication" }

// StorageError wraps a failed transaction. Nothing was committed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("%s: storage failure: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }
func (e *StorageError) Kind() string  { return "storage" }

type kinded interface {
	Kind() string
}

// classify passes typed errors through and wraps everything else as StorageError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var k kinded
	if errors.As(err, &k) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return "storage"
}
