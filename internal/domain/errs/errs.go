// Package errs holds the error taxonomy shared by the ingress, the engines and the store.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed marks a payload that will fail identically on every retry.
	ErrMalformed = errors.New("malformed payload")
	// ErrNotFound marks a referential miss. Treated as a benign no-op by handlers.
	ErrNotFound = errors.New("not found")
	// ErrStale marks an update that lost to a newer write of the same record.
	ErrStale = errors.New("stale update")
	// ErrDuplicate is returned by stores when a unique key is violated.
	ErrDuplicate = errors.New("duplicate key")
)

// transientError wraps failures worth redelivering (store or collaborator unavailable).
type transientError struct {
	err error
}

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable. Nil stays nil.
func Transient(err error) error {
	if err == nil || IsTransient(err) {
		return err
	}
	return &transientError{err: err}
}

// IsTransient reports whether any error in the chain was marked with Transient.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// Malformed wraps a decode or validation failure with ErrMalformed.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
