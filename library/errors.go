package library

import (
	"errors"
	"fmt"
)

var (
	// ErrInput is returned when a required field is empty or missing.
	ErrInput = errors.New("invalid input")
	// ErrNotFound is returned when no row matches.
	ErrNotFound = errors.New("not found")
	// ErrNotAvailable is returned when issuing a book that is already issued.
	ErrNotAvailable = errors.New("book not available")
	// ErrConflict is returned when registering a login name that is taken.
	ErrConflict = errors.New("already exists")
	// ErrPersistence wraps any failure reported by the store.
	ErrPersistence = errors.New("storage failure")
	// ErrAuthFailed is returned for unknown users and wrong passwords alike.
	ErrAuthFailed = errors.New("invalid username or password")
	// ErrForbidden is returned when the caller's role may not run an operation.
	ErrForbidden = errors.New("operation not permitted")
)

func inputError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInput, fmt.Sprintf(format, args...))
}

// persistenceError tags err as a store failure unless it already carries a
// domain classification.
func persistenceError(action string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrInput, ErrNotFound, ErrNotAvailable, ErrConflict, ErrPersistence, ErrForbidden} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, action, err)
}
