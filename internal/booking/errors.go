package booking

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	// ErrConflict covers a lost optimistic-lock race and a capacity bound hit at write time.
	// Callers may retry after re-reading state.
	ErrConflict          = errors.New("conflict")
	ErrInsufficientSeats = fmt.Errorf("%w: insufficient seats", ErrConflict)
	ErrStore             = errors.New("store unavailable")
)

// StoreError wraps a backing-store failure. errors.Is(err, ErrStore) matches it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// classify passes errors the service already typed through and treats anything else as a
// store failure.
func classify(op string, err error) error {
	for _, known := range []error{ErrInvalidRequest, ErrNotFound, ErrConflict, ErrStore} {
		if errors.Is(err, known) {
			return err
		}
	}
	return storeErr(op, err)
}
