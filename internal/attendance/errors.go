package attendance

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation indicates the cadet details are incomplete or invalid.
	ErrValidation = errors.New("invalid input")
	// ErrClosedWindow indicates a sign-in outside the open window.
	ErrClosedWindow = errors.New("program window is closed")
	// ErrCapExceeded indicates tonight's accrued minutes already reached the nightly cap.
	ErrCapExceeded = errors.New("nightly cap reached")
	// ErrNoOpenSession indicates a sign-out with nothing open.
	ErrNoOpenSession = errors.New("no open session")
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a duplicate identifier collision.
	ErrConflict = errors.New("already exists")
	// ErrOverridesDisabled indicates overrides are turned off for this program.
	ErrOverridesDisabled = errors.New("overrides are disabled")
	// ErrNoIdentity indicates the client has no remembered identity.
	ErrNoIdentity = errors.New("no identity for client")
)

// ClosedWindowError carries the next opening alongside ErrClosedWindow.
type ClosedWindowError struct {
	NextOpen time.Time
}

func (e *ClosedWindowError) Error() string {
	return fmt.Sprintf("%s; next window opens %s", ErrClosedWindow, e.NextOpen.Format(time.RFC3339))
}

func (e *ClosedWindowError) Is(target error) bool { return target == ErrClosedWindow }

// CapExceededError carries the accrued minutes alongside ErrCapExceeded.
type CapExceededError struct {
	Accrued int
	Cap     int
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("%s: %d of %d minutes already accrued tonight", ErrCapExceeded, e.Accrued, e.Cap)
}

func (e *CapExceededError) Is(target error) bool { return target == ErrCapExceeded }

// PersistenceError wraps a failure surfaced by the store. It is propagated, never retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// persistErr wraps store errors, letting domain sentinels pass through unchanged.
func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrNoIdentity) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
