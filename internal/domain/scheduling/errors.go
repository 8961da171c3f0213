package scheduling

import (
	"errors"
	"fmt"
)

// Errors returned by the scheduling core. Validation and invariant errors are
// raised before any mutation; persistence errors are raised after the
// in-memory state has been rolled back to its pre-operation value. Soft
// conflicts (a collider that could not be relocated) are never errors; they
// are recorded on the affected appointment instead.
var (
	ErrNotFound         = errors.New("record not found")
	ErrLastType         = errors.New("cannot delete the last availability type")
	ErrSlotOccupied     = errors.New("a confirmed appointment already occupies this slot")
	ErrStatusTransition = errors.New("confirmed appointments cannot revert to pending")
)

// ValidationError reports a malformed input rejected at the API boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PersistenceError wraps a storage failure. The operation it belonged to has
// been rolled back; the caller may retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
