// Package errdefs defines the error kinds shared by every store in the
// evidence registry. Callers classify failures with errors.Is/errors.As;
// the HTTP mapping lives in the (external) API layer.
package errdefs

import (
	"errors"
	"fmt"
)

// ErrNotFound covers missing rows, soft-deleted rows queried without
// include_deleted, and tenant mismatches. A cross-tenant reference is
// reported identically to a missing row so that existence never leaks
// across tenants.
var ErrNotFound = errors.New("not found")

// ErrDuplicateActiveKey is returned when a create would collide with an
// active (non-tombstoned) row holding the same natural key.
var ErrDuplicateActiveKey = errors.New("duplicate active key")

// ErrConflictRetryable marks a uniqueness race lost to a concurrent
// writer. Stores retry it once internally by re-reading the winner;
// if it still surfaces, the caller may treat a re-read as success.
var ErrConflictRetryable = errors.New("conflicting concurrent write")

// ValidationError reports a cross-reference that does not hold, such as
// a test attribute belonging to a different control than the binding,
// or a project control from another project than the target request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validationf builds a ValidationError for the given field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StorageError wraps a transport or transaction failure. The enclosing
// transaction has already been rolled back when one is returned.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError for the named operation.
// A nil err returns nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
