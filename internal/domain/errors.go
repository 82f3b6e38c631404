package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Layers wrap these with context via
// fmt.Errorf("...: %w", err) so callers can match with errors.Is.
var (
	// ErrNotFound indicates a CI, relationship type, mapping, or discovered
	// item reference did not resolve.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateRelationship indicates the multiplicity rule for a
	// relationship type was violated.
	ErrDuplicateRelationship = errors.New("duplicate relationship")

	// ErrCircularDependency indicates a proposed relationship would close a
	// dependency loop.
	ErrCircularDependency = errors.New("circular dependency")

	// ErrTypeConstraintViolation indicates the source or target CI type is
	// incompatible with the relationship type's constraints.
	ErrTypeConstraintViolation = errors.New("type constraint violation")

	// ErrSyncDisabled indicates a sync was requested on a mapping with
	// sync disabled.
	ErrSyncDisabled = errors.New("sync disabled")

	// ErrValidation indicates malformed input to a create or update call.
	ErrValidation = errors.New("validation error")

	// ErrStoreUnavailable indicates a storage client was configured but is
	// not reachable; surfaced on first use rather than at startup.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// NotFoundf wraps ErrNotFound with a formatted description of the missing
// reference.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// Validationf wraps ErrValidation with a formatted description.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}
