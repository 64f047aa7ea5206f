package repositories

import (
	"errors"
	"fmt"
)

// Error is the RepositoryError used by backends that do not carry their own error type.
type Error struct {
	Op          string
	Err         error
	NotFound    bool
	Conflict    bool
	Unavailable bool
}

var _ RepositoryError = (*Error)(nil)

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the error represents a missing document.
func (e *Error) IsNotFound() bool { return e != nil && e.NotFound }

// IsConflict reports whether the error represents a conflicting write.
func (e *Error) IsConflict() bool { return e != nil && e.Conflict }

// IsUnavailable reports whether the error represents a backend outage.
func (e *Error) IsUnavailable() bool { return e != nil && e.Unavailable }

// NewNotFoundError reports a missing document.
func NewNotFoundError(op, collection, id string) *Error {
	return &Error{Op: op, Err: fmt.Errorf("%s/%s not found", collection, id), NotFound: true}
}

// NewConflictError reports a write that violates an identity or uniqueness constraint.
func NewConflictError(op string, err error) *Error {
	return &Error{Op: op, Err: err, Conflict: true}
}

// NewUnavailableError reports a backend failure.
func NewUnavailableError(op string, err error) *Error {
	return &Error{Op: op, Err: err, Unavailable: true}
}

// IsNotFound reports whether err carries repository not-found semantics.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries repository conflict semantics.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
