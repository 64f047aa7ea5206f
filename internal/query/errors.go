package query

import "errors"

var (
	// ErrValidation marks client mistakes in list parameters.
	ErrValidation = errors.New("query: invalid request")
	// ErrInvalidStatus is returned when a status filter names no known order status.
	ErrInvalidStatus = errors.New("query: invalid status filter")
	// ErrStorage wraps failures of the underlying engine. Its message is not stable.
	ErrStorage = errors.New("query: storage failure")
	// ErrUnsupportedStage is returned when an engine meets a stage it cannot execute.
	ErrUnsupportedStage = errors.New("query: unsupported stage")
	// ErrUnknownEntity is returned when a descriptor targets a view the builder does not know.
	ErrUnknownEntity = errors.New("query: unknown entity")
)
