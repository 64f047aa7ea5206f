package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/emart/api/internal/repositories"
)

// WrapError annotates Firestore errors with repository semantics. Context cancellations are passed
// through unchanged.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr *repositories.Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.Op == "" {
			repoErr.Op = op
		}
		return repoErr
	}

	e := &repositories.Error{Op: op, Err: err}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	case codes.NotFound:
		e.NotFound = true
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		e.Conflict = true
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal:
		e.Unavailable = true
	}
	return e
}
