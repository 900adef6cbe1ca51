package transcript

import (
	"context"

	"github.com/pkg/errors"
)

// FailureKind is a coarse classification kept for logs. Users always see the same reply.
type FailureKind string

const (
	FailureCanceled FailureKind = "canceled"
	FailureDeadline FailureKind = "deadline"
	FailureUpstream FailureKind = "upstream"
)

// StreamFailure wraps any error raised while establishing or consuming a reply stream.
type StreamFailure struct {
	Kind FailureKind
	Err  error
}

func (e *StreamFailure) Error() string {
	if e.Err == nil {
		return "stream failure"
	}
	return "stream failure: " + e.Err.Error()
}

func (e *StreamFailure) Unwrap() error { return e.Err }

func classify(err error) FailureKind {
	switch {
	case errors.Is(err, context.Canceled):
		return FailureCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return FailureDeadline
	default:
		return FailureUpstream
	}
}
