package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrConnectionFailure = errors.New("connection failure")
	ErrTimeout           = errors.New("grading call timed out")
	ErrMalformedStream   = errors.New("malformed response stream")
)

// Outcome labels a call result for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrMalformedStream):
		return "malformed_stream"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "connection_failure"
	}
}

// classify maps an arbitrary backend error onto the client taxonomy.
// callCtx is the per-call context carrying the configured timeout.
func classify(callCtx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConnectionFailure), errors.Is(err, ErrTimeout), errors.Is(err, ErrMalformedStream):
		return err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrConnectionFailure, err)
	}
}
