package service

import (
	"context"
	"errors"
	"fmt"
)

// errNoReading is returned when the driver could not obtain a confident
// state reading.
var errNoReading = errors.New("no confident state reading")

// TransientError is a driver failure that is worth a fresh session.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// retryable decides whether the scheduler requeues an account after err
// escaped its state machine. Errors caused by shutdown are final; anything
// else, recovered panics included, counts toward the per-account failure cap.
func retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
