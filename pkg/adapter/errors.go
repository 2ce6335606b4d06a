package adapter

import (
	"errors"
	"fmt"
)

// TransientError marks a failure worth retrying: rate limits, network
// timeouts, backend 5xx responses.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

// PermanentError marks a failure that retrying cannot fix: invalid input,
// backend 4xx responses, exhausted quota.
type PermanentError struct {
	err error
}

func (e *PermanentError) Error() string { return e.err.Error() }
func (e *PermanentError) Unwrap() error { return e.err }

// Transientf builds a retryable adapter error.
func Transientf(format string, args ...any) error {
	return &TransientError{err: fmt.Errorf(format, args...)}
}

// Permanentf builds a non-retryable adapter error.
func Permanentf(format string, args ...any) error {
	return &PermanentError{err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err is retryable. Errors outside the taxonomy
// are treated as permanent: an adapter that wants retries must say so.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
