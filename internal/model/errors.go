package model

import (
	"errors"
	"fmt"
)

var (
	ErrAuthMissing   = errors.New("authorization header missing")
	ErrAuthMalformed = errors.New("authorization header malformed")
	ErrAuthInvalid   = errors.New("invalid token")

	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	ErrTooLarge       = errors.New("file too large")
	ErrDisallowedType = errors.New("file type not allowed")

	ErrPrinterNotFound    = errors.New("printer not found")
	ErrSpoolerUnavailable = errors.New("spooler unavailable")
	ErrSubmissionFailed   = errors.New("submission failed")
	ErrInvalidCopies      = errors.New("copies must be a positive integer")
	ErrNoPrinterAvailable = errors.New("no printer available")

	ErrInvalidRequest = errors.New("invalid request")
)

// SubmissionError carries a safe, enumerable reason for a failed hand-off to
// the spooler. It matches ErrSubmissionFailed under errors.Is.
type SubmissionError struct {
	Reason string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submission failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("submission failed (%s)", e.Reason)
}

func (e *SubmissionError) Is(target error) bool { return target == ErrSubmissionFailed }

func (e *SubmissionError) Unwrap() error { return e.Err }

// SubmissionFailed builds a SubmissionError.
func SubmissionFailed(reason string, err error) error {
	return &SubmissionError{Reason: reason, Err: err}
}

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}
