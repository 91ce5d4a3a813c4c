package fetch

import (
	"errors"
	"fmt"
)

// Common errors returned by the fetcher.
var (
	// ErrAuthExpired is returned when the boundary signals that the session
	// is no longer valid. It is fatal for the whole run.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrRetryExhausted is returned when all attempts failed with retryable errors.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled while
	// waiting for a token or sleeping between attempts.
	ErrContextCancelled = errors.New("context cancelled")
)

// FetchError represents a failed remote call with its classification.
type FetchError struct {
	URL        string
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("fetch %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must abort the entire run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}

// shouldRetry determines if an error class is retried.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		// auth and client errors are never retried
		return false
	}
}
