// Package ai provides common types for the speech and language providers.
// It defines the recoverable/fatal error classification and the retry
// configuration shared by STT, LLM, and TTS implementations.
package ai

import (
	"errors"
	"time"
)

var (
	// ErrRecoverable indicates a temporary provider failure that may succeed
	// if retried. Examples: network timeout, rate limiting, transient 5xx.
	// Recommended action: retry with exponential backoff.
	ErrRecoverable = errors.New("recoverable provider error")

	// ErrFatal indicates a permanent provider failure that will not succeed
	// if retried. Examples: invalid API key, unsupported audio format.
	// Recommended action: fail fast, do not retry.
	ErrFatal = errors.New("fatal provider error")
)

// RetryConfig configures retry behavior for recoverable provider errors.
type RetryConfig struct {
	MaxRetries    int           // Maximum number of retry attempts
	InitialDelay  time.Duration // Delay before the first retry
	MaxDelay      time.Duration // Cap on the delay between retries
	BackoffFactor float64       // Exponential backoff multiplier
	AttemptBudget time.Duration // Per-attempt latency budget; 0 means no budget
}

// DefaultRetryConfig holds the defaults used by the call session pipeline.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    3,
	InitialDelay:  200 * time.Millisecond,
	MaxDelay:      2 * time.Second,
	BackoffFactor: 2.0,
	AttemptBudget: 5 * time.Second,
}

// IsRecoverable reports whether an error should be retried.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable)
}

// IsFatal reports whether an error is permanent and must not be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// ProviderError wraps an underlying error with retry classification.
type ProviderError struct {
	Underlying error
	Retryable  bool
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Underlying.Error()
}

func (e *ProviderError) Unwrap() error {
	if e.Retryable {
		return ErrRecoverable
	}
	return ErrFatal
}

// NewRecoverableError creates a recoverable error with context.
func NewRecoverableError(underlying error, message string) error {
	return &ProviderError{Underlying: underlying, Retryable: true, Message: message}
}

// NewFatalError creates a fatal error with context.
func NewFatalError(underlying error, message string) error {
	return &ProviderError{Underlying: underlying, Retryable: false, Message: message}
}
