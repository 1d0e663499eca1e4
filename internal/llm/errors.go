// Package llm provides the generator clients and the error classification
// the resilience layer keys its retry decisions on. The external generator
// surfaces failures as free-text messages; Classify buckets them into a
// small taxonomy so batch/pipeline code can decide retryability without
// knowing provider specifics.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorClass buckets generator failures for retry policy.
type ErrorClass string

const (
	ErrClassRateLimit  ErrorClass = "rate_limit"
	ErrClassNetwork    ErrorClass = "network"
	ErrClassAuth       ErrorClass = "auth"
	ErrClassValidation ErrorClass = "validation"
	ErrClassServer     ErrorClass = "server"
	ErrClassUnknown    ErrorClass = "unknown"
)

// RateLimitError indicates the generator returned a rate limit response.
// Callers can use errors.As to detect it and honor RetryAfter.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit exceeded, retry after %v", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limit exceeded", e.Provider)
}

// Classify buckets an error by message-pattern matching. Typed errors win
// over patterns; context cancellation is never retried and classifies as
// unknown so callers surface it unchanged.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrClassUnknown
	}

	var rle *RateLimitError
	if errors.As(err, &rle) {
		return ErrClassRateLimit
	}
	if errors.Is(err, context.Canceled) {
		return ErrClassUnknown
	}

	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "rate limit", "rate_limit", "too many requests", "429", "quota exceeded", "resource exhausted", "resource_exhausted"):
		return ErrClassRateLimit
	case containsAny(msg, "unauthorized", "401", "403", "permission denied", "api key", "invalid key", "authentication"):
		return ErrClassAuth
	case containsAny(msg, "internal server", "500", "502", "503", "504", "bad gateway", "overloaded", "unavailable"):
		return ErrClassServer
	case containsAny(msg, "timeout", "deadline exceeded", "connection", "network", "dns", "tls", "broken pipe", "eof", "reset by peer"):
		return ErrClassNetwork
	case containsAny(msg, "parse", "unmarshal", "malformed", "invalid json", "unexpected end", "truncated", "missing field"):
		return ErrClassValidation
	default:
		return ErrClassUnknown
	}
}

// IsRetryable reports whether a class is worth retrying with backoff.
// Validation errors count as transient here because malformed generator
// output is usually nondeterministic (truncated or unparseable responses on
// one attempt succeed on the next); auth failures never recover on retry.
func IsRetryable(class ErrorClass) bool {
	switch class {
	case ErrClassRateLimit, ErrClassNetwork, ErrClassServer, ErrClassValidation:
		return true
	default:
		return false
	}
}

// Retryable is the common one-shot check call sites use.
func Retryable(err error) bool {
	return IsRetryable(Classify(err))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
