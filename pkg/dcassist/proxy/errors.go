// Package proxy implements the transport to the remote Dynamic Capital
// assistant endpoint: history fetch and message send with optional token
// streaming, bounded retry, and typed error classification.
package proxy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies transport errors for the retry/rollback decision.
type ErrorKind int

const (
	// ErrKindRetryable covers transient failures (network blips, 5xx):
	// retried automatically with backoff.
	ErrKindRetryable ErrorKind = iota

	// ErrKindRecoverable covers request-level rejections (4xx validation,
	// 429 rate limit): the user should edit and resend, so the optimistic
	// exchange is rolled back and the typed text restored. Never retried.
	ErrKindRecoverable

	// ErrKindFatal covers exhausted retries and unexpected response
	// shapes: the placeholder is replaced by the fallback playbook.
	ErrKindFatal
)

// String returns a human-readable label for the kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrKindRetryable:
		return "retryable"
	case ErrKindRecoverable:
		return "recoverable"
	case ErrKindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Retryable reports whether the kind warrants another attempt.
func (k ErrorKind) Retryable() bool {
	return k == ErrKindRetryable
}

// Error is a classified transport failure.
type Error struct {
	Kind          ErrorKind
	StatusCode    int    // 0 for network/shape errors
	Body          string // response body excerpt, if any
	RetryAfterSec int    // from Retry-After on 429, 0 if absent
	Err           error  // wrapped cause, if any
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("assistant proxy returned %d: %s", e.StatusCode, truncate(e.Body, 200))
	case e.Err != nil:
		return fmt.Sprintf("assistant proxy %s error: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("assistant proxy %s error", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classification from anywhere in an error chain.
// Non-transport errors count as fatal.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ErrKindFatal
}

// classifyStatus maps an HTTP status to an error kind. Client-side
// rejections (validation, rate limit) are recoverable: the user edits and
// resends. Server and infrastructure failures are retryable.
func classifyStatus(statusCode int) ErrorKind {
	switch {
	case statusCode >= 400 && statusCode < 500:
		return ErrKindRecoverable
	case statusCode >= 500:
		return ErrKindRetryable
	default:
		return ErrKindFatal
	}
}

// statusError builds a classified error from a non-2xx response.
func statusError(statusCode int, body string, retryAfterSec int) *Error {
	return &Error{
		Kind:          classifyStatus(statusCode),
		StatusCode:    statusCode,
		Body:          body,
		RetryAfterSec: retryAfterSec,
	}
}

// networkError wraps a failed round-trip as retryable.
func networkError(err error) *Error {
	return &Error{Kind: ErrKindRetryable, Err: err}
}

// shapeError wraps an unexpected response shape as fatal.
func shapeError(err error) *Error {
	return &Error{Kind: ErrKindFatal, Err: err}
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
