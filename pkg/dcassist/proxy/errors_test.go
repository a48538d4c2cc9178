package proxy

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
		want       ErrorKind
	}{
		{"bad request 400", 400, ErrKindRecoverable},
		{"unauthorized 401", 401, ErrKindRecoverable},
		{"not found 404", 404, ErrKindRecoverable},
		{"validation 422", 422, ErrKindRecoverable},
		{"rate limit 429", 429, ErrKindRecoverable},
		{"server error 500", 500, ErrKindRetryable},
		{"bad gateway 502", 502, ErrKindRetryable},
		{"service unavailable 503", 503, ErrKindRetryable},
		{"gateway timeout 504", 504, ErrKindRetryable},
		{"unexpected 2xx", 204, ErrKindFatal},
		{"unexpected 3xx", 302, ErrKindFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyStatus(tt.statusCode); got != tt.want {
				t.Errorf("classifyStatus(%d) = %v, want %v", tt.statusCode, got, tt.want)
			}
		})
	}
}

func TestErrorKindString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind ErrorKind
		want string
	}{
		{ErrKindRetryable, "retryable"},
		{ErrKindRecoverable, "recoverable"},
		{ErrKindFatal, "fatal"},
		{ErrorKind(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestErrorKindRetryable(t *testing.T) {
	t.Parallel()

	if !ErrKindRetryable.Retryable() {
		t.Error("ErrKindRetryable.Retryable() = false")
	}
	if ErrKindRecoverable.Retryable() {
		t.Error("ErrKindRecoverable.Retryable() = true")
	}
	if ErrKindFatal.Retryable() {
		t.Error("ErrKindFatal.Retryable() = true")
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"typed retryable", networkError(errors.New("conn reset")), ErrKindRetryable},
		{"typed recoverable", statusError(429, "slow down", 30), ErrKindRecoverable},
		{"typed fatal", shapeError(errors.New("no answer")), ErrKindFatal},
		{"plain error", errors.New("something"), ErrKindFatal},
		{"nil-ish wrapped", fmt.Errorf("wrapped: %w", errors.New("x")), ErrKindFatal},
		{"wrapped recoverable", fmt.Errorf("sending message: %w", statusError(422, "too long", 0)), ErrKindRecoverable},
		{"wrapped retryable", fmt.Errorf("fetching history: %w", networkError(errors.New("timeout"))), ErrKindRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	t.Run("status error carries code and body", func(t *testing.T) {
		err := statusError(503, "upstream down", 0)
		msg := err.Error()
		if !strings.Contains(msg, "503") || !strings.Contains(msg, "upstream down") {
			t.Errorf("Error() = %q, want status code and body excerpt", msg)
		}
	})

	t.Run("long body is truncated", func(t *testing.T) {
		err := statusError(500, strings.Repeat("x", 500), 0)
		if len(err.Error()) > 300 {
			t.Errorf("Error() length = %d, want truncated body", len(err.Error()))
		}
	})

	t.Run("unwrap exposes the cause", func(t *testing.T) {
		cause := errors.New("dial tcp: refused")
		err := networkError(cause)
		if !errors.Is(err, cause) {
			t.Error("errors.Is did not find the wrapped cause")
		}
	})
}

func TestStatusErrorRetryAfter(t *testing.T) {
	t.Parallel()
	err := statusError(429, "rate limited", 30)
	if err.RetryAfterSec != 30 {
		t.Errorf("RetryAfterSec = %d, want 30", err.RetryAfterSec)
	}
	if err.Kind != ErrKindRecoverable {
		t.Errorf("Kind = %v, want recoverable", err.Kind)
	}
}
