package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dynamic-capital/dcassist/pkg/dcassist/chat"
)

// fastRetry keeps retry tests quick; the schedule itself is covered by
// TestSendBackoffSchedule.
func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitialBackoffMs: 5, MaxBackoffMs: 50}
}

func testClient(t *testing.T, url string, retry RetryConfig) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL:     url,
		APIKey:      "test-key",
		Temperature: 0.7,
		Retry:       retry,
	}, nil)
}

func jsonAnswer(answer string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sendResponse{Answer: answer})
	}
}

func TestSendJSONAnswer(t *testing.T) {
	t.Parallel()

	var gotPayload sendPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want the bearer key", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		jsonAnswer("Hello trader")(w, r)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, fastRetry())

	var tokens []string
	res, err := c.Send(context.Background(), SendRequest{
		SessionID: "sess-1",
		Message:   "Hi",
		History:   []chat.Message{chat.UserMessage("earlier"), chat.AssistantMessage("answer")},
		OnToken:   func(chunk string) { tokens = append(tokens, chunk) },
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if res.AssistantMessage.Content != "Hello trader" {
		t.Errorf("answer = %q, want %q", res.AssistantMessage.Content, "Hello trader")
	}
	if res.AssistantMessage.Role != chat.RoleAssistant {
		t.Errorf("answer role = %q, want assistant", res.AssistantMessage.Role)
	}

	// An unstreamed answer still fires the callback exactly once.
	if len(tokens) != 1 || tokens[0] != "Hello trader" {
		t.Errorf("tokens = %v, want one full-answer callback", tokens)
	}

	// Payload shape: system prompt first, history, then the user message.
	if gotPayload.SessionID != "sess-1" {
		t.Errorf("payload session_id = %q, want %q", gotPayload.SessionID, "sess-1")
	}
	if gotPayload.Temperature != 0.7 {
		t.Errorf("payload temperature = %v, want 0.7", gotPayload.Temperature)
	}
	if len(gotPayload.Messages) != 4 {
		t.Fatalf("payload has %d messages, want 4", len(gotPayload.Messages))
	}
	if gotPayload.Messages[0].Role != chat.RoleSystem {
		t.Errorf("first payload message role = %q, want system", gotPayload.Messages[0].Role)
	}
	last := gotPayload.Messages[len(gotPayload.Messages)-1]
	if last.Role != chat.RoleUser || last.Content != "Hi" {
		t.Errorf("last payload message = %+v, want the user text", last)
	}

	// The settled history ends with the new exchange.
	if n := len(res.History); n != 4 {
		t.Fatalf("result history has %d entries, want 4", n)
	}
	if res.History[2].Content != "Hi" || res.History[3].Content != "Hello trader" {
		t.Errorf("result history tail = %+v, want the new exchange", res.History[2:])
	}
}

func TestSendStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{"Hello", " ", "trader"} {
			fmt.Fprintf(w, "data: {\"content\":%q}\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, fastRetry())

	var tokens []string
	res, err := c.Send(context.Background(), SendRequest{
		SessionID: "sess-1",
		Message:   "Hi",
		OnToken:   func(chunk string) { tokens = append(tokens, chunk) },
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if res.AssistantMessage.Content != "Hello trader" {
		t.Errorf("settled answer = %q, want the concatenated chunks", res.AssistantMessage.Content)
	}
	if len(tokens) != 3 {
		t.Errorf("callback fired %d times, want 3", len(tokens))
	}
}

func TestSendStreamSkipsMalformedChunks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"content\":\"ok\"}\n\n")
		fmt.Fprint(w, "data: {broken json\n\n")
		fmt.Fprint(w, ": comment line\n\n")
		fmt.Fprint(w, "data: {\"content\":\"!\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, fastRetry())
	res, err := c.Send(context.Background(), SendRequest{Message: "Hi"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.AssistantMessage.Content != "ok!" {
		t.Errorf("answer = %q, want malformed chunks skipped", res.AssistantMessage.Content)
	}
}

func TestSendRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			http.Error(w, "upstream down", http.StatusServiceUnavailable)
			return
		}
		jsonAnswer("finally")(w, r)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, fastRetry())
	res, err := c.Send(context.Background(), SendRequest{Message: "Hi"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if res.AssistantMessage.Content != "finally" {
		t.Errorf("answer = %q, want %q", res.AssistantMessage.Content, "finally")
	}
}

func TestSendBackoffSchedule(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			http.Error(w, "upstream down", http.StatusServiceUnavailable)
			return
		}
		jsonAnswer("finally")(w, r)
	}))
	defer srv.Close()

	// Default schedule: 400ms before the first retry, 800ms before the
	// second, so two failures cost ~1200ms of backoff.
	c := testClient(t, srv.URL, DefaultRetryConfig())

	start := time.Now()
	if _, err := c.Send(context.Background(), SendRequest{Message: "Hi"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 1100*time.Millisecond {
		t.Errorf("elapsed = %v, want at least ~1.2s of backoff", elapsed)
	}
	if elapsed > 5*time.Second {
		t.Errorf("elapsed = %v, backoff ran far past the schedule", elapsed)
	}
}

func TestSendDoesNotRetryRecoverable(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Retry-After", "30")
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, fastRetry())
	_, err := c.Send(context.Background(), SendRequest{Message: "Hi"})
	if err == nil {
		t.Fatal("Send() succeeded, want a recoverable error")
	}

	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (recoverable errors are never retried)", got)
	}
	if got := KindOf(err); got != ErrKindRecoverable {
		t.Errorf("KindOf() = %v, want recoverable", got)
	}

	var typed *Error
	if !errors.As(err, &typed) {
		t.Fatal("error is not a typed transport error")
	}
	if typed.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", typed.StatusCode)
	}
	if typed.RetryAfterSec != 30 {
		t.Errorf("RetryAfterSec = %d, want 30", typed.RetryAfterSec)
	}
}

func TestSendRetriesExhausted(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, fastRetry())
	_, err := c.Send(context.Background(), SendRequest{Message: "Hi"})
	if err == nil {
		t.Fatal("Send() succeeded, want exhausted retries")
	}

	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3 (first try plus two retries)", got)
	}
	// Exhaustion downgrades the retryable failure to fatal.
	if got := KindOf(err); got != ErrKindFatal {
		t.Errorf("KindOf() = %v, want fatal", got)
	}
}

func TestSendEmptyAnswerIsFatal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(jsonAnswer(""))
	defer srv.Close()

	c := testClient(t, srv.URL, fastRetry())
	_, err := c.Send(context.Background(), SendRequest{Message: "Hi"})
	if err == nil {
		t.Fatal("Send() succeeded on an empty answer")
	}
	if got := KindOf(err); got != ErrKindFatal {
		t.Errorf("KindOf() = %v, want fatal for a shape error", got)
	}
}

func TestSendHistoryWindow(t *testing.T) {
	t.Parallel()

	var gotPayload sendPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		jsonAnswer("ok")(w, r)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, fastRetry())

	history := make([]chat.Message, 30)
	for i := range history {
		history[i] = chat.UserMessage(fmt.Sprintf("m%d", i))
	}
	if _, err := c.Send(context.Background(), SendRequest{Message: "Hi", History: history}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	// system prompt + 20-entry window + the new user message.
	if got := len(gotPayload.Messages); got != 22 {
		t.Fatalf("payload has %d messages, want 22", got)
	}
	if gotPayload.Messages[1].Content != "m10" {
		t.Errorf("window starts at %q, want m10", gotPayload.Messages[1].Content)
	}
}

func TestSendContextLine(t *testing.T) {
	t.Parallel()

	var gotPayload sendPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		jsonAnswer("ok")(w, r)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, fastRetry())
	_, err := c.Send(context.Background(), SendRequest{
		Message: "Hi",
		Context: "The member is reachable on Telegram as @trader.",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(gotPayload.Messages) != 3 {
		t.Fatalf("payload has %d messages, want 3", len(gotPayload.Messages))
	}
	second := gotPayload.Messages[1]
	if second.Role != chat.RoleSystem || second.Content != "The member is reachable on Telegram as @trader." {
		t.Errorf("second message = %+v, want the context line as a system entry", second)
	}
}

func TestFetchHistory(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/history" {
			t.Errorf("path = %q, want /api/chat/history", r.URL.Path)
		}
		if got := r.URL.Query().Get("session_id"); got != "sess-1" {
			t.Errorf("session_id = %q, want sess-1", got)
		}
		msgs := make([]chat.Message, 60)
		for i := range msgs {
			msgs[i] = chat.UserMessage(fmt.Sprintf("m%d", i))
		}
		json.NewEncoder(w).Encode(historyResponse{Messages: msgs})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, fastRetry())
	msgs, err := c.FetchHistory(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("FetchHistory() error = %v", err)
	}

	if got := len(msgs); got != chat.MaxStoredMessages {
		t.Fatalf("history has %d entries, want the %d cap", got, chat.MaxStoredMessages)
	}
	if msgs[0].Content != "m10" {
		t.Errorf("oldest kept = %q, want m10 after client-side truncation", msgs[0].Content)
	}
}

func TestFetchHistoryNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	c := testClient(t, srv.URL, fastRetry())
	_, err := c.FetchHistory(context.Background(), "sess-1")
	if err == nil {
		t.Fatal("FetchHistory() succeeded against a closed server")
	}
	if got := KindOf(err); got != ErrKindFatal {
		t.Errorf("KindOf() = %v, want fatal after exhausted retries", got)
	}
}

func TestSendContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, RetryConfig{MaxRetries: 2, InitialBackoffMs: 5000, MaxBackoffMs: 10000})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Send(ctx, SendRequest{Message: "Hi"})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Send() succeeded, want cancellation")
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want the context cancellation wrapped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send() did not return after cancellation")
	}
}

func TestRetryConfigEffective(t *testing.T) {
	t.Parallel()

	got := RetryConfig{}.Effective()
	want := DefaultRetryConfig()
	if got != want {
		t.Errorf("Effective() = %+v, want defaults %+v", got, want)
	}

	custom := RetryConfig{MaxRetries: 5, InitialBackoffMs: 100, MaxBackoffMs: 1000}
	if got := custom.Effective(); got != custom {
		t.Errorf("Effective() = %+v, want custom values kept", got)
	}
}
