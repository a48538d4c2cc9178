// client.go implements the HTTP client for the assistant proxy. The send
// path speaks JSON for complete answers and SSE for token streams; both
// return the same settled result.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dynamic-capital/dcassist/pkg/dcassist/chat"
)

// StreamCallback is called for each token/chunk during streaming.
type StreamCallback func(chunk string)

// DefaultHistoryWindow is how many trailing history entries accompany a
// send. The remote keeps its own full history; the window only shapes the
// model context.
const DefaultHistoryWindow = 20

// DefaultSystemPrompt frames the assistant for the Dynamic Capital product.
const DefaultSystemPrompt = "You are the Dynamic Capital assistant. Help members with " +
	"trading education, VIP membership, signals, and account questions. Be concise and practical."

// RetryConfig bounds the automatic retry of retryable transport errors.
type RetryConfig struct {
	// MaxRetries is the number of extra attempts after the first (default: 2).
	MaxRetries int `yaml:"max_retries"`

	// InitialBackoffMs is the delay before the first retry (default: 400).
	// Each further retry doubles it.
	InitialBackoffMs int `yaml:"initial_backoff_ms"`

	// MaxBackoffMs caps the backoff (default: 30000).
	MaxBackoffMs int `yaml:"max_backoff_ms"`
}

// DefaultRetryConfig returns the standard retry bounds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:       2,
		InitialBackoffMs: 400,
		MaxBackoffMs:     30000,
	}
}

// Effective returns a copy with default values filled in for zero fields.
func (r RetryConfig) Effective() RetryConfig {
	out := r
	if out.MaxRetries == 0 {
		out.MaxRetries = 2
	}
	if out.InitialBackoffMs == 0 {
		out.InitialBackoffMs = 400
	}
	if out.MaxBackoffMs == 0 {
		out.MaxBackoffMs = 30000
	}
	return out
}

// Config configures the proxy client.
type Config struct {
	// BaseURL is the assistant proxy endpoint (e.g. https://assist.dynamic.capital).
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the proxy. Can be set via the
	// DCASSIST_API_KEY environment variable, the OS keyring, or the vault.
	APIKey string `yaml:"api_key"`

	// SystemPrompt is the fixed instruction line sent with every message.
	SystemPrompt string `yaml:"system_prompt"`

	// Temperature is forwarded to the remote model.
	Temperature float64 `yaml:"temperature"`

	// HistoryWindow is how many trailing history entries accompany a send
	// (default: 20).
	HistoryWindow int `yaml:"history_window"`

	// Retry bounds automatic retry of retryable errors.
	Retry RetryConfig `yaml:"retry"`
}

// Client handles communication with the assistant proxy.
type Client struct {
	baseURL       string
	apiKey        string
	systemPrompt  string
	temperature   float64
	historyWindow int
	retry         RetryConfig
	httpClient    *http.Client
	logger        *slog.Logger
}

// NewClient creates a proxy client from config.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	historyWindow := cfg.HistoryWindow
	if historyWindow <= 0 {
		historyWindow = DefaultHistoryWindow
	}

	return &Client{
		baseURL:       baseURL,
		apiKey:        cfg.APIKey,
		systemPrompt:  systemPrompt,
		temperature:   cfg.Temperature,
		historyWindow: historyWindow,
		retry:         cfg.Retry.Effective(),
		httpClient: &http.Client{
			// No global timeout: calls carry their own contexts, and a
			// client-wide deadline would race with long token streams.
			Transport: &http.Transport{
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   5,
				IdleConnTimeout:       120 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 60 * time.Second,
			},
		},
		logger: logger.With("component", "proxy"),
	}
}

// SendRequest is one outbound user message with its context.
type SendRequest struct {
	// SessionID correlates client and remote history.
	SessionID string

	// Message is the user's text.
	Message string

	// History is the conversation so far; only the trailing window is sent.
	History []chat.Message

	// Context is an optional per-profile context line (e.g. the linked
	// Telegram identity) injected as a system entry.
	Context string

	// OnToken, when set, receives incremental content as it streams in.
	// It may fire zero times if the proxy answers in one piece.
	OnToken StreamCallback
}

// SendResult is the settled outcome of a send.
type SendResult struct {
	AssistantMessage chat.Message
	History          []chat.Message
}

// ---------- Wire types ----------

type historyResponse struct {
	Messages []chat.Message `json:"messages"`
}

type sendPayload struct {
	SessionID   string         `json:"session_id,omitempty"`
	Messages    []chat.Message `json:"messages"`
	Temperature float64        `json:"temperature"`
}

type sendResponse struct {
	Answer string `json:"answer"`
}

type streamChunk struct {
	Content string `json:"content"`
}

// ---------- History ----------

// FetchHistory returns the remote session history, oldest first, truncated
// client-side to the store cap. Retryable failures are retried with backoff.
func (c *Client) FetchHistory(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var messages []chat.Message
	err := c.withRetry(ctx, "fetch history", func() error {
		msgs, err := c.fetchHistoryOnce(ctx, sessionID)
		if err != nil {
			return err
		}
		messages = msgs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) fetchHistoryOnce(ctx context.Context, sessionID string) ([]chat.Message, error) {
	endpoint := c.baseURL + "/api/chat/history?session_id=" + sessionID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, shapeError(fmt.Errorf("creating request: %w", err))
	}
	c.setHeaders(req, false)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, networkError(fmt.Errorf("history request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, statusError(resp.StatusCode, string(body), retryAfterSeconds(resp))
	}

	var parsed historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, shapeError(fmt.Errorf("decoding history: %w", err))
	}
	msgs := parsed.Messages
	if len(msgs) > chat.MaxStoredMessages {
		msgs = msgs[len(msgs)-chat.MaxStoredMessages:]
	}
	return msgs, nil
}

// ---------- Send ----------

// Send submits one user message with the trailing history window and the
// fixed system prompt. OnToken fires for each streamed chunk before the
// settled result returns. Retryable failures are retried with backoff
// unless tokens were already delivered.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	var result *SendResult
	err := c.withRetry(ctx, "send", func() error {
		r, err := c.sendOnce(ctx, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) sendOnce(ctx context.Context, req SendRequest) (*SendResult, error) {
	trimmed := req.History
	if len(trimmed) > c.historyWindow {
		trimmed = trimmed[len(trimmed)-c.historyWindow:]
	}

	payload := sendPayload{
		SessionID:   req.SessionID,
		Temperature: c.temperature,
	}
	payload.Messages = make([]chat.Message, 0, len(trimmed)+3)
	payload.Messages = append(payload.Messages, chat.Message{Role: chat.RoleSystem, Content: c.systemPrompt})
	if req.Context != "" {
		payload.Messages = append(payload.Messages, chat.Message{Role: chat.RoleSystem, Content: req.Context})
	}
	payload.Messages = append(payload.Messages, trimmed...)
	userMsg := chat.UserMessage(req.Message)
	payload.Messages = append(payload.Messages, userMsg)

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, shapeError(fmt.Errorf("marshaling request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, shapeError(fmt.Errorf("creating request: %w", err))
	}
	c.setHeaders(httpReq, true)

	c.logger.Debug("sending chat message",
		"session", req.SessionID,
		"history", len(trimmed),
		"stream", req.OnToken != nil,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, networkError(fmt.Errorf("send request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, statusError(resp.StatusCode, string(body), retryAfterSeconds(resp))
	}

	var answer string
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		answer, err = c.readStream(resp.Body, req.OnToken)
	} else {
		answer, err = c.readAnswer(resp.Body, req.OnToken)
	}
	if err != nil {
		return nil, err
	}

	c.logger.Info("chat message settled",
		"session", req.SessionID,
		"duration_ms", time.Since(start).Milliseconds(),
		"answer_len", len(answer),
	)

	assistantMsg := chat.AssistantMessage(answer)
	history := make([]chat.Message, 0, len(trimmed)+2)
	history = append(history, trimmed...)
	history = append(history, userMsg, assistantMsg)
	return &SendResult{AssistantMessage: assistantMsg, History: history}, nil
}

// readAnswer decodes a complete JSON answer. OnToken still fires once so
// callers can treat streamed and unstreamed responses alike.
func (c *Client) readAnswer(r io.Reader, onToken StreamCallback) (string, error) {
	var parsed sendResponse
	if err := json.NewDecoder(r).Decode(&parsed); err != nil {
		return "", shapeError(fmt.Errorf("decoding answer: %w", err))
	}
	if parsed.Answer == "" {
		return "", shapeError(fmt.Errorf("response carried no answer"))
	}
	if onToken != nil {
		onToken(parsed.Answer)
	}
	return parsed.Answer, nil
}

// readStream consumes an SSE token stream terminated by [DONE] and returns
// the accumulated answer.
func (c *Client) readStream(r io.Reader, onToken StreamCallback) (string, error) {
	var answer strings.Builder
	emitted := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024) // 64KB initial, 1MB max line

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Debug("failed to parse SSE chunk, skipping", "payload", truncate(data, 100), "error", err)
			continue
		}
		if chunk.Content == "" {
			continue
		}
		answer.WriteString(chunk.Content)
		emitted++
		if onToken != nil {
			onToken(chunk.Content)
		}
	}

	if err := scanner.Err(); err != nil {
		// A partially consumed stream cannot be retried without
		// duplicating tokens already delivered to the caller.
		if emitted > 0 {
			return "", &Error{Kind: ErrKindFatal, Err: fmt.Errorf("stream interrupted after %d chunks: %w", emitted, err)}
		}
		return "", networkError(fmt.Errorf("reading stream: %w", err))
	}
	if answer.Len() == 0 {
		return "", shapeError(fmt.Errorf("stream carried no content"))
	}
	return answer.String(), nil
}

// ---------- Retry ----------

// withRetry runs fn, retrying retryable failures up to MaxRetries extra
// attempts with exponential backoff: initial × 2^attempt, capped. Exhausted
// retries surface as a fatal error wrapping the last failure.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	initialBackoff := time.Duration(c.retry.InitialBackoffMs) * time.Millisecond
	maxBackoff := time.Duration(c.retry.MaxBackoffMs) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !KindOf(err).Retryable() {
			return err
		}
		if attempt >= c.retry.MaxRetries {
			break
		}

		backoff := initialBackoff
		for i := 0; i < attempt; i++ {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
				break
			}
		}

		c.logger.Info("retrying after retryable error",
			"op", op,
			"attempt", attempt+1,
			"next_attempt", attempt+2,
			"backoff_ms", backoff.Milliseconds(),
			"error", err,
		)

		select {
		case <-ctx.Done():
			return &Error{Kind: ErrKindFatal, Err: fmt.Errorf("context cancelled during backoff: %w", ctx.Err())}
		case <-time.After(backoff):
		}
	}

	return &Error{Kind: ErrKindFatal, Err: fmt.Errorf("%s: retries exhausted: %w", op, lastErr)}
}

// ---------- Helpers ----------

func (c *Client) setHeaders(req *http.Request, send bool) {
	if send {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream, application/json")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// retryAfterSeconds parses the Retry-After header, 0 if absent or invalid.
func retryAfterSeconds(resp *http.Response) int {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
		return sec
	}
	return 0
}
