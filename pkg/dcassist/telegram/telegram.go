// Package telegram implements the Dynamic Capital Telegram touchpoint using
// the Telegram Bot API directly via HTTP. The assistant uses it to verify
// the bot token, build profile deep links, and push short notifications
// (link confirmations, alert previews) to linked members.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Config holds Telegram configuration.
type Config struct {
	// Enabled turns the Telegram integration on/off.
	Enabled bool `yaml:"enabled"`

	// BotToken is the Telegram Bot API token (from @BotFather).
	BotToken string `yaml:"bot_token"`

	// BotUsername is the bot's public username, used for deep links.
	// Filled automatically on Verify if empty.
	BotUsername string `yaml:"bot_username"`

	// SupportHandle is the human support account referenced in suggestions
	// and the offline playbook.
	SupportHandle string `yaml:"support_handle"`

	// APIBaseURL overrides the Bot API endpoint, mainly for tests
	// (default: "https://api.telegram.org").
	APIBaseURL string `yaml:"api_base_url"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SupportHandle: "DynamicCapitalSupport",
	}
}

// BotUser is the bot identity returned by getMe.
type BotUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Client is a minimal Bot API client.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	client  *http.Client
	baseURL string
}

// New creates a Telegram client. The token is verified lazily via Verify.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	apiBase := cfg.APIBaseURL
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	return &Client{
		cfg:     cfg,
		logger:  logger.With("component", "telegram"),
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: apiBase + "/bot" + cfg.BotToken,
	}
}

// Enabled reports whether the integration is configured and turned on.
func (c *Client) Enabled() bool {
	return c.cfg.Enabled && c.cfg.BotToken != ""
}

// Verify checks the bot token with getMe and returns the bot identity.
func (c *Client) Verify(ctx context.Context) (*BotUser, error) {
	if c.cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}

	data, err := c.apiCall(ctx, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var user BotUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	if c.cfg.BotUsername == "" {
		c.cfg.BotUsername = user.Username
	}
	c.logger.Info("telegram: token verified", "bot", user.Username, "id", user.ID)
	return &user, nil
}

// Notify sends a plain-text message to a chat.
func (c *Client) Notify(ctx context.Context, chatID int64, text string) error {
	if !c.Enabled() {
		return fmt.Errorf("telegram: integration is disabled")
	}

	_, err := c.apiCall(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	return err
}

// LinkURL builds the deep link a member opens to connect their Telegram
// account to a profile: https://t.me/<bot>?start=<profileID>.
func (c *Client) LinkURL(profileID string) string {
	username := c.cfg.BotUsername
	if username == "" {
		return ""
	}
	return "https://t.me/" + username + "?start=" + url.QueryEscape(profileID)
}

// SupportHandle returns the configured human support handle.
func (c *Client) SupportHandle() string {
	return c.cfg.SupportHandle
}

// apiCall posts a JSON payload to a Bot API method and unwraps the standard
// ok/description envelope.
func (c *Client) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram: %s: %s", method, result.Description)
	}
	return result.Result, nil
}
