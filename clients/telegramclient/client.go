// Package telegramclient posts pipeline alerts to a Telegram chat through
// the Bot API.
//
// Example usage:
//
//	client := telegramclient.New(botToken, "-1001234567890")
//	err := client.SendMessage(ctx, "<b>sync failed</b>", telegramclient.ParseModeHTML)
package telegramclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultBaseURL is the Telegram Bot API endpoint.
	DefaultBaseURL = "https://api.telegram.org"

	// ParseModeHTML makes Telegram interpret <b> and similar tags.
	ParseModeHTML = "HTML"

	defaultTimeout = 10 * time.Second
)

// Client sends messages to one chat as one bot.
// Use New() to create a client.
type Client struct {
	token      string
	chatID     string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, e.g. for a local Bot API server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New creates a client for the given bot token and chat (channel) ID.
func New(token, chatID string, opts ...Option) *Client {
	c := &Client{
		token:      token,
		chatID:     chatID,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendMessage posts text to the chat. parseMode may be empty for plain
// text. It implements logging.Messenger.
func (c *Client) SendMessage(ctx context.Context, text, parseMode string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:    c.chatID,
		Text:      text,
		ParseMode: parseMode,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The URL contains the bot token; report the host only.
		return fmt.Errorf("failed to send message to %s: %w", c.baseURL, unwrapURLError(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !apiResp.OK {
		return fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode, apiResp.Description)
	}
	return nil
}

func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
