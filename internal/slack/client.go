package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const postMessageURL = "https://slack.com/api/chat.postMessage"

// Client posts messages to Slack on behalf of the bot.
type Client struct {
	botToken string
	http     *http.Client
	endpoint string
}

// NewClient creates a Slack client with the bot token.
func NewClient(botToken string) *Client {
	return &Client{
		botToken: botToken,
		http:     &http.Client{Timeout: 10 * time.Second},
		endpoint: postMessageURL,
	}
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// PostMessage sends text to a channel, threading under threadTS when
// set.
func (c *Client) PostMessage(ctx context.Context, channel, text, threadTS string) error {
	body, err := json.Marshal(postMessageRequest{
		Channel:  channel,
		Text:     text,
		ThreadTS: threadTS,
	})
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API HTTP %d", resp.StatusCode)
	}
	var out postMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode slack response: %w", err)
	}
	if !out.OK {
		return fmt.Errorf("slack API error: %s", out.Error)
	}
	return nil
}
