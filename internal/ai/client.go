// Package ai wraps the model calls trackd depends on: structured field
// extraction, duplicate resolution, grounded question answering, and
// text embedding. All prompts demand JSON-only output which is parsed
// through a shared fence-stripping decoder.
package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ErrNoValidOutput indicates the model responded but its output could
// not be parsed into the requested structure. Distinct from transport
// failures so callers can treat "schema not satisfied" as a recoverable
// no-change condition.
var ErrNoValidOutput = errors.New("model produced no valid structured output")

// Client wraps the Anthropic API for trackd's generation calls.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates a generation client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// messageText extracts the concatenated text blocks from a response.
func messageText(msg *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// stripFences removes markdown code fencing around a JSON payload.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.SplitN(text, "\n", 2)
	if len(lines) > 1 {
		text = lines[1]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// decodeJSON parses a JSON-only model response into v, tolerating
// markdown fencing. Parse failures map to ErrNoValidOutput.
func decodeJSON(text string, v any) error {
	cleaned := stripFences(text)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("%w: %v", ErrNoValidOutput, err)
	}
	return nil
}
