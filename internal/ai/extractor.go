package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"trackd/internal/models"
)

const extractionSystemPrompt = `You derive issue fields from a conversation thread. Respond with JSON only, no prose, matching this shape:

{"title": string, "type": "bug"|"feature"|"task", "status": "open"|"active"|"done", "priority": 1-5, "labels": [string], "summary": string}

Rules:
- title: short imperative phrase naming the work, at most 120 characters.
- type: "bug" for defects, "feature" for new capability, "task" for everything else.
- status: "open" until someone starts the work, "active" while it is in progress, "done" only when the thread says the work is finished or should be closed.
- priority: 1 is critical and urgent, 2 is important, 3 is normal, 4 is low, 5 is negligible chatter not worth tracking. Default to 3 when the thread gives no signal.
- labels: 3 to 8 lowercase topical tags, single words or hyphenated.
- summary: 2 to 3 sentences capturing current state, latest developments last.

The whole thread is the source of truth. A prior summary, when given, is earlier derived state: carry it forward only where the thread still supports it, and let newer messages override it.`

// extractionPrompt renders the user message for an extraction call:
// the optional prior summary, then the thread as timestamped
// "[date time role] content" lines.
func extractionPrompt(thread []models.ThreadMessage, priorSummary string) string {
	var sb strings.Builder
	if priorSummary != "" {
		sb.WriteString("Prior summary: ")
		sb.WriteString(priorSummary)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Thread:\n")
	for _, m := range thread {
		fmt.Fprintf(&sb, "[%s %s] %s\n", m.Timestamp.UTC().Format("2006-01-02 15:04"), m.Role, m.Content)
	}
	return sb.String()
}

// Extract derives issue fields from a thread window. priorSummary is
// the previously derived summary, passed as overwritable state; empty
// means none. thread must be ordered oldest first.
func (c *Client) Extract(ctx context.Context, thread []models.ThreadMessage, priorSummary string) (*models.IssueFields, error) {
	resp, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: extractionSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(extractionPrompt(thread, priorSummary))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction request: %w", err)
	}

	var fields models.IssueFields
	if err := decodeJSON(messageText(resp), &fields); err != nil {
		return nil, err
	}
	if err := validateFields(&fields); err != nil {
		return nil, err
	}
	return &fields, nil
}

// validateFields normalizes and checks extracted fields. Violations
// map to ErrNoValidOutput so callers skip the update rather than
// persist garbage.
func validateFields(f *models.IssueFields) error {
	f.Title = strings.TrimSpace(f.Title)
	if f.Title == "" {
		return fmt.Errorf("%w: empty title", ErrNoValidOutput)
	}
	if runes := []rune(f.Title); len(runes) > 120 {
		f.Title = string(runes[:120])
	}
	if !models.ValidType(f.Type) {
		return fmt.Errorf("%w: type %q", ErrNoValidOutput, f.Type)
	}
	switch f.Status {
	case models.IssueStatusOpen, models.IssueStatusActive, models.IssueStatusDone:
	default:
		return fmt.Errorf("%w: status %q", ErrNoValidOutput, f.Status)
	}
	if f.Priority < models.PriorityCritical || f.Priority > models.PriorityNegligible {
		return fmt.Errorf("%w: priority %d", ErrNoValidOutput, f.Priority)
	}
	if f.Labels == nil {
		f.Labels = []string{}
	}
	for i, l := range f.Labels {
		f.Labels[i] = strings.ToLower(strings.TrimSpace(l))
	}
	f.Summary = strings.TrimSpace(f.Summary)
	return nil
}
