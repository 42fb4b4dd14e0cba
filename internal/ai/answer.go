package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"trackd/internal/models"
)

const answerSystemPrompt = `You answer questions about a set of tracked issues. Ground every claim in the issues given below; never invent issues or details. Reference issues by their id. Be concise and direct. When asked about priority or what to work on next, recommend priority 1-2 issues first, and prefer open issues over active ones. If multiple issues match, list at most the 3 most relevant. If the issues do not contain the answer, say so.`

// Answer responds to a free-form question grounded in the given issue
// set. stats carries per-issue thread sizes keyed by issue id.
func (c *Client) Answer(ctx context.Context, question string, issues []models.Issue, stats map[string]models.ThreadStats) (string, error) {
	var sb strings.Builder
	sb.WriteString("Issues:\n")
	for _, iss := range issues {
		st := stats[iss.ID]
		fmt.Fprintf(&sb, "- %s [P%d %s, %s] %s (%d messages)\n  %s\n",
			iss.ID, iss.Priority, iss.Type, iss.Status, iss.Title, st.MessageCount, iss.Summary)
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)

	resp, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: answerSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(sb.String())),
		},
	})
	if err != nil {
		return "", fmt.Errorf("answer request: %w", err)
	}
	return strings.TrimSpace(messageText(resp)), nil
}
