package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"trackd/internal/store"
)

// Intent classifies what an incoming message is doing.
type Intent string

const (
	// IntentNewWork reports new work to track.
	IntentNewWork Intent = "new_work"
	// IntentDirective comments on or redirects existing work.
	IntentDirective Intent = "directive"
)

// Resolution is the duplicate-resolution verdict for a message against
// a candidate set.
type Resolution struct {
	Intent   Intent `json:"intent"`
	Action   string `json:"action"` // "create" or "update"
	TargetID string `json:"target_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

const judgeSystemPrompt = `You decide whether an incoming message belongs to an existing issue or starts a new one. Respond with JSON only:

{"intent": "new_work"|"directive", "action": "create"|"update", "target_id": string, "reason": string}

Rules:
- intent is "new_work" when the message reports something to do or fix, "directive" when it comments on, reprioritizes, or redirects work already tracked.
- action "update" requires that a candidate covers the same unit of work, not merely the same area of the system. Two different bugs in one component are two issues.
- A directive about a candidate is an update even when the candidate is done.
- New work never updates a done candidate; finished work does not absorb new reports.
- target_id must be the id of one of the listed candidates when action is "update", empty otherwise.
- When in doubt, choose "create".`

// Resolve judges a message against near-duplicate candidates. The
// caller only invokes this when at least one candidate cleared the
// related threshold; candidates are ordered by descending similarity.
func (c *Client) Resolve(ctx context.Context, message string, candidates []store.SearchResult) (*Resolution, error) {
	var sb strings.Builder
	sb.WriteString("Message:\n")
	sb.WriteString(message)
	sb.WriteString("\n\nCandidates:\n")
	for _, cand := range candidates {
		fmt.Fprintf(&sb, "- %s (similarity %.2f, status %s, P%d): %s\n  %s\n",
			cand.ID, cand.Similarity, cand.Status, cand.Priority, cand.Title, cand.Summary)
	}

	resp, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 512,
		System: []anthropic.TextBlockParam{
			{Text: judgeSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(sb.String())),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("resolution request: %w", err)
	}

	var res Resolution
	if err := decodeJSON(messageText(resp), &res); err != nil {
		return nil, err
	}
	if res.Action == "update" {
		found := false
		for _, cand := range candidates {
			if cand.ID == res.TargetID {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: target %q is not a candidate", ErrNoValidOutput, res.TargetID)
		}
	}
	return &res, nil
}
