package format

import (
	"math"
	"time"

	"trackd/internal/models"
	"trackd/internal/store"
)

// IssueSummaryPayload is the compact issue shape used in API lists.
type IssueSummaryPayload struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	Type          models.IssueType   `json:"type"`
	Status        models.IssueStatus `json:"status"`
	Priority      int                `json:"priority"`
	Summary       string             `json:"summary"`
	LastMessageBy models.Role        `json:"last_message_by"`
	UpdatedAt     *time.Time         `json:"updated_at,omitempty"`
	Similarity    *int               `json:"similarity,omitempty"`
}

func summaryPayload(issue *models.Issue) IssueSummaryPayload {
	return IssueSummaryPayload{
		ID:            issue.ID,
		Title:         issue.Title,
		Type:          issue.Type,
		Status:        issue.Status,
		Priority:      issue.Priority,
		Summary:       issue.Summary,
		LastMessageBy: issue.LastMessageBy,
	}
}

// SearchResultsPayload renders similarity hits with a 0-100 score.
func SearchResultsPayload(results []store.SearchResult) []IssueSummaryPayload {
	out := make([]IssueSummaryPayload, len(results))
	for i, r := range results {
		p := summaryPayload(&r.Issue)
		score := int(math.Round(r.Similarity * 100))
		p.Similarity = &score
		out[i] = p
	}
	return out
}

// IssuesPayload renders issues with their update timestamps.
func IssuesPayload(issues []models.Issue) []IssueSummaryPayload {
	out := make([]IssueSummaryPayload, len(issues))
	for i := range issues {
		p := summaryPayload(&issues[i])
		ts := issues[i].UpdatedAt
		p.UpdatedAt = &ts
		out[i] = p
	}
	return out
}

// ThreadPayload is the thread-size block inside a query result row.
type ThreadPayload struct {
	MessageCount int `json:"message_count"`
	TotalChars   int `json:"total_chars"`
}

// LastMessagePayload previews the most recent thread message.
type LastMessagePayload struct {
	Role      models.Role `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// QueryResultPayload is one row of the compound query response.
type QueryResultPayload struct {
	ID            string              `json:"id"`
	Title         string              `json:"title"`
	Type          models.IssueType    `json:"type"`
	Status        models.IssueStatus  `json:"status"`
	Priority      int                 `json:"priority"`
	Labels        []string            `json:"labels"`
	Summary       string              `json:"summary"`
	LastMessageBy models.Role         `json:"last_message_by"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	Thread        ThreadPayload       `json:"thread"`
	LastMessage   *LastMessagePayload `json:"last_message"`
	Similarity    *int                `json:"similarity,omitempty"`
}

// QueryResultsPayload is the full compound query response.
type QueryResultsPayload struct {
	Count  int                  `json:"count"`
	Issues []QueryResultPayload `json:"issues"`
}

// QueryResults converts compound query rows into the API payload.
func QueryResults(results []models.QueryIssueResult) QueryResultsPayload {
	issues := make([]QueryResultPayload, len(results))
	for i, r := range results {
		row := QueryResultPayload{
			ID:            r.ID,
			Title:         r.Title,
			Type:          r.Type,
			Status:        r.Status,
			Priority:      r.Priority,
			Labels:        r.Labels,
			Summary:       r.Summary,
			LastMessageBy: r.LastMessageBy,
			CreatedAt:     r.CreatedAt,
			UpdatedAt:     r.UpdatedAt,
			Thread: ThreadPayload{
				MessageCount: r.Stats.MessageCount,
				TotalChars:   r.Stats.TotalChars,
			},
		}
		if r.LastMessageRole != "" {
			row.LastMessage = &LastMessagePayload{
				Role:      r.LastMessageRole,
				Content:   r.LastMessageContent,
				Timestamp: r.LastMessageTimestamp,
			}
		}
		if r.Similarity >= 0 {
			score := int(math.Round(r.Similarity * 100))
			row.Similarity = &score
		}
		issues[i] = row
	}
	return QueryResultsPayload{Count: len(results), Issues: issues}
}
