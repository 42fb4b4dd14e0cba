// Package format renders issues, threads, and pipeline outcomes as the
// plain-text strings returned to callers, plus the JSON payload shapes
// served by the HTTP API.
package format

import (
	"fmt"
	"math"
	"strings"
	"time"

	"trackd/internal/models"
	"trackd/internal/store"
)

// TimeAgo renders a coarse relative age such as "3h ago".
func TimeAgo(t time.Time) string {
	seconds := int(time.Since(t).Seconds())
	switch {
	case seconds < 60:
		return "just now"
	case seconds < 3600:
		return fmt.Sprintf("%dm ago", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%dh ago", seconds/3600)
	case seconds < 604800:
		return fmt.Sprintf("%dd ago", seconds/86400)
	case seconds < 2592000:
		return fmt.Sprintf("%dw ago", seconds/604800)
	case seconds < 31536000:
		return fmt.Sprintf("%dmo ago", seconds/2592000)
	}
	return fmt.Sprintf("%dy ago", seconds/31536000)
}

// ComputeThreadStats derives thread stats from a message slice.
func ComputeThreadStats(messages []models.ThreadMessage) models.ThreadStats {
	stats := models.ThreadStats{MessageCount: len(messages)}
	for _, m := range messages {
		stats.TotalChars += len(m.Content)
	}
	return stats
}

// CharCount renders an approximate character count: raw below 1000,
// one decimal of k below 10000, whole k above.
func CharCount(chars int) string {
	switch {
	case chars < 1000:
		return fmt.Sprintf("~%d chars", chars)
	case chars < 10000:
		return fmt.Sprintf("~%.1fk chars", float64(chars)/1000)
	}
	return fmt.Sprintf("~%dk chars", int(math.Round(float64(chars)/1000)))
}

func plural(n int) string {
	if n != 1 {
		return "s"
	}
	return ""
}

// ThreadStats renders the bracketed thread annotation, appending a
// thin-context hint for threads with fewer than 2 messages and fewer
// than 200 characters.
func ThreadStats(stats models.ThreadStats) string {
	base := fmt.Sprintf("[thread: %d msg%s, %s]", stats.MessageCount, plural(stats.MessageCount), CharCount(stats.TotalChars))
	if stats.MessageCount < 2 && stats.TotalChars < 200 {
		return base[:len(base)-1] + " — context is thin, consider providing more detail]"
	}
	return base
}

func orNoSummary(summary string) string {
	if summary == "" {
		return "No summary yet."
	}
	return summary
}

func labelsOrNone(labels []string) string {
	if len(labels) == 0 {
		return "none"
	}
	return strings.Join(labels, ", ")
}

// IssueConfirmation renders the response to a processed message.
// action is "Created" or "Updated".
func IssueConfirmation(issue *models.Issue, action string, stats models.ThreadStats) string {
	return strings.Join([]string{
		fmt.Sprintf("%s %s: %q", action, issue.ID, issue.Title),
		fmt.Sprintf("P%d %s | %s | %s", issue.Priority, issue.Type, issue.Status, labelsOrNone(issue.Labels)),
		orNoSummary(issue.Summary),
		ThreadStats(stats),
	}, "\n")
}

// IssueDetail renders the full view of an issue with its thread.
// The thread section is omitted when the thread is empty.
func IssueDetail(issue *models.Issue, messages []models.ThreadMessage) string {
	lines := []string{
		fmt.Sprintf("%s: %q", issue.ID, issue.Title),
		fmt.Sprintf("P%d %s | %s | %s", issue.Priority, issue.Type, issue.Status, labelsOrNone(issue.Labels)),
		fmt.Sprintf("Created %s | Updated %s", issue.CreatedAt.UTC().Format(time.RFC3339), issue.UpdatedAt.UTC().Format(time.RFC3339)),
	}
	if issue.LastMessageBy != "" {
		lines = append(lines, fmt.Sprintf("Last message by: %s", issue.LastMessageBy))
	}
	lines = append(lines, "", orNoSummary(issue.Summary))
	header := strings.Join(lines, "\n")

	if len(messages) == 0 {
		return header
	}

	stats := ComputeThreadStats(messages)
	entries := make([]string, len(messages))
	for i, m := range messages {
		entries[i] = fmt.Sprintf("[%s %s] %s", m.Timestamp.UTC().Format(time.RFC3339), m.Role, m.Content)
	}
	return fmt.Sprintf("%s\n\nTHREAD (%d msg%s, %s):\n%s",
		header, stats.MessageCount, plural(stats.MessageCount), CharCount(stats.TotalChars),
		strings.Join(entries, "\n\n"))
}

// LowPriorityRejection renders the response for a message judged not
// worth tracking.
func LowPriorityRejection(fields *models.IssueFields) string {
	return strings.Join([]string{
		fmt.Sprintf("Not tracked (P%d — below threshold): %q", fields.Priority, fields.Title),
		fmt.Sprintf("Evaluated as: %s | %s", fields.Type, fields.Summary),
		"",
		"To track this, provide more context about its impact or urgency.",
	}, "\n")
}

// FindResults renders similarity search hits, best match first.
func FindResults(results []store.SearchResult) string {
	lines := make([]string, len(results))
	for i, r := range results {
		lines[i] = fmt.Sprintf("%s (%.0f%%) | P%d %s | %s | %s\n  %s",
			r.ID, r.Similarity*100, r.Priority, r.Type, r.Status, r.Title, orNoSummary(r.Summary))
	}
	return strings.Join(lines, "\n\n")
}

// IssueLine renders a single issue as a two-line list entry.
func IssueLine(issue *models.Issue) string {
	return fmt.Sprintf("%s | P%d %s | %s | %s\n  %s",
		issue.ID, issue.Priority, issue.Type, issue.Status, issue.Title, orNoSummary(issue.Summary))
}

// IssueList renders a list of issues, or "No issues found." when empty.
func IssueList(issues []models.Issue) string {
	if len(issues) == 0 {
		return "No issues found."
	}
	lines := make([]string, len(issues))
	for i := range issues {
		lines[i] = IssueLine(&issues[i])
	}
	return strings.Join(lines, "\n\n")
}
