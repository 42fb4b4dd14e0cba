package store

import (
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"trackd/internal/models"
)

// buildIssueQuery assembles the compound filter query. Thread stats and
// the last-message preview come from correlated lateral joins so callers
// get everything in one round trip. Returns positional SQL and its args.
func buildIssueQuery(filters models.QueryFilters, limit int) (string, []any) {
	var conditions []string
	var args []any

	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	similarityExpr := "NULL::float8"
	if len(filters.SearchEmbedding) > 0 {
		p := next(pgvector.NewVector(filters.SearchEmbedding))
		similarityExpr = fmt.Sprintf("1 - (i.embedding <=> %s)", p)
		conditions = append(conditions, "i.embedding IS NOT NULL")
	}

	if len(filters.Statuses) > 0 {
		conditions = append(conditions, fmt.Sprintf("i.status = ANY(%s)", next(statusStrings(filters.Statuses))))
	}
	if len(filters.Types) > 0 {
		conditions = append(conditions, fmt.Sprintf("i.type = ANY(%s)", next(typeStrings(filters.Types))))
	}
	if filters.PriorityMax > 0 {
		conditions = append(conditions, fmt.Sprintf("i.priority <= %s", next(filters.PriorityMax)))
	}
	if filters.LastMessageBy != "" {
		conditions = append(conditions, fmt.Sprintf("last_msg.role = %s", next(string(filters.LastMessageBy))))
	}
	if len(filters.Labels) > 0 {
		conditions = append(conditions, fmt.Sprintf("i.labels ?| %s", next(filters.Labels)))
	}
	if filters.MinMessages > 0 {
		conditions = append(conditions, fmt.Sprintf("ts.message_count >= %s", next(filters.MinMessages)))
	}
	if filters.MaxMessages > 0 {
		conditions = append(conditions, fmt.Sprintf("ts.message_count <= %s", next(filters.MaxMessages)))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	orderClause := "ORDER BY i.priority ASC, i.updated_at DESC"
	if len(filters.SearchEmbedding) > 0 {
		orderClause = "ORDER BY similarity DESC NULLS LAST"
	}

	limitParam := next(limit)

	query := fmt.Sprintf(`
		SELECT i.id, i.title, i.type, i.status, i.priority, i.labels, i.summary,
			i.embedding IS NOT NULL,
			i.created_at, i.updated_at,
			COALESCE(last_msg.role, ''),
			COALESCE(ts.message_count, 0),
			COALESCE(ts.total_chars, 0),
			COALESCE(last_msg.role, ''),
			LEFT(last_msg.content, 500),
			last_msg.timestamp,
			%s AS similarity
		FROM issues i
		LEFT JOIN LATERAL (
			SELECT COUNT(*)::int AS message_count,
				COALESCE(SUM(LENGTH(content)), 0)::int AS total_chars
			FROM thread_messages WHERE issue_id = i.id
		) ts ON true
		LEFT JOIN LATERAL (
			SELECT role, content, timestamp
			FROM thread_messages WHERE issue_id = i.id
			ORDER BY timestamp DESC LIMIT 1
		) last_msg ON true
		%s
		%s
		LIMIT %s`,
		similarityExpr, whereClause, orderClause, limitParam)

	return query, args
}

func statusStrings(statuses []models.IssueStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func typeStrings(types []models.IssueType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
