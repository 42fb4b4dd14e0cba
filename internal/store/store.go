package store

import (
	"context"
	"errors"

	"trackd/internal/models"
)

// ErrNotFound is returned when a referenced issue id does not exist.
var ErrNotFound = errors.New("issue not found")

// SearchResult is a vector-search hit: an issue plus its cosine
// similarity to the query embedding, in [0,1].
type SearchResult struct {
	models.Issue
	Similarity float64
}

// Store defines the persistence interface for trackd.
//
// Per tell-call the pipeline sequences appendMessage, extraction, and
// ReplaceFields strictly; the store itself does no cross-request locking.
// Concurrent tells against the same issue interleave with last-write-wins
// on the derived fields, while thread appends are independent inserts and
// never corrupt the log.
type Store interface {
	// EnsureSchema bootstraps tables, indexes, and the vector extension.
	// Idempotent and memoized per process; safe to call on every request
	// and safe to race.
	EnsureSchema(ctx context.Context) error

	// CreatePlaceholder inserts a new issue row with fixed defaults:
	// title "New issue", type task, status open, priority 3, no labels,
	// empty summary. Extraction replaces the fields afterwards.
	CreatePlaceholder(ctx context.Context, id string) error

	GetIssue(ctx context.Context, id string) (*models.Issue, error)

	// ReplaceFields overwrites all six derived fields and bumps updated_at.
	ReplaceFields(ctx context.Context, id string, fields models.IssueFields) error

	// ReplaceEmbedding overwrites the stored embedding. Independent of
	// ReplaceFields; computed from the fresh summary after fields persist.
	ReplaceEmbedding(ctx context.Context, id string, embedding []float32) error

	// SetStatus mutates status directly, bypassing extraction.
	SetStatus(ctx context.Context, id string, status models.IssueStatus) error

	// AppendMessage inserts a thread entry with a server-side timestamp.
	// Returns ErrNotFound when the issue does not exist.
	AppendMessage(ctx context.Context, issueID string, role models.Role, content string) error

	// ListMessages returns the thread in ascending timestamp order. When
	// limit > 0 it returns the most recent limit messages, still ascending.
	ListMessages(ctx context.Context, issueID string, limit int) ([]models.ThreadMessage, error)

	// ListByStatus returns every issue ordered by status rank
	// (active, open, done, archived) then priority ascending.
	ListByStatus(ctx context.Context) ([]models.Issue, error)

	// ListNonDone returns open and active issues, active first, each
	// bucket most recently updated first.
	ListNonDone(ctx context.Context) ([]models.Issue, error)

	// VectorSearch returns up to limit issues ordered by descending cosine
	// similarity to the embedding. Issues without an embedding are excluded.
	VectorSearch(ctx context.Context, embedding []float32, limit int) ([]SearchResult, error)

	ThreadStats(ctx context.Context, issueID string) (models.ThreadStats, error)

	// ThreadStatsBatch computes stats for many issues in one round trip.
	// Issues with no messages are absent from the result map.
	ThreadStatsBatch(ctx context.Context, issueIDs []string) (map[string]models.ThreadStats, error)

	// QueryIssues runs the compound filter query. With a search embedding
	// results are ordered by similarity descending; otherwise by priority
	// ascending then recency descending.
	QueryIssues(ctx context.Context, filters models.QueryFilters) ([]models.QueryIssueResult, error)

	Close()
}
