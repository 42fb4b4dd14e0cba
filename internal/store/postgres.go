package store

import (
	"context"
	"crypto/rand"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"trackd/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// DefaultDimensions is the embedding width the schema is created with.
// Must match the embedding model configured for the deployment.
const DefaultDimensions = 1536

// queryIssuesLimit caps compound-query result sets.
const queryIssuesLimit = 25

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL        string // postgres:// connection string, required
	Dimensions int    // embedding vector width, defaults to DefaultDimensions
}

// PostgresStore implements Store on PostgreSQL with the pgvector extension.
type PostgresStore struct {
	pool *pgxpool.Pool
	dims int

	schemaMu   sync.Mutex
	schemaDone bool
}

// NewPostgresStore opens a connection pool. A missing URL is a
// configuration error and fails immediately; it is never retried here.
func NewPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is not configured")
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	return &PostgresStore{pool: pool, dims: cfg.Dimensions}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// EnsureSchema applies the embedded DDL once per process. The DDL is
// itself idempotent (CREATE ... IF NOT EXISTS), so concurrent processes
// bootstrapping the same database do not conflict.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaDone {
		return nil
	}

	if _, err := s.pool.Exec(ctx, fmt.Sprintf(schemaSQL, s.dims)); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.schemaDone = true
	return nil
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewIssueID generates an opaque issue id: "wi_" plus 8 random
// alphanumeric characters.
func NewIssueID() string {
	buf := make([]byte, 8)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken
			panic(fmt.Sprintf("issue id generation: %v", err))
		}
		buf[i] = idAlphabet[n.Int64()]
	}
	return "wi_" + string(buf)
}

// issueColumns selects the issue fields plus the derived last_message_by
// projection. Keep in sync with scanIssue.
const issueColumns = `id, title, type, status, priority, labels, summary,
	embedding IS NOT NULL,
	created_at, updated_at,
	COALESCE((SELECT role FROM thread_messages
		WHERE issue_id = issues.id ORDER BY timestamp DESC LIMIT 1), '')`

// scanIssue reads one issue row produced by issueColumns.
func scanIssue(row pgx.Row) (*models.Issue, error) {
	issue := &models.Issue{}
	var issueType, status, lastBy string
	var labelsRaw []byte

	err := row.Scan(&issue.ID, &issue.Title, &issueType, &status, &issue.Priority,
		&labelsRaw, &issue.Summary, &issue.HasEmbedding,
		&issue.CreatedAt, &issue.UpdatedAt, &lastBy)
	if err != nil {
		return nil, err
	}

	issue.Type = models.IssueType(issueType)
	issue.Status = models.IssueStatus(status)
	issue.Labels = parseLabels(labelsRaw)
	issue.LastMessageBy = models.Role(lastBy)
	return issue, nil
}

// parseLabels decodes the JSONB label array. Malformed labels fall back
// to an empty list rather than failing the row.
func parseLabels(raw []byte) []string {
	var labels []string
	if err := json.Unmarshal(raw, &labels); err != nil || labels == nil {
		return []string{}
	}
	return labels
}

func (s *PostgresStore) CreatePlaceholder(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO issues (id, title, type, status, priority, labels, summary)
		VALUES ($1, 'New issue', 'task', 'open', 3, '[]'::jsonb, '')`, id)
	if err != nil {
		return fmt.Errorf("create issue %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE id = $1`, id)
	issue, err := scanIssue(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", id, err)
	}
	return issue, nil
}

func (s *PostgresStore) ReplaceFields(ctx context.Context, id string, fields models.IssueFields) error {
	labels, err := json.Marshal(fields.Labels)
	if err != nil {
		labels = []byte("[]")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE issues
		SET title = $1, type = $2, status = $3, priority = $4,
			labels = $5::jsonb, summary = $6, updated_at = now()
		WHERE id = $7`,
		fields.Title, string(fields.Type), string(fields.Status),
		fields.Priority, labels, fields.Summary, id)
	if err != nil {
		return fmt.Errorf("replace issue fields %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ReplaceEmbedding(ctx context.Context, id string, embedding []float32) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE issues SET embedding = $1 WHERE id = $2`,
		pgvector.NewVector(embedding), id)
	if err != nil {
		return fmt.Errorf("replace issue embedding %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, id string, status models.IssueStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE issues SET status = $1, updated_at = now() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("set issue status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, issueID string, role models.Role, content string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO thread_messages (issue_id, role, content) VALUES ($1, $2, $3)`,
		issueID, string(role), content)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("append message to %s: %w", issueID, err)
	}
	return nil
}

// isForeignKeyViolation reports Postgres error 23503.
func isForeignKeyViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23503"
}

func (s *PostgresStore) ListMessages(ctx context.Context, issueID string, limit int) ([]models.ThreadMessage, error) {
	query := `SELECT id, issue_id, timestamp, role, content
		FROM thread_messages WHERE issue_id = $1 ORDER BY timestamp ASC`
	args := []any{issueID}
	if limit > 0 {
		// Last N messages, returned chronologically.
		query = `SELECT id, issue_id, timestamp, role, content FROM (
			SELECT id, issue_id, timestamp, role, content
			FROM thread_messages WHERE issue_id = $1
			ORDER BY timestamp DESC LIMIT $2
		) recent ORDER BY timestamp ASC`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", issueID, err)
	}
	defer rows.Close()

	var messages []models.ThreadMessage
	for rows.Next() {
		var m models.ThreadMessage
		var role string
		if err := rows.Scan(&m.ID, &m.IssueID, &m.Timestamp, &role, &m.Content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = models.Role(role)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// scanIssues collects issue rows from a multi-row query.
func (s *PostgresStore) scanIssues(ctx context.Context, query string, args ...any) ([]models.Issue, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var issues []models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, *issue)
	}
	return issues, rows.Err()
}

func (s *PostgresStore) ListByStatus(ctx context.Context) ([]models.Issue, error) {
	return s.scanIssues(ctx,
		`SELECT `+issueColumns+` FROM issues
		ORDER BY
			CASE status
				WHEN 'active' THEN 0
				WHEN 'open' THEN 1
				WHEN 'done' THEN 2
				ELSE 3
			END,
			priority ASC`)
}

func (s *PostgresStore) ListNonDone(ctx context.Context) ([]models.Issue, error) {
	return s.scanIssues(ctx,
		`SELECT `+issueColumns+` FROM issues
		WHERE status IN ('open', 'active')
		ORDER BY
			CASE status WHEN 'active' THEN 0 ELSE 1 END,
			updated_at DESC`)
}

func (s *PostgresStore) VectorSearch(ctx context.Context, embedding []float32, limit int) ([]SearchResult, error) {
	vec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx,
		`SELECT `+issueColumns+`, 1 - (embedding <=> $1) AS similarity
		FROM issues
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var issueType, status, lastBy string
		var labelsRaw []byte
		if err := rows.Scan(&r.ID, &r.Title, &issueType, &status, &r.Priority,
			&labelsRaw, &r.Summary, &r.HasEmbedding,
			&r.CreatedAt, &r.UpdatedAt, &lastBy, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		r.Type = models.IssueType(issueType)
		r.Status = models.IssueStatus(status)
		r.Labels = parseLabels(labelsRaw)
		r.LastMessageBy = models.Role(lastBy)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PostgresStore) ThreadStats(ctx context.Context, issueID string) (models.ThreadStats, error) {
	var stats models.ThreadStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*)::int, COALESCE(SUM(LENGTH(content)), 0)::int
		FROM thread_messages WHERE issue_id = $1`, issueID).
		Scan(&stats.MessageCount, &stats.TotalChars)
	if err != nil {
		return models.ThreadStats{}, fmt.Errorf("thread stats for %s: %w", issueID, err)
	}
	return stats, nil
}

func (s *PostgresStore) ThreadStatsBatch(ctx context.Context, issueIDs []string) (map[string]models.ThreadStats, error) {
	result := make(map[string]models.ThreadStats, len(issueIDs))
	if len(issueIDs) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT issue_id, COUNT(*)::int, COALESCE(SUM(LENGTH(content)), 0)::int
		FROM thread_messages
		WHERE issue_id = ANY($1)
		GROUP BY issue_id`, issueIDs)
	if err != nil {
		return nil, fmt.Errorf("batch thread stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var stats models.ThreadStats
		if err := rows.Scan(&id, &stats.MessageCount, &stats.TotalChars); err != nil {
			return nil, fmt.Errorf("scan thread stats: %w", err)
		}
		result[id] = stats
	}
	return result, rows.Err()
}

func (s *PostgresStore) QueryIssues(ctx context.Context, filters models.QueryFilters) ([]models.QueryIssueResult, error) {
	query, args := buildIssueQuery(filters, queryIssuesLimit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query issues: %w", err)
	}
	defer rows.Close()

	var results []models.QueryIssueResult
	for rows.Next() {
		var r models.QueryIssueResult
		var issueType, status, lastBy, lastRole string
		var labelsRaw []byte
		var lastContent *string
		var lastTS *time.Time
		var similarity *float64

		if err := rows.Scan(&r.ID, &r.Title, &issueType, &status, &r.Priority,
			&labelsRaw, &r.Summary, &r.HasEmbedding, &r.CreatedAt, &r.UpdatedAt,
			&lastBy, &r.Stats.MessageCount, &r.Stats.TotalChars,
			&lastRole, &lastContent, &lastTS, &similarity); err != nil {
			return nil, fmt.Errorf("scan query result: %w", err)
		}

		r.Type = models.IssueType(issueType)
		r.Status = models.IssueStatus(status)
		r.Labels = parseLabels(labelsRaw)
		r.LastMessageBy = models.Role(lastBy)
		r.LastMessageRole = models.Role(lastRole)
		if lastContent != nil {
			r.LastMessageContent = *lastContent
		}
		if lastTS != nil {
			r.LastMessageTimestamp = *lastTS
		}
		r.Similarity = -1
		if similarity != nil {
			r.Similarity = *similarity
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
