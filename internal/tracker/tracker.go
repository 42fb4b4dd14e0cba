// Package tracker implements the message-processing pipelines: tell
// routes incoming messages into new or existing issue threads, ask
// answers questions over the active issue set, and get and find read
// issues back out. All operations return user-facing strings and
// absorb downstream failures into readable error responses.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"trackd/internal/ai"
	"trackd/internal/format"
	"trackd/internal/models"
	"trackd/internal/store"
)

// FieldExtractor derives issue fields from a thread window.
type FieldExtractor interface {
	Extract(ctx context.Context, thread []models.ThreadMessage, priorSummary string) (*models.IssueFields, error)
}

// Embedder produces embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Judge decides whether a message duplicates one of a set of
// near-match candidates.
type Judge interface {
	Resolve(ctx context.Context, message string, candidates []store.SearchResult) (*ai.Resolution, error)
}

// Answerer responds to questions grounded in an issue set.
type Answerer interface {
	Answer(ctx context.Context, question string, issues []models.Issue, stats map[string]models.ThreadStats) (string, error)
}

// Config holds the pipeline tuning knobs.
type Config struct {
	// DuplicateThreshold is the minimum similarity for a candidate to
	// absorb new work.
	DuplicateThreshold float64
	// RelatedThreshold is the minimum similarity for a candidate to be
	// considered at all; below it the message always creates.
	RelatedThreshold float64
	// MaxTrackablePriority is the worst priority still worth tracking.
	MaxTrackablePriority int
	// ThreadContextLimit bounds the thread window passed to extraction.
	ThreadContextLimit int
	// SearchLimit bounds duplicate-candidate retrieval.
	SearchLimit int
	// AskSearchLimit bounds the vector arm of the ask scope.
	AskSearchLimit int
}

// DefaultConfig returns the standard pipeline tuning.
func DefaultConfig() Config {
	return Config{
		DuplicateThreshold:   0.85,
		RelatedThreshold:     0.70,
		MaxTrackablePriority: 4,
		ThreadContextLimit:   20,
		SearchLimit:          5,
		AskSearchLimit:       10,
	}
}

// Tracker wires the store and model clients into the pipelines.
type Tracker struct {
	store     store.Store
	extractor FieldExtractor
	embedder  Embedder
	judge     Judge
	qa        Answerer
	cfg       Config
	log       *slog.Logger
}

// New creates a Tracker. logger may be nil.
func New(st store.Store, extractor FieldExtractor, embedder Embedder, judge Judge, qa Answerer, cfg Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:     st,
		extractor: extractor,
		embedder:  embedder,
		judge:     judge,
		qa:        qa,
		cfg:       cfg,
		log:       logger,
	}
}

func errDetail(err error) string {
	if err == nil {
		return "Unknown error"
	}
	return err.Error()
}

// virtualMessage wraps an incoming message as an unsaved thread entry
// so extraction sees the same shape for new and existing issues.
func virtualMessage(content string) models.ThreadMessage {
	return models.ThreadMessage{
		Timestamp: time.Now().UTC(),
		Role:      models.RoleAssistant,
		Content:   content,
	}
}

// Tell processes an incoming message. With issueID set it appends to
// that thread; otherwise it routes the message through duplicate
// resolution to decide between creating and updating.
func (t *Tracker) Tell(ctx context.Context, message, issueID string) string {
	if err := t.store.EnsureSchema(ctx); err != nil {
		t.log.Error("tell failed", "error", err)
		return fmt.Sprintf("Error processing message: %s", errDetail(err))
	}
	if issueID != "" {
		return t.tellExisting(ctx, issueID, message)
	}
	return t.tellRouted(ctx, message)
}

// tellRouted handles a message with no explicit target: search for
// near matches, judge borderline ones, then create or update.
func (t *Tracker) tellRouted(ctx context.Context, message string) string {
	candidates := t.duplicateCandidates(ctx, message)
	if len(candidates) == 0 {
		return t.tellNew(ctx, message)
	}

	res, err := t.judge.Resolve(ctx, message, candidates)
	if err != nil {
		t.log.Warn("duplicate resolution failed, creating", "error", err)
		return t.tellNew(ctx, message)
	}
	if res.Action != "update" {
		return t.tellNew(ctx, message)
	}

	target := findCandidate(candidates, res.TargetID)
	if target == nil {
		return t.tellNew(ctx, message)
	}
	if res.Intent != ai.IntentDirective {
		// New work needs a true duplicate: similarity at or above the
		// duplicate threshold, and never a done issue.
		if target.Similarity < t.cfg.DuplicateThreshold || target.Status == models.IssueStatusDone {
			return t.tellNew(ctx, message)
		}
	}
	return t.tellExisting(ctx, target.ID, message)
}

// duplicateCandidates embeds the message and returns search hits at or
// above the related threshold. Any failure yields no candidates, which
// routes the message to creation.
func (t *Tracker) duplicateCandidates(ctx context.Context, message string) []store.SearchResult {
	embedding, err := t.embedder.Embed(ctx, message)
	if err != nil {
		t.log.Warn("search embedding failed, skipping duplicate check", "error", err)
		return nil
	}
	results, err := t.store.VectorSearch(ctx, embedding, t.cfg.SearchLimit)
	if err != nil {
		t.log.Warn("vector search failed, skipping duplicate check", "error", err)
		return nil
	}
	candidates := results[:0:0]
	for _, r := range results {
		if r.Similarity >= t.cfg.RelatedThreshold {
			candidates = append(candidates, r)
		}
	}
	return candidates
}

func findCandidate(candidates []store.SearchResult, id string) *store.SearchResult {
	for i := range candidates {
		if candidates[i].ID == id {
			return &candidates[i]
		}
	}
	return nil
}

// tellNew creates an issue from a message, unless extraction judges it
// below the tracking threshold. Nothing persists on rejection.
func (t *Tracker) tellNew(ctx context.Context, message string) string {
	virtual := virtualMessage(message)

	fields, err := t.extractor.Extract(ctx, []models.ThreadMessage{virtual}, "")
	if err != nil {
		t.log.Warn("extraction failed for new issue", "error", err)
		return "Could not extract issue details. Please provide more context."
	}

	if fields.Priority > t.cfg.MaxTrackablePriority {
		return format.LowPriorityRejection(fields)
	}

	issueID := store.NewIssueID()
	if err := t.store.CreatePlaceholder(ctx, issueID); err != nil {
		t.log.Error("create failed", "error", err)
		return fmt.Sprintf("Error processing message: %s", errDetail(err))
	}
	if err := t.store.AppendMessage(ctx, issueID, models.RoleAssistant, message); err != nil {
		t.log.Error("append failed", "issue", issueID, "error", err)
		return fmt.Sprintf("Error processing message: %s", errDetail(err))
	}
	if err := t.store.ReplaceFields(ctx, issueID, *fields); err != nil {
		t.log.Error("field update failed", "issue", issueID, "error", err)
		return fmt.Sprintf("Error processing message: %s", errDetail(err))
	}
	t.refreshEmbedding(ctx, issueID, fields.Summary)

	issue, err := t.store.GetIssue(ctx, issueID)
	if err != nil {
		t.log.Error("readback failed", "issue", issueID, "error", err)
		return fmt.Sprintf("Error processing message: %s", errDetail(err))
	}

	stats := format.ComputeThreadStats([]models.ThreadMessage{virtual})
	return format.IssueConfirmation(issue, "Created", stats)
}

// tellExisting appends a message to an issue's thread and re-derives
// its fields from the recent window. Extraction failure leaves the
// stored fields untouched; the message still lands in the thread.
func (t *Tracker) tellExisting(ctx context.Context, issueID, message string) string {
	existing, err := t.store.GetIssue(ctx, issueID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("Issue not found: %s", issueID)
		}
		t.log.Error("lookup failed", "issue", issueID, "error", err)
		return fmt.Sprintf("Error processing message: %s", errDetail(err))
	}

	if err := t.store.AppendMessage(ctx, issueID, models.RoleAssistant, message); err != nil {
		t.log.Error("append failed", "issue", issueID, "error", err)
		return fmt.Sprintf("Error processing message: %s", errDetail(err))
	}

	window, err := t.store.ListMessages(ctx, issueID, t.cfg.ThreadContextLimit)
	if err != nil {
		t.log.Error("thread read failed", "issue", issueID, "error", err)
		return fmt.Sprintf("Error processing message: %s", errDetail(err))
	}

	fields, err := t.extractor.Extract(ctx, window, existing.Summary)
	if err != nil {
		t.log.Warn("extraction failed, keeping stored fields", "issue", issueID, "error", err)
	} else {
		if err := t.store.ReplaceFields(ctx, issueID, *fields); err != nil {
			t.log.Error("field update failed", "issue", issueID, "error", err)
			return fmt.Sprintf("Error processing message: %s", errDetail(err))
		}
		t.refreshEmbedding(ctx, issueID, fields.Summary)
	}

	updated, err := t.store.GetIssue(ctx, issueID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("Issue not found: %s", issueID)
		}
		t.log.Error("readback failed", "issue", issueID, "error", err)
		return fmt.Sprintf("Error processing message: %s", errDetail(err))
	}

	stats, err := t.store.ThreadStats(ctx, issueID)
	if err != nil {
		t.log.Error("stats failed", "issue", issueID, "error", err)
		return fmt.Sprintf("Error processing message: %s", errDetail(err))
	}
	return format.IssueConfirmation(updated, "Updated", stats)
}

// refreshEmbedding regenerates an issue's embedding from its summary.
// Best effort: failures log and leave the previous embedding in place.
func (t *Tracker) refreshEmbedding(ctx context.Context, issueID, summary string) {
	embedding, err := t.embedder.Embed(ctx, summary)
	if err != nil {
		t.log.Warn("embedding refresh failed", "issue", issueID, "error", err)
		return
	}
	if err := t.store.ReplaceEmbedding(ctx, issueID, embedding); err != nil {
		t.log.Warn("embedding write failed", "issue", issueID, "error", err)
	}
}

// Ask answers a question over the union of non-done issues and the
// question's nearest issues by embedding.
func (t *Tracker) Ask(ctx context.Context, question string) string {
	if err := t.store.EnsureSchema(ctx); err != nil {
		t.log.Error("ask failed", "error", err)
		return fmt.Sprintf("Error answering question: %s", errDetail(err))
	}

	var (
		nonDone []models.Issue
		matched []store.SearchResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nonDone, err = t.store.ListNonDone(gctx)
		return err
	})
	g.Go(func() error {
		embedding, err := t.embedder.Embed(gctx, question)
		if err != nil {
			t.log.Warn("question embedding failed, using active issues only", "error", err)
			return nil
		}
		matched, err = t.store.VectorSearch(gctx, embedding, t.cfg.AskSearchLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		t.log.Error("ask failed", "error", err)
		return fmt.Sprintf("Error answering question: %s", errDetail(err))
	}

	seen := make(map[string]bool, len(nonDone))
	scope := make([]models.Issue, 0, len(nonDone)+len(matched))
	for _, iss := range nonDone {
		seen[iss.ID] = true
		scope = append(scope, iss)
	}
	for _, r := range matched {
		if !seen[r.ID] {
			seen[r.ID] = true
			scope = append(scope, r.Issue)
		}
	}

	if len(scope) == 0 {
		return "No issues found."
	}

	ids := make([]string, len(scope))
	for i, iss := range scope {
		ids[i] = iss.ID
	}
	stats, err := t.store.ThreadStatsBatch(ctx, ids)
	if err != nil {
		t.log.Error("stats batch failed", "error", err)
		return fmt.Sprintf("Error answering question: %s", errDetail(err))
	}

	answer, err := t.qa.Answer(ctx, question, scope, stats)
	if err != nil {
		t.log.Error("answer failed", "error", err)
		return fmt.Sprintf("Error answering question: %s", errDetail(err))
	}
	return fmt.Sprintf("[%d issues matched, %d total active]\n%s", len(matched), len(nonDone), answer)
}

// Get renders an issue with its full thread.
func (t *Tracker) Get(ctx context.Context, issueID string) string {
	if err := t.store.EnsureSchema(ctx); err != nil {
		t.log.Error("get failed", "error", err)
		return fmt.Sprintf("Error retrieving issue: %s", errDetail(err))
	}
	issue, err := t.store.GetIssue(ctx, issueID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Sprintf("Issue not found: %s", issueID)
		}
		t.log.Error("get failed", "issue", issueID, "error", err)
		return fmt.Sprintf("Error retrieving issue: %s", errDetail(err))
	}
	messages, err := t.store.ListMessages(ctx, issueID, 0)
	if err != nil {
		t.log.Error("thread read failed", "issue", issueID, "error", err)
		return fmt.Sprintf("Error retrieving issue: %s", errDetail(err))
	}
	return format.IssueDetail(issue, messages)
}

// Find runs a similarity search over issue embeddings. limit falls
// back to the configured search limit when not positive.
func (t *Tracker) Find(ctx context.Context, query string, limit int) string {
	if err := t.store.EnsureSchema(ctx); err != nil {
		t.log.Error("find failed", "error", err)
		return fmt.Sprintf("Error searching issues: %s", errDetail(err))
	}
	if limit <= 0 {
		limit = t.cfg.SearchLimit
	}
	embedding, err := t.embedder.Embed(ctx, query)
	if err != nil {
		t.log.Warn("search embedding failed", "error", err)
		return "Could not generate embedding for search."
	}
	results, err := t.store.VectorSearch(ctx, embedding, limit)
	if err != nil {
		t.log.Error("find failed", "error", err)
		return fmt.Sprintf("Error searching issues: %s", errDetail(err))
	}
	if len(results) == 0 {
		return "No similar issues found."
	}
	return format.FindResults(results)
}

// SetStatus manually overrides an issue's status.
func (t *Tracker) SetStatus(ctx context.Context, issueID string, status models.IssueStatus) error {
	if !models.ValidStatus(status) {
		return fmt.Errorf("invalid status %q", status)
	}
	if err := t.store.EnsureSchema(ctx); err != nil {
		return err
	}
	return t.store.SetStatus(ctx, issueID, status)
}
