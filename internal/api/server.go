// Package api provides the HTTP surface: dashboard auth and data
// routes, the Slack events webhook, and the streamable MCP mount.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"trackd/internal/format"
	"trackd/internal/models"
	"trackd/internal/store"
)

const sessionCookieName = "trackd_session"

// Pipeline is the subset of tracker operations the HTTP surface calls.
type Pipeline interface {
	Tell(ctx context.Context, message, issueID string) string
	Ask(ctx context.Context, question string) string
	Get(ctx context.Context, issueID string) string
	SetStatus(ctx context.Context, issueID string, status models.IssueStatus) error
}

// Embedder produces search embeddings for the dashboard query route.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SlackPoster sends responses back to Slack.
type SlackPoster interface {
	PostMessage(ctx context.Context, channel, text, threadTS string) error
}

// Config holds the HTTP surface settings.
type Config struct {
	// DashboardToken gates the dashboard data routes. Empty disables
	// dashboard auth entirely (routes return 503).
	DashboardToken string
	// APIToken gates the MCP mount as a bearer token.
	APIToken string
	// SlackSigningSecret verifies Slack webhook signatures.
	SlackSigningSecret string
	// BaseURL, when set, turns issue ids in Slack responses into links.
	BaseURL string
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
}

// Server provides the HTTP handlers.
type Server struct {
	store    store.Store
	pipeline Pipeline
	embedder Embedder
	slack    SlackPoster
	mcp      http.Handler
	cfg      Config
	log      *slog.Logger
}

// NewServer creates the HTTP server. embedder, slackClient, and
// mcpHandler may be nil; the routes needing them degrade or 503.
func NewServer(st store.Store, p Pipeline, embedder Embedder, slackClient SlackPoster, mcpHandler http.Handler, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    st,
		pipeline: p,
		embedder: embedder,
		slack:    slackClient,
		mcp:      mcpHandler,
		cfg:      cfg,
		log:      logger,
	}
}

// Router returns an http.Handler for all routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.health)

	mux.HandleFunc("POST /api/auth", s.login)
	mux.HandleFunc("DELETE /api/auth", s.logout)

	mux.Handle("GET /api/v1/issues", s.requireSession(http.HandlerFunc(s.listIssues)))
	mux.Handle("GET /api/v1/issues/{id}", s.requireSession(http.HandlerFunc(s.getIssue)))
	mux.Handle("PUT /api/v1/issues/{id}/status", s.requireSession(http.HandlerFunc(s.setStatus)))

	mux.HandleFunc("POST /api/slack", s.slackWebhook)

	if s.mcp != nil {
		mux.Handle("/mcp", s.requireBearer(s.mcp))
	}

	return requestIDMiddleware(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func tokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Auth ---

func (s *Server) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if s.cfg.DashboardToken == "" {
		writeError(w, http.StatusServiceUnavailable, "Dashboard authentication not configured")
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !tokenEqual(body.Token, s.cfg.DashboardToken) {
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	http.SetCookie(w, s.sessionCookie(s.cfg.DashboardToken, 7*24*3600))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, s.sessionCookie("", -1))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.DashboardToken == "" {
			writeError(w, http.StatusServiceUnavailable, "Dashboard authentication not configured")
			return
		}
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || !tokenEqual(cookie.Value, s.cfg.DashboardToken) {
			writeError(w, http.StatusUnauthorized, "Invalid session")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIToken == "" {
			writeError(w, http.StatusServiceUnavailable, "API authentication not configured")
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || !tokenEqual(token, s.cfg.APIToken) {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Issues ---

func splitParam(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// listIssues runs the compound issue query. Query params: status, type,
// labels (comma separated), priority_max, last_message_by,
// min_messages, max_messages, and q for semantic ordering.
func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filters models.QueryFilters
	for _, v := range splitParam(q.Get("status")) {
		status := models.IssueStatus(v)
		if !models.ValidStatus(status) {
			writeError(w, http.StatusBadRequest, "invalid status: "+v)
			return
		}
		filters.Statuses = append(filters.Statuses, status)
	}
	for _, v := range splitParam(q.Get("type")) {
		typ := models.IssueType(v)
		if !models.ValidType(typ) {
			writeError(w, http.StatusBadRequest, "invalid type: "+v)
			return
		}
		filters.Types = append(filters.Types, typ)
	}
	filters.Labels = splitParam(q.Get("labels"))
	filters.LastMessageBy = models.Role(q.Get("last_message_by"))
	for param, target := range map[string]*int{
		"priority_max": &filters.PriorityMax,
		"min_messages": &filters.MinMessages,
		"max_messages": &filters.MaxMessages,
	} {
		if v := q.Get(param); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid "+param)
				return
			}
			*target = n
		}
	}

	if search := q.Get("q"); search != "" && s.embedder != nil {
		embedding, err := s.embedder.Embed(r.Context(), search)
		if err != nil {
			s.log.Warn("query embedding failed, ignoring search term", "error", err)
		} else {
			filters.SearchEmbedding = embedding
		}
	}

	results, err := s.store.QueryIssues(r.Context(), filters)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, format.QueryResults(results))
}

type issueDetailResponse struct {
	Issue  format.IssueSummaryPayload `json:"issue"`
	Labels []string                   `json:"labels"`
	Stats  format.ThreadPayload       `json:"stats"`
	Thread []threadMessagePayload     `json:"thread"`
}

type threadMessagePayload struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Role      models.Role `json:"role"`
	Content   string      `json:"content"`
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	issue, err := s.store.GetIssue(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Issue not found: "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	messages, err := s.store.ListMessages(r.Context(), id, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	stats := format.ComputeThreadStats(messages)
	resp := issueDetailResponse{
		Labels: issue.Labels,
		Stats:  format.ThreadPayload{MessageCount: stats.MessageCount, TotalChars: stats.TotalChars},
		Thread: make([]threadMessagePayload, len(messages)),
	}
	resp.Issue = format.IssuesPayload([]models.Issue{*issue})[0]
	for i, m := range messages {
		resp.Thread[i] = threadMessagePayload{
			ID:        m.ID,
			Timestamp: m.Timestamp,
			Role:      m.Role,
			Content:   m.Content,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) setStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	err := s.pipeline.SetStatus(r.Context(), id, models.IssueStatus(body.Status))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Issue not found: "+id)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": body.Status})
}
