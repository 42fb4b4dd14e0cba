package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackd/internal/models"
	"trackd/internal/store"
)

type mockStore struct {
	issues   map[string]*models.Issue
	messages map[string][]models.ThreadMessage
	results  []models.QueryIssueResult

	lastFilters models.QueryFilters
}

func newMockStore() *mockStore {
	return &mockStore{
		issues:   map[string]*models.Issue{},
		messages: map[string][]models.ThreadMessage{},
	}
}

func (m *mockStore) EnsureSchema(context.Context) error              { return nil }
func (m *mockStore) CreatePlaceholder(context.Context, string) error { return nil }
func (m *mockStore) GetIssue(_ context.Context, id string) (*models.Issue, error) {
	iss, ok := m.issues[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return iss, nil
}
func (m *mockStore) ReplaceFields(context.Context, string, models.IssueFields) error { return nil }
func (m *mockStore) ReplaceEmbedding(context.Context, string, []float32) error       { return nil }
func (m *mockStore) SetStatus(context.Context, string, models.IssueStatus) error     { return nil }
func (m *mockStore) AppendMessage(context.Context, string, models.Role, string) error {
	return nil
}
func (m *mockStore) ListMessages(_ context.Context, id string, _ int) ([]models.ThreadMessage, error) {
	return m.messages[id], nil
}
func (m *mockStore) ListByStatus(context.Context) ([]models.Issue, error) { return nil, nil }
func (m *mockStore) ListNonDone(context.Context) ([]models.Issue, error)  { return nil, nil }
func (m *mockStore) VectorSearch(context.Context, []float32, int) ([]store.SearchResult, error) {
	return nil, nil
}
func (m *mockStore) ThreadStats(context.Context, string) (models.ThreadStats, error) {
	return models.ThreadStats{}, nil
}
func (m *mockStore) ThreadStatsBatch(context.Context, []string) (map[string]models.ThreadStats, error) {
	return nil, nil
}
func (m *mockStore) QueryIssues(_ context.Context, filters models.QueryFilters) ([]models.QueryIssueResult, error) {
	m.lastFilters = filters
	return m.results, nil
}
func (m *mockStore) Close() {}

type mockPipeline struct {
	mu          sync.Mutex
	tellMessage string
	tellIssueID string
	askQuestion string
	getID       string
	statusID    string
	status      models.IssueStatus
	statusErr   error
}

func (m *mockPipeline) Tell(_ context.Context, message, issueID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tellMessage = message
	m.tellIssueID = issueID
	return "Created wi_abc12345: \"Fix login timeout\""
}

func (m *mockPipeline) Ask(_ context.Context, question string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.askQuestion = question
	return "[1 issues matched, 2 total active]\nLogin work is active."
}

func (m *mockPipeline) Get(_ context.Context, issueID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getID = issueID
	return "wi_abc12345: \"Fix login timeout\""
}

func (m *mockPipeline) SetStatus(_ context.Context, issueID string, status models.IssueStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusID = issueID
	m.status = status
	return m.statusErr
}

type mockEmbedder struct {
	vec []float32
	err error
}

func (m *mockEmbedder) Embed(context.Context, string) ([]float32, error) {
	return m.vec, m.err
}

type mockPoster struct {
	mu       sync.Mutex
	channel  string
	text     string
	threadTS string
	posted   chan struct{}
}

func newMockPoster() *mockPoster {
	return &mockPoster{posted: make(chan struct{}, 1)}
}

func (m *mockPoster) PostMessage(_ context.Context, channel, text, threadTS string) error {
	m.mu.Lock()
	m.channel = channel
	m.text = text
	m.threadTS = threadTS
	m.mu.Unlock()
	m.posted <- struct{}{}
	return nil
}

const testDashboardToken = "dash-token"
const testSigningSecret = "signing-secret"

func newTestServer() (*Server, *mockStore, *mockPipeline, *mockPoster) {
	ms := newMockStore()
	mp := &mockPipeline{}
	poster := newMockPoster()
	srv := NewServer(ms, mp, &mockEmbedder{vec: []float32{0.1}}, poster, nil, Config{
		DashboardToken:     testDashboardToken,
		APIToken:           "api-token",
		SlackSigningSecret: testSigningSecret,
		BaseURL:            "https://trackd.example",
	}, nil)
	return srv, ms, mp, poster
}

func doRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func withSession(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: testDashboardToken})
	return req
}

func TestHealth(t *testing.T) {
	srv, _, _, _ := newTestServer()
	rec := doRequest(srv, httptest.NewRequest("GET", "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestLogin(t *testing.T) {
	t.Run("unconfigured", func(t *testing.T) {
		srv, _, _, _ := newTestServer()
		srv.cfg.DashboardToken = ""
		rec := doRequest(srv, httptest.NewRequest("POST", "/api/auth", strings.NewReader(`{"token":"x"}`)))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		srv, _, _, _ := newTestServer()
		rec := doRequest(srv, httptest.NewRequest("POST", "/api/auth", strings.NewReader("not json")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		srv, _, _, _ := newTestServer()
		rec := doRequest(srv, httptest.NewRequest("POST", "/api/auth", strings.NewReader(`{"token":"wrong"}`)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token sets cookie", func(t *testing.T) {
		srv, _, _, _ := newTestServer()
		rec := doRequest(srv, httptest.NewRequest("POST", "/api/auth",
			strings.NewReader(`{"token":"`+testDashboardToken+`"}`)))
		require.Equal(t, http.StatusOK, rec.Code)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, sessionCookieName, cookies[0].Name)
		assert.Equal(t, testDashboardToken, cookies[0].Value)
		assert.True(t, cookies[0].HttpOnly)
	})
}

func TestLogoutClearsCookie(t *testing.T) {
	srv, _, _, _ := newTestServer()
	rec := doRequest(srv, httptest.NewRequest("DELETE", "/api/auth", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestSessionRequired(t *testing.T) {
	srv, _, _, _ := newTestServer()

	rec := doRequest(srv, httptest.NewRequest("GET", "/api/v1/issues", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("GET", "/api/v1/issues", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "forged"})
	rec = doRequest(srv, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListIssuesFilters(t *testing.T) {
	srv, ms, _, _ := newTestServer()

	rec := doRequest(srv, withSession(httptest.NewRequest("GET",
		"/api/v1/issues?status=open,active&type=bug&priority_max=2&labels=auth&min_messages=1&q=login", nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []models.IssueStatus{models.IssueStatusOpen, models.IssueStatusActive}, ms.lastFilters.Statuses)
	assert.Equal(t, []models.IssueType{models.IssueTypeBug}, ms.lastFilters.Types)
	assert.Equal(t, 2, ms.lastFilters.PriorityMax)
	assert.Equal(t, []string{"auth"}, ms.lastFilters.Labels)
	assert.Equal(t, 1, ms.lastFilters.MinMessages)
	assert.NotEmpty(t, ms.lastFilters.SearchEmbedding)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body.Count)
}

func TestListIssuesInvalidStatus(t *testing.T) {
	srv, _, _, _ := newTestServer()
	rec := doRequest(srv, withSession(httptest.NewRequest("GET", "/api/v1/issues?status=bogus", nil)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetIssue(t *testing.T) {
	srv, ms, _, _ := newTestServer()
	ms.issues["wi_abc12345"] = &models.Issue{
		ID:     "wi_abc12345",
		Title:  "Fix login timeout",
		Type:   models.IssueTypeBug,
		Status: models.IssueStatusOpen,
		Labels: []string{"auth"},
	}
	ms.messages["wi_abc12345"] = []models.ThreadMessage{
		{ID: 1, Role: models.RoleUser, Content: "Sessions expire early.", Timestamp: time.Now()},
	}

	rec := doRequest(srv, withSession(httptest.NewRequest("GET", "/api/v1/issues/wi_abc12345", nil)))
	require.Equal(t, http.StatusOK, rec.Code)

	var body issueDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "wi_abc12345", body.Issue.ID)
	assert.Equal(t, []string{"auth"}, body.Labels)
	assert.Equal(t, 1, body.Stats.MessageCount)
	require.Len(t, body.Thread, 1)
	assert.Equal(t, "Sessions expire early.", body.Thread[0].Content)
}

func TestGetIssueNotFound(t *testing.T) {
	srv, _, _, _ := newTestServer()
	rec := doRequest(srv, withSession(httptest.NewRequest("GET", "/api/v1/issues/wi_none", nil)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetStatus(t *testing.T) {
	srv, _, mp, _ := newTestServer()

	rec := doRequest(srv, withSession(httptest.NewRequest("PUT", "/api/v1/issues/wi_abc12345/status",
		strings.NewReader(`{"status":"done"}`))))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "wi_abc12345", mp.statusID)
	assert.Equal(t, models.IssueStatusDone, mp.status)
}

func TestSetStatusNotFound(t *testing.T) {
	srv, _, mp, _ := newTestServer()
	mp.statusErr = store.ErrNotFound

	rec := doRequest(srv, withSession(httptest.NewRequest("PUT", "/api/v1/issues/wi_gone/status",
		strings.NewReader(`{"status":"done"}`))))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- Slack webhook ---

func signSlack(secret, timestamp, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func slackRequest(body string) *http.Request {
	req := httptest.NewRequest("POST", "/api/slack", strings.NewReader(body))
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", signSlack(testSigningSecret, ts, body))
	return req
}

func TestSlackWebhookUnconfigured(t *testing.T) {
	srv, _, _, _ := newTestServer()
	srv.slack = nil
	rec := doRequest(srv, httptest.NewRequest("POST", "/api/slack", strings.NewReader("{}")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSlackWebhookBadSignature(t *testing.T) {
	srv, _, _, _ := newTestServer()
	req := httptest.NewRequest("POST", "/api/slack", strings.NewReader("{}"))
	req.Header.Set("X-Slack-Request-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")
	rec := doRequest(srv, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSlackWebhookChallenge(t *testing.T) {
	srv, _, _, _ := newTestServer()
	rec := doRequest(srv, slackRequest(`{"type":"url_verification","challenge":"abc123"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "abc123", body["challenge"])
}

func TestSlackWebhookDropsRetries(t *testing.T) {
	srv, _, mp, poster := newTestServer()

	req := slackRequest(`{"type":"event_callback","event":{"type":"message","channel_type":"im","text":"broken","channel":"C1","ts":"1.2"}}`)
	req.Header.Set("X-Slack-Retry-Num", "1")
	rec := doRequest(srv, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-poster.posted:
		t.Fatal("retry should not dispatch")
	case <-time.After(50 * time.Millisecond):
	}
	mp.mu.Lock()
	assert.Empty(t, mp.tellMessage)
	mp.mu.Unlock()
}

func TestSlackWebhookIgnoresBots(t *testing.T) {
	srv, _, _, poster := newTestServer()

	rec := doRequest(srv, slackRequest(`{"type":"event_callback","event":{"type":"message","channel_type":"im","bot_id":"B1","text":"hi","channel":"C1","ts":"1.2"}}`))
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-poster.posted:
		t.Fatal("bot message should not dispatch")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlackWebhookDispatchesTell(t *testing.T) {
	srv, _, mp, poster := newTestServer()

	rec := doRequest(srv, slackRequest(`{"type":"event_callback","event":{"type":"message","channel_type":"im","text":"the deploy is broken","channel":"C1","ts":"1.2"}}`))
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-poster.posted:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a posted response")
	}

	mp.mu.Lock()
	assert.Equal(t, "the deploy is broken", mp.tellMessage)
	mp.mu.Unlock()

	poster.mu.Lock()
	assert.Equal(t, "C1", poster.channel)
	assert.Equal(t, "1.2", poster.threadTS)
	assert.Contains(t, poster.text, "<https://trackd.example/issue/wi_abc12345|wi_abc12345>")
	poster.mu.Unlock()
}

func TestSlackWebhookDispatchesAsk(t *testing.T) {
	srv, _, mp, poster := newTestServer()

	rec := doRequest(srv, slackRequest(`{"type":"event_callback","event":{"type":"message","channel_type":"im","text":"?what is open","channel":"C1","ts":"1.2"}}`))
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-poster.posted:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a posted response")
	}

	mp.mu.Lock()
	assert.Equal(t, "what is open", mp.askQuestion)
	mp.mu.Unlock()
}

func TestMCPMountRequiresBearer(t *testing.T) {
	srv, _, _, _ := newTestServer()
	srv.mcp = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := doRequest(srv, httptest.NewRequest("POST", "/mcp", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("POST", "/mcp", nil)
	req.Header.Set("Authorization", "Bearer api-token")
	rec = doRequest(srv, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
