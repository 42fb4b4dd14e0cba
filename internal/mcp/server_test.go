package mcp

import (
	"context"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPipeline records calls and returns canned strings.
type mockPipeline struct {
	tellResult string
	askResult  string
	getResult  string
	findResult string

	tellMessage string
	tellIssueID string
	askQuestion string
	getID       string
	findQuery   string
	findLimit   int
}

func (m *mockPipeline) Tell(_ context.Context, message, issueID string) string {
	m.tellMessage = message
	m.tellIssueID = issueID
	return m.tellResult
}

func (m *mockPipeline) Ask(_ context.Context, question string) string {
	m.askQuestion = question
	return m.askResult
}

func (m *mockPipeline) Get(_ context.Context, issueID string) string {
	m.getID = issueID
	return m.getResult
}

func (m *mockPipeline) Find(_ context.Context, query string, limit int) string {
	m.findQuery = query
	m.findLimit = limit
	return m.findResult
}

func newTestServer() (*Server, *mockPipeline) {
	p := &mockPipeline{
		tellResult: "Created wi_abc12345: \"Fix login timeout\"",
		askResult:  "[2 issues matched, 3 total active]\nWork on the login bug first.",
		getResult:  "wi_abc12345: \"Fix login timeout\"",
		findResult: "wi_abc12345 (91%) | P2 bug | open | Fix login timeout",
	}
	return NewServer(p), p
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func TestMCPServerRegistration(t *testing.T) {
	srv, _ := newTestServer()
	require.NotNil(t, srv.MCPServer())
}

func TestHandleTell(t *testing.T) {
	srv, p := newTestServer()

	result, err := srv.handleTell(context.Background(),
		callToolReq("trackd_tell", map[string]any{"message": "login is broken"}))
	require.NoError(t, err)

	assert.Equal(t, "login is broken", p.tellMessage)
	assert.Empty(t, p.tellIssueID)
	assert.Equal(t, p.tellResult, resultText(t, result))
}

func TestHandleTellWithIssueID(t *testing.T) {
	srv, p := newTestServer()

	_, err := srv.handleTell(context.Background(),
		callToolReq("trackd_tell", map[string]any{
			"message":  "also affects mobile",
			"issue_id": "wi_abc12345",
		}))
	require.NoError(t, err)

	assert.Equal(t, "wi_abc12345", p.tellIssueID)
}

func TestHandleTellMissingMessage(t *testing.T) {
	srv, _ := newTestServer()

	result, err := srv.handleTell(context.Background(), callToolReq("trackd_tell", nil))
	require.NoError(t, err)

	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "missing required parameter: message")
}

func TestHandleAsk(t *testing.T) {
	srv, p := newTestServer()

	result, err := srv.handleAsk(context.Background(),
		callToolReq("trackd_ask", map[string]any{"question": "what bugs are open?"}))
	require.NoError(t, err)

	assert.Equal(t, "what bugs are open?", p.askQuestion)
	assert.Equal(t, p.askResult, resultText(t, result))
}

func TestHandleAskMissingQuestion(t *testing.T) {
	srv, _ := newTestServer()

	result, err := srv.handleAsk(context.Background(), callToolReq("trackd_ask", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleGet(t *testing.T) {
	srv, p := newTestServer()

	result, err := srv.handleGet(context.Background(),
		callToolReq("trackd_get", map[string]any{"id": "wi_abc12345"}))
	require.NoError(t, err)

	assert.Equal(t, "wi_abc12345", p.getID)
	assert.Equal(t, p.getResult, resultText(t, result))
}

func TestHandleGetMissingID(t *testing.T) {
	srv, _ := newTestServer()

	result, err := srv.handleGet(context.Background(), callToolReq("trackd_get", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleFind(t *testing.T) {
	srv, p := newTestServer()

	result, err := srv.handleFind(context.Background(),
		callToolReq("trackd_find", map[string]any{"query": "session timeouts", "limit": 3}))
	require.NoError(t, err)

	assert.Equal(t, "session timeouts", p.findQuery)
	assert.Equal(t, 3, p.findLimit)
	assert.Equal(t, p.findResult, resultText(t, result))
}

func TestHandleFindDefaultLimit(t *testing.T) {
	srv, p := newTestServer()

	_, err := srv.handleFind(context.Background(),
		callToolReq("trackd_find", map[string]any{"query": "session timeouts"}))
	require.NoError(t, err)
	assert.Equal(t, 0, p.findLimit)
}
