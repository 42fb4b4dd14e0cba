// Package mcp exposes the tracker pipelines as MCP tools over stdio or
// streamable HTTP.
package mcp

import (
	"context"
	"net/http"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Pipeline is the subset of tracker operations the MCP tools call.
type Pipeline interface {
	Tell(ctx context.Context, message, issueID string) string
	Ask(ctx context.Context, question string) string
	Get(ctx context.Context, issueID string) string
	Find(ctx context.Context, query string, limit int) string
}

// Server wraps the tracker pipelines and exposes them as MCP tools.
type Server struct {
	pipeline Pipeline
}

// NewServer creates the MCP server wrapper.
func NewServer(p Pipeline) *Server {
	return &Server{pipeline: p}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("trackd", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.tellTool())
	srv.AddTool(s.askTool())
	srv.AddTool(s.getTool())
	srv.AddTool(s.findTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// HTTPHandler returns a stateless streamable HTTP transport suitable for
// mounting under an existing mux.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.MCPServer(), server.WithStateLess(true))
}

// trackd_tell
func (s *Server) tellTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trackd_tell",
		mcp.WithDescription("Tell the tracker about work being done, decisions made, or problems found. Creates a new issue or updates an existing one.\n\nBehavior:\n- When no issue_id is provided, searches for duplicate/related issues. If a strong match is found, appends your message to that issue's thread. Otherwise creates a new issue.\n- When issue_id is provided, appends your message directly to that issue's thread.\n- After appending, structured fields (title, type, status, priority, labels, summary) are re-derived from the full thread. Fields you don't mention are preserved.\n- Each call handles ONE issue. If you have unrelated items, make separate calls.\n- To archive an issue, send a message like 'archive [issue description]' or update a specific issue_id with 'archive this'.\n\nReturns: A short confirmation with the issue ID (wi_xxxx) and any notable field changes.\n\nLimitations: Cannot delete issues, but can archive them (sets status to archived, hiding them from active views). Priority 5 (negligible) issues are auto-rejected."),
		mcp.WithString("message", mcp.Required(), mcp.MaxLength(10000),
			mcp.Description("Natural language message describing work done, a decision made, a problem found, or a status update for an issue (max 10000 chars)")),
		mcp.WithString("issue_id", mcp.MaxLength(20),
			mcp.Description("Existing issue ID to update (e.g. wi_abc123). Omit to let the tracker search for duplicates and decide.")),
	)
	return tool, s.handleTell
}

func (s *Server) handleTell(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := request.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: message"), nil
	}
	issueID := request.GetString("issue_id", "")
	return mcp.NewToolResultText(s.pipeline.Tell(ctx, message, issueID)), nil
}

// trackd_ask
func (s *Server) askTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trackd_ask",
		mcp.WithDescription("Ask a natural language question about tracked issues and get an answer grounded in actual issue data. Searches semantically across all issues, retrieves details as needed, and synthesizes an answer referencing specific issue IDs (wi_xxxx).\n\nGood for: status summaries, finding related issues, prioritization advice, filtering by type/status/priority/labels, \"what should I work on next?\", \"what bugs are open?\"\n\nReturns: A natural language answer citing specific issue IDs. Only references issues that actually exist in the tracker.\n\nLimitations: Read-only — cannot create or update issues."),
		mcp.WithString("question", mcp.Required(), mcp.MaxLength(2000),
			mcp.Description("Natural language question about your tracked issues (max 2000 chars), e.g. \"what bugs are open?\" or \"what should I work on next?\"")),
	)
	return tool, s.handleAsk
}

func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: question"), nil
	}
	return mcp.NewToolResultText(s.pipeline.Ask(ctx, question)), nil
}

// trackd_get
func (s *Server) getTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trackd_get",
		mcp.WithDescription("Retrieve the complete details and full conversation thread for a single issue by its ID. Returns the issue title, type, status, priority, labels, summary, timestamps, and the entire message thread with all messages.\n\nUse this when you need the full context and history of a specific issue before updating it, or when the user asks for details about a particular issue.\n\nReturns \"Issue not found: {id}\" if the ID does not exist."),
		mcp.WithString("id", mcp.Required(),
			mcp.Description("Issue ID to retrieve (e.g. wi_a3Kx)")),
	)
	return tool, s.handleGet
}

func (s *Server) handleGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	return mcp.NewToolResultText(s.pipeline.Get(ctx, id)), nil
}

// trackd_find
func (s *Server) findTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trackd_find",
		mcp.WithDescription("Search issues by semantic similarity. Returns matching issues with a 0-100 similarity score, best match first. Use this to check for existing issues before reporting, or to locate an issue when you only remember what it was about."),
		mcp.WithString("query", mcp.Required(), mcp.MaxLength(2000),
			mcp.Description("Text describing the issue to look for")),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default 5)")),
	)
	return tool, s.handleFind
}

func (s *Server) handleFind(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	limit := request.GetInt("limit", 0)
	return mcp.NewToolResultText(s.pipeline.Find(ctx, query, limit)), nil
}
