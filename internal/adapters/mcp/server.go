// Package mcpadapter exposes session polling and templates as MCP tools.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/docextract/internal/core/ports"
)

const Version = "0.1.0"

type Server struct {
	sessions  ports.SessionReader
	aborter   ports.SessionAborter
	templates ports.TemplateLister
	server    *server.MCPServer
}

func NewServer(sessions ports.SessionReader, aborter ports.SessionAborter, templates ports.TemplateLister) *Server {
	s := &Server{
		sessions:  sessions,
		aborter:   aborter,
		templates: templates,
		server:    server.NewMCPServer("docextract", Version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

// ServeStdio blocks until stdin closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.server)
}

func (s *Server) registerTools() {
	s.server.AddTool(mcp.NewTool("get_session",
		mcp.WithDescription("Get status, progress and per-file results of an extraction session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("session id returned on submit")),
	), s.handleGetSession)

	s.server.AddTool(mcp.NewTool("list_templates",
		mcp.WithDescription("List the extraction templates a batch can be submitted with"),
	), s.handleListTemplates)

	if s.aborter != nil {
		s.server.AddTool(mcp.NewTool("abort_session",
			mcp.WithDescription("Abort a queued or processing extraction session"),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("session id to abort")),
			mcp.WithString("reason", mcp.Description("optional reason stored on the session")),
		), s.handleAbortSession)
	}
}

func (s *Server) handleGetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	session, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(session)
}

func (s *Server) handleListTemplates(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{"templates": s.templates.List()})
}

func (s *Server) handleAbortSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.aborter.Abort(ctx, id, req.GetString("reason", "")); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("session %s aborted", id)), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
