// Package mcp exposes a budgeted conversation over the Model Context
// Protocol so an agent can track and compress its own context.
package mcp

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/memvra/ctxbudget/internal/budget"
	"github.com/memvra/ctxbudget/internal/export"
)

// Server serves MCP tools over one budget state.
type Server struct {
	state    *budget.State
	autosave string
	logger   *slog.Logger
	mcp      *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithAutosave writes a snapshot to path after every mutating tool call. The
// format follows the file extension.
func WithAutosave(path string) Option {
	return func(s *Server) { s.autosave = path }
}

// WithLogger sets the diagnostics logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer registers every tool against state.
func NewServer(state *budget.State, version string, opts ...Option) *Server {
	s := &Server{state: state, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.mcp = server.NewMCPServer("ctxbudget", version, server.WithToolCapabilities(false))
	s.registerTools()
	return s
}

// ServeStdio blocks serving requests on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("append_message",
		mcp.WithDescription("Append a message to the tracked conversation and report the budget."),
		mcp.WithString("role", mcp.Description("system, user, assistant or tool (default user)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Message text")),
		mcp.WithNumber("tokens", mcp.Description("Known token count; estimated when omitted")),
	), s.handleAppendMessage)

	s.mcp.AddTool(mcp.NewTool("remove_message",
		mcp.WithDescription("Remove a message by ID."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Message ID")),
	), s.handleRemoveMessage)

	s.mcp.AddTool(mcp.NewTool("update_message",
		mcp.WithDescription("Replace a message's content or role and re-estimate its tokens."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Message ID")),
		mcp.WithString("content", mcp.Description("New content")),
		mcp.WithString("role", mcp.Description("New role")),
	), s.handleUpdateMessage)

	s.mcp.AddTool(mcp.NewTool("context_status",
		mcp.WithDescription("Show token usage, active warnings and preserved sections."),
	), s.handleContextStatus)

	s.mcp.AddTool(mcp.NewTool("compress_context",
		mcp.WithDescription("Compress the conversation to fit the budget."),
		mcp.WithString("strategy", mcp.Description("preservation, hybrid or removal; defaults to the configured strategy")),
		mcp.WithBoolean("dry_run", mcp.Description("Report the plan without applying it")),
	), s.handleCompressContext)

	s.mcp.AddTool(mcp.NewTool("dismiss_warning",
		mcp.WithDescription("Dismiss an active warning by ID."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Warning ID")),
	), s.handleDismissWarning)

	s.mcp.AddTool(mcp.NewTool("reset_context",
		mcp.WithDescription("Clear all messages and active warnings; preserved sections and compression history are kept."),
	), s.handleResetContext)

	s.mcp.AddTool(mcp.NewTool("preserve_messages",
		mcp.WithDescription("Protect a message or an inclusive range of messages from compression."),
		mcp.WithString("start_id", mcp.Required(), mcp.Description("First message ID")),
		mcp.WithString("end_id", mcp.Description("Last message ID; defaults to start_id")),
		mcp.WithString("reason", mcp.Description("Why the range matters")),
	), s.handlePreserveMessages)

	s.mcp.AddTool(mcp.NewTool("unpreserve",
		mcp.WithDescription("Remove a preserved section by ID."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Preserved section ID")),
	), s.handleUnpreserve)

	s.mcp.AddTool(mcp.NewTool("estimate_tokens",
		mcp.WithDescription("Estimate the token count of text without adding it."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to estimate")),
		mcp.WithString("model", mcp.Description("Model ID; defaults to the session model")),
	), s.handleEstimateTokens)

	s.mcp.AddTool(mcp.NewTool("compression_history",
		mcp.WithDescription("List past compressions, oldest first."),
	), s.handleCompressionHistory)
}

// save writes the autosave snapshot. Failures are logged, not returned, so a
// full disk never fails a tool call.
func (s *Server) save() {
	if s.autosave == "" {
		return
	}
	e, _ := export.Get(export.FormatForPath(s.autosave))
	out, err := e.Export(s.state.Export())
	if err == nil {
		err = os.WriteFile(s.autosave, []byte(out), 0o644)
	}
	if err != nil {
		s.logger.Warn("autosave failed", "path", s.autosave, "error", err)
	}
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...))
}
