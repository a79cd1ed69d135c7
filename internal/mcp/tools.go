package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/memvra/ctxbudget/internal/budget"
	"github.com/memvra/ctxbudget/internal/compress"
	"github.com/memvra/ctxbudget/internal/conversation"
	"github.com/memvra/ctxbudget/internal/warning"
)

func (s *Server) handleAppendMessage(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: content"), nil
	}
	role := conversation.RoleUser
	if r := req.GetString("role", ""); r != "" {
		if role, err = conversation.ParseRole(r); err != nil {
			return toolError("invalid role %q (valid: system, user, assistant, tool)", r), nil
		}
	}

	m, err := s.state.Append(conversation.Message{
		Role:    role,
		Content: content,
		Tokens:  req.GetInt("tokens", 0),
	})
	if err != nil {
		return toolError("failed to append message: %v", err), nil
	}
	s.save()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Appended %s message %s (%d tokens).\n\n", m.Role, m.ID, m.Tokens)
	writeStatus(&sb, s.state)
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleRemoveMessage(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	if err := s.state.Remove(id); err != nil {
		if errors.Is(err, budget.ErrMessageNotFound) {
			return toolError("no message with id %s", id), nil
		}
		return toolError("failed to remove message: %v", err), nil
	}
	s.save()
	return mcp.NewToolResultText(fmt.Sprintf("Message %s removed. %s", id, usageLine(s.state))), nil
}

func (s *Server) handleUpdateMessage(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}

	var patch conversation.Patch
	if c := req.GetString("content", ""); c != "" {
		patch.Content = &c
	}
	if r := req.GetString("role", ""); r != "" {
		role, err := conversation.ParseRole(r)
		if err != nil {
			return toolError("invalid role %q (valid: system, user, assistant, tool)", r), nil
		}
		patch.Role = &role
	}
	if patch.Content == nil && patch.Role == nil {
		return mcp.NewToolResultError("nothing to update: pass content or role"), nil
	}

	m, err := s.state.Update(id, patch)
	if err != nil {
		if errors.Is(err, budget.ErrMessageNotFound) {
			return toolError("no message with id %s", id), nil
		}
		return toolError("failed to update message: %v", err), nil
	}
	s.save()
	return mcp.NewToolResultText(fmt.Sprintf("Message %s updated (%d tokens). %s", m.ID, m.Tokens, usageLine(s.state))), nil
}

func (s *Server) handleContextStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var sb strings.Builder
	writeStatus(&sb, s.state)

	if sections := s.state.PreservedSections(); len(sections) > 0 {
		sb.WriteString("\nPreserved sections:\n")
		for _, p := range sections {
			fmt.Fprintf(&sb, "  %s: %s .. %s", p.ID, p.StartID, p.EndID)
			if p.Reason != "" {
				fmt.Fprintf(&sb, " (%s)", p.Reason)
			}
			sb.WriteString("\n")
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleCompressContext(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var strategy conversation.Strategy
	if name := req.GetString("strategy", ""); name != "" {
		parsed, err := conversation.ParseStrategy(name)
		if err != nil {
			return toolError("%v", err), nil
		}
		strategy = parsed
	}

	if req.GetBool("dry_run", false) {
		plan, err := s.state.PlanCompression(strategy)
		if err != nil {
			return compressError(err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf(
			"Plan (%s): remove %d messages, %d -> %d tokens, quality %.2f.",
			plan.Strategy, len(plan.RemovedIDs), plan.BeforeTokens, plan.AfterTokens, plan.QualityScore)), nil
	}

	ev, err := s.state.Compress(strategy)
	if err != nil {
		return compressError(err), nil
	}
	s.save()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Compressed with %s: removed %d messages, %d -> %d tokens (saved %d), quality %.2f.\n\n",
		ev.Strategy, len(ev.RemovedMessageIDs), ev.BeforeTokens, ev.AfterTokens, ev.TokensSaved(), ev.QualityScore)
	writeStatus(&sb, s.state)
	return mcp.NewToolResultText(sb.String()), nil
}

func compressError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, compress.ErrNothingToCompress):
		return mcp.NewToolResultText("Nothing to compress: the conversation already fits.")
	case errors.Is(err, compress.ErrBudgetExceeded):
		return mcp.NewToolResultError("Preserved and system messages alone exceed the budget. Export the conversation and start fresh, or unpreserve some sections.")
	}
	return toolError("compression failed: %v", err)
}

func (s *Server) handleDismissWarning(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	if !s.state.DismissWarning(id) {
		return toolError("no active warning with id %s", id), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Warning %s dismissed.", id)), nil
}

func (s *Server) handleResetContext(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.state.Reset()
	s.save()
	return mcp.NewToolResultText("Conversation reset. " + usageLine(s.state)), nil
}

func (s *Server) handlePreserveMessages(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, err := req.RequireString("start_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: start_id"), nil
	}
	p, err := s.state.Preserve(start, req.GetString("end_id", ""), req.GetString("reason", ""))
	if err != nil {
		return toolError("failed to preserve: %v", err), nil
	}
	s.save()
	return mcp.NewToolResultText(fmt.Sprintf("Preserved %s .. %s (section id: %s)", p.StartID, p.EndID, p.ID)), nil
}

func (s *Server) handleUnpreserve(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	if err := s.state.Unpreserve(id); err != nil {
		return toolError("failed to unpreserve: %v", err), nil
	}
	s.save()
	return mcp.NewToolResultText(fmt.Sprintf("Preserved section %s removed.", id)), nil
}

func (s *Server) handleEstimateTokens(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: text"), nil
	}
	model := req.GetString("model", s.state.Model())

	b := s.state.Estimator().Breakdown(text, model)
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d tokens (%s, rules: %s)\n", b.Total, b.Type, b.Rules)
	for _, seg := range b.Segments {
		if seg.Language != "" {
			fmt.Fprintf(&sb, "  %s [%s]: %d\n", seg.Type, seg.Language, seg.Tokens)
		} else {
			fmt.Fprintf(&sb, "  %s: %d\n", seg.Type, seg.Tokens)
		}
	}
	if b.MarkerTokens > 0 {
		fmt.Fprintf(&sb, "  control markers: %d\n", b.MarkerTokens)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleCompressionHistory(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	events := s.state.History()
	if len(events) == 0 {
		return mcp.NewToolResultText("No compressions recorded."), nil
	}

	var sb strings.Builder
	total := 0
	for _, e := range events {
		fmt.Fprintf(&sb, "[%s] %s: %d -> %d tokens, %d messages removed, quality %.2f\n",
			e.Timestamp.Format("2006-01-02 15:04"), e.Strategy, e.BeforeTokens, e.AfterTokens,
			len(e.RemovedMessageIDs), e.QualityScore)
		total += e.TokensSaved()
	}
	fmt.Fprintf(&sb, "\nTotal saved: %d tokens\n", total)
	return mcp.NewToolResultText(sb.String()), nil
}

func usageLine(s *budget.State) string {
	return formatUsage(s.Usage())
}

func formatUsage(u warning.Snapshot) string {
	return fmt.Sprintf("Tokens: %d / %d (%.1f%%)", u.CurrentTokens, u.MaxTokens, u.Utilization*100)
}

func writeStatus(sb *strings.Builder, s *budget.State) {
	snap := s.Export()
	fmt.Fprintf(sb, "Model: %s\n", snap.Model)
	fmt.Fprintf(sb, "Messages: %d\n", len(snap.Messages))
	sb.WriteString(formatUsage(warning.NewSnapshot(snap.TokenCount, snap.MaxTokens, len(snap.Messages))))
	sb.WriteString("\n")

	for _, w := range snap.Warnings {
		actions := make([]string, len(w.SuggestedActions))
		for i, a := range w.SuggestedActions {
			actions[i] = string(a)
		}
		fmt.Fprintf(sb, "\n[%s] %s (id: %s)\n  %s\n  suggested: %s\n",
			strings.ToUpper(string(w.Level)), w.Title, w.ID, w.Message, strings.Join(actions, ", "))
	}
}
