package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/memvra/ctxbudget/internal/budget"
	"github.com/memvra/ctxbudget/internal/conversation"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestServer(t *testing.T, maxTokens int, opts ...Option) (*Server, *budget.State) {
	t.Helper()
	st, err := budget.New(budget.Config{Model: "gpt-4o", MaxTokens: maxTokens, Logger: quiet})
	if err != nil {
		t.Fatalf("budget.New: %v", err)
	}
	opts = append(opts, WithLogger(quiet))
	return NewServer(st, "test", opts...), st
}

func call(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return text.Text, res.IsError
}

func TestAppendMessage(t *testing.T) {
	s, st := newTestServer(t, 10000)

	out, isErr := call(t, s.handleAppendMessage, map[string]any{"role": "assistant", "content": "hello there"})
	if isErr {
		t.Fatalf("unexpected error result: %s", out)
	}
	if st.Len() != 1 || st.Messages()[0].Role != conversation.RoleAssistant {
		t.Fatalf("message not appended: %+v", st.Messages())
	}
	if !strings.Contains(out, "Appended assistant message") || !strings.Contains(out, "Tokens:") {
		t.Errorf("unexpected output: %s", out)
	}

	if _, isErr := call(t, s.handleAppendMessage, map[string]any{"role": "user"}); !isErr {
		t.Error("missing content should be an error result")
	}
	if _, isErr := call(t, s.handleAppendMessage, map[string]any{"role": "narrator", "content": "x"}); !isErr {
		t.Error("bad role should be an error result")
	}
}

func TestAppendMessage_ExplicitTokensRaiseWarning(t *testing.T) {
	s, st := newTestServer(t, 100)

	out, _ := call(t, s.handleAppendMessage, map[string]any{"content": "big", "tokens": 80})
	if st.TokenCount() != 80 {
		t.Fatalf("explicit tokens ignored: %d", st.TokenCount())
	}
	if !strings.Contains(out, "[NOTICE]") {
		t.Errorf("expected notice warning in output: %s", out)
	}
}

func TestRemoveAndUpdateMessage(t *testing.T) {
	s, st := newTestServer(t, 10000)
	m, err := st.Append(conversation.Message{Role: conversation.RoleUser, Content: "first draft"})
	if err != nil {
		t.Fatal(err)
	}

	if _, isErr := call(t, s.handleUpdateMessage, map[string]any{"id": m.ID}); !isErr {
		t.Error("update without fields should be an error result")
	}
	if _, isErr := call(t, s.handleUpdateMessage, map[string]any{"id": m.ID, "content": "second, much longer draft of the message"}); isErr {
		t.Error("update failed")
	}
	if got, _ := st.Message(m.ID); got.Content != "second, much longer draft of the message" {
		t.Errorf("content not updated: %q", got.Content)
	}

	if out, isErr := call(t, s.handleRemoveMessage, map[string]any{"id": "missing"}); !isErr || !strings.Contains(out, "no message") {
		t.Errorf("removing unknown id: %s", out)
	}
	if _, isErr := call(t, s.handleRemoveMessage, map[string]any{"id": m.ID}); isErr {
		t.Error("remove failed")
	}
	if st.Len() != 0 {
		t.Errorf("expected empty state, got %d", st.Len())
	}
}

func TestCompressContext(t *testing.T) {
	s, st := newTestServer(t, 500)
	for i := 0; i < 12; i++ {
		if _, err := st.Append(conversation.Message{Role: conversation.RoleUser, Content: "x", Tokens: 50}); err != nil {
			t.Fatal(err)
		}
	}

	out, isErr := call(t, s.handleCompressContext, map[string]any{"strategy": "removal", "dry_run": true})
	if isErr || !strings.Contains(out, "Plan (removal)") {
		t.Fatalf("dry run: %s", out)
	}
	if st.Len() != 12 {
		t.Fatal("dry run must not change state")
	}

	out, isErr = call(t, s.handleCompressContext, map[string]any{"strategy": "removal"})
	if isErr {
		t.Fatalf("compress: %s", out)
	}
	if !st.Fits() {
		t.Errorf("state still over budget: %d/%d", st.TokenCount(), st.MaxTokens())
	}

	hist, _ := call(t, s.handleCompressionHistory, nil)
	if !strings.Contains(hist, "removal") || !strings.Contains(hist, "Total saved") {
		t.Errorf("history: %s", hist)
	}

	if _, isErr := call(t, s.handleCompressContext, map[string]any{"strategy": "summarize"}); !isErr {
		t.Error("unknown strategy should be an error result")
	}
}

func TestCompressContext_BudgetExceeded(t *testing.T) {
	s, st := newTestServer(t, 100)
	if _, err := st.Append(conversation.Message{Role: conversation.RoleSystem, Content: "rules", Tokens: 150}); err != nil {
		t.Fatal(err)
	}
	out, isErr := call(t, s.handleCompressContext, nil)
	if !isErr || !strings.Contains(out, "exceed the budget") {
		t.Errorf("expected budget exceeded error, got %s", out)
	}
}

func TestDismissWarningAndStatus(t *testing.T) {
	s, st := newTestServer(t, 100)
	if _, err := st.Append(conversation.Message{Role: conversation.RoleUser, Content: "x", Tokens: 90}); err != nil {
		t.Fatal(err)
	}
	ws := st.Warnings()
	if len(ws) == 0 {
		t.Fatal("expected active warnings")
	}

	if _, isErr := call(t, s.handleDismissWarning, map[string]any{"id": "nope"}); !isErr {
		t.Error("dismissing unknown warning should be an error result")
	}
	if _, isErr := call(t, s.handleDismissWarning, map[string]any{"id": ws[0].ID}); isErr {
		t.Error("dismiss failed")
	}
	if len(st.Warnings()) != len(ws)-1 {
		t.Errorf("warning not dismissed: %d left", len(st.Warnings()))
	}

	status, _ := call(t, s.handleContextStatus, nil)
	if !strings.Contains(status, "Tokens: 90 / 100") {
		t.Errorf("status: %s", status)
	}
}

func TestPreserveAndUnpreserve(t *testing.T) {
	s, st := newTestServer(t, 10000)
	a, _ := st.Append(conversation.Message{Content: "a"})
	b, _ := st.Append(conversation.Message{Content: "b"})

	out, isErr := call(t, s.handlePreserveMessages, map[string]any{"start_id": a.ID, "end_id": b.ID, "reason": "context"})
	if isErr {
		t.Fatalf("preserve: %s", out)
	}
	sections := st.PreservedSections()
	if len(sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(sections))
	}
	if status, _ := call(t, s.handleContextStatus, nil); !strings.Contains(status, "Preserved sections") {
		t.Errorf("status should list sections: %s", status)
	}

	if _, isErr := call(t, s.handleUnpreserve, map[string]any{"id": sections[0].ID}); isErr {
		t.Error("unpreserve failed")
	}
	if _, isErr := call(t, s.handleUnpreserve, map[string]any{"id": sections[0].ID}); !isErr {
		t.Error("second unpreserve should fail")
	}
	if _, isErr := call(t, s.handlePreserveMessages, map[string]any{"start_id": "missing"}); !isErr {
		t.Error("preserving unknown message should fail")
	}
}

func TestEstimateTokensAndReset(t *testing.T) {
	s, st := newTestServer(t, 10000)
	out, isErr := call(t, s.handleEstimateTokens, map[string]any{"text": "```python\nprint('hi')\n```\nSome words."})
	if isErr {
		t.Fatalf("estimate: %s", out)
	}
	if !strings.Contains(out, "code [python]") {
		t.Errorf("expected python segment: %s", out)
	}
	if st.Len() != 0 {
		t.Error("estimate must not append")
	}

	if _, err := st.Append(conversation.Message{Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	call(t, s.handleResetContext, nil)
	if st.Len() != 0 || st.TokenCount() != 0 {
		t.Errorf("reset left %d messages, %d tokens", st.Len(), st.TokenCount())
	}
}

func TestAutosave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s, _ := newTestServer(t, 10000, WithAutosave(path))

	call(t, s.handleAppendMessage, map[string]any{"content": "persist me"})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("autosave not written: %v", err)
	}
	if !strings.Contains(string(data), "persist me") {
		t.Errorf("autosave missing message: %s", data)
	}
}

func TestResetToolDescription(t *testing.T) {
	srv, _ := newTestServer(t, 1000)
	resp := srv.mcp.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), "preserved sections and compression history are kept") {
		t.Errorf("reset_context description should say what survives a reset: %s", data)
	}
}

func TestUsageLine_MatchesState(t *testing.T) {
	srv, st := newTestServer(t, 200)
	text, isErr := call(t, srv.handleAppendMessage, map[string]any{"content": "hello", "tokens": 50})
	if isErr {
		t.Fatalf("append failed: %s", text)
	}
	want := "Tokens: 50 / 200 (25.0%)"
	if got := usageLine(st); got != want {
		t.Errorf("usageLine = %q, want %q", got, want)
	}
	var sb strings.Builder
	writeStatus(&sb, st)
	if !strings.Contains(sb.String(), want) || !strings.Contains(sb.String(), "Messages: 1") {
		t.Errorf("status:\n%s", sb.String())
	}
}
