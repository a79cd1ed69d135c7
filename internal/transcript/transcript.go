// Package transcript loads chat transcripts from the JSON shapes used by
// provider APIs and by ctxbudget's own snapshot export.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/memvra/ctxbudget/internal/budget"
	"github.com/memvra/ctxbudget/internal/conversation"
)

// Format names the shape a transcript was read from.
type Format string

const (
	FormatOpenAI    Format = "openai"
	FormatAnthropic Format = "anthropic"
	FormatArray     Format = "array"
	FormatSnapshot  Format = "snapshot"
)

// ErrUnrecognized is returned when the input is not a transcript shape we know.
var ErrUnrecognized = errors.New("unrecognized transcript format")

// Transcript is a parsed conversation ready to be loaded into a budget
// state. Model and MaxTokens are empty when the source does not record them.
type Transcript struct {
	Format            Format
	Model             string
	MaxTokens         int
	Messages          []conversation.Message
	PreservedSections []conversation.PreservedSection
	History           []conversation.CompressionEvent
}

// Load reads and parses the transcript at path.
func Load(path string) (Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Transcript{}, fmt.Errorf("transcript: read: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return Transcript{}, fmt.Errorf("transcript: %s: %w", path, err)
	}
	return t, nil
}

// Parse detects the transcript shape of data and decodes it. Messages
// without an ID are given one.
func Parse(data []byte) (Transcript, error) {
	if !gjson.ValidBytes(data) {
		return Transcript{}, fmt.Errorf("%w: invalid JSON", ErrUnrecognized)
	}
	root := gjson.ParseBytes(data)

	switch {
	case root.IsArray():
		msgs, err := parseMessages(root)
		return Transcript{Format: FormatArray, Messages: msgs}, err
	case !root.IsObject() || !root.Get("messages").IsArray():
		return Transcript{}, ErrUnrecognized
	case isSnapshot(root):
		return parseSnapshot(data)
	}

	t := Transcript{
		Format:    FormatOpenAI,
		Model:     root.Get("model").String(),
		MaxTokens: int(root.Get("max_tokens").Int()),
	}
	var msgs []conversation.Message
	if sys := root.Get("system"); sys.Exists() {
		t.Format = FormatAnthropic
		if text := contentText(sys); text != "" {
			msgs = append(msgs, newMessage(conversation.RoleSystem, text))
		}
	}
	rest, err := parseMessages(root.Get("messages"))
	if err != nil {
		return Transcript{}, err
	}
	t.Messages = append(msgs, rest...)
	return t, nil
}

// Snapshot converts t into a budget snapshot for State.Restore.
func (t Transcript) Snapshot() budget.Snapshot {
	return budget.Snapshot{
		Model:             t.Model,
		MaxTokens:         t.MaxTokens,
		Messages:          t.Messages,
		PreservedSections: t.PreservedSections,
		History:           t.History,
	}
}

func isSnapshot(root gjson.Result) bool {
	return root.Get("token_count").Exists() ||
		root.Get("preserved_sections").Exists() ||
		root.Get("compression_history").Exists()
}

func parseSnapshot(data []byte) (Transcript, error) {
	var snap budget.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Transcript{}, fmt.Errorf("snapshot: %w", err)
	}
	for i := range snap.Messages {
		if snap.Messages[i].ID == "" {
			snap.Messages[i].ID = uuid.NewString()
		}
	}
	return Transcript{
		Format:            FormatSnapshot,
		Model:             snap.Model,
		MaxTokens:         snap.MaxTokens,
		Messages:          snap.Messages,
		PreservedSections: snap.PreservedSections,
		History:           snap.History,
	}, nil
}

func parseMessages(arr gjson.Result) ([]conversation.Message, error) {
	items := arr.Array()
	msgs := make([]conversation.Message, 0, len(items))
	for i, item := range items {
		if !item.IsObject() {
			return nil, fmt.Errorf("message %d: %w: not an object", i, ErrUnrecognized)
		}
		role, err := conversation.ParseRole(item.Get("role").String())
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		content := item.Get("content")
		if role == conversation.RoleUser && onlyToolResults(content) {
			role = conversation.RoleTool
		}

		m := newMessage(role, messageText(item))
		if id := item.Get("id").String(); id != "" {
			m.ID = id
		}
		if tok := item.Get("tokens"); tok.Type == gjson.Number {
			m.Tokens = int(tok.Int())
		}
		if ts := item.Get("timestamp").String(); ts != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				m.Timestamp = parsed
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func newMessage(role conversation.Role, content string) conversation.Message {
	return conversation.Message{ID: uuid.NewString(), Role: role, Content: content}
}

// messageText flattens a message's content plus any OpenAI tool calls into
// plain text.
func messageText(item gjson.Result) string {
	parts := []string{}
	if text := contentText(item.Get("content")); text != "" {
		parts = append(parts, text)
	}
	item.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
		parts = append(parts, fmt.Sprintf("[tool_call %s] %s",
			call.Get("function.name").String(), call.Get("function.arguments").String()))
		return true
	})
	return strings.Join(parts, "\n")
}

// contentText renders string or block content. Text blocks contribute their
// text; tool blocks are rendered with a bracketed tag so they still count
// against the budget.
func contentText(content gjson.Result) string {
	switch {
	case content.Type == gjson.String:
		return content.String()
	case content.IsArray():
		var parts []string
		content.ForEach(func(_, block gjson.Result) bool {
			if block.Type == gjson.String {
				parts = append(parts, block.String())
				return true
			}
			switch block.Get("type").String() {
			case "text", "input_text", "output_text", "":
				if text := block.Get("text").String(); text != "" {
					parts = append(parts, text)
				}
			case "tool_use":
				parts = append(parts, fmt.Sprintf("[tool_use %s] %s", block.Get("name").String(), block.Get("input").Raw))
			case "tool_result":
				parts = append(parts, contentText(block.Get("content")))
			case "thinking":
				parts = append(parts, block.Get("thinking").String())
			}
			return true
		})
		return strings.Join(parts, "\n")
	}
	return ""
}

func onlyToolResults(content gjson.Result) bool {
	if !content.IsArray() {
		return false
	}
	blocks := content.Array()
	if len(blocks) == 0 {
		return false
	}
	for _, b := range blocks {
		if b.Get("type").String() != "tool_result" {
			return false
		}
	}
	return true
}
