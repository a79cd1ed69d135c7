package export

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/memvra/ctxbudget/internal/budget"
	"github.com/memvra/ctxbudget/internal/conversation"
	"github.com/memvra/ctxbudget/internal/warning"
)

func sampleSnapshot() budget.Snapshot {
	ts := time.Date(2026, 2, 25, 10, 30, 0, 0, time.UTC)
	return budget.Snapshot{
		Model:       "gpt-4o",
		MaxTokens:   1000,
		TokenCount:  900,
		Utilization: 0.9,
		Thresholds:  warning.DefaultThresholds(),
		Messages: []conversation.Message{
			{ID: "m1", Role: conversation.RoleSystem, Content: "You are helpful.", Tokens: 8, Timestamp: ts},
			{ID: "m2", Role: conversation.RoleUser, Content: "Explain the cache.", Tokens: 9, Timestamp: ts},
			{ID: "m3", Role: conversation.RoleAssistant, Content: "It is keyed by model and text.", Tokens: 12, Timestamp: ts},
		},
		Warnings: []warning.Warning{{
			ID:               "w1",
			Level:            warning.LevelWarning,
			Title:            "Context filling up",
			Message:          "90% of the budget is used.",
			SuggestedActions: []warning.Action{warning.ActionCompress, warning.ActionPreserve},
			CreatedAt:        ts,
		}},
		PreservedSections: []conversation.PreservedSection{
			{ID: "p1", StartID: "m2", EndID: "m3", Reason: "design discussion", CreatedAt: ts},
		},
		History: []conversation.CompressionEvent{{
			ID:                "e1",
			Timestamp:         ts,
			BeforeTokens:      1200,
			AfterTokens:       900,
			RemovedMessageIDs: []string{"m0"},
			Strategy:          conversation.StrategyRemoval,
			QualityScore:      0.45,
		}},
		ExportedAt: ts,
	}
}

func TestGet_ValidFormats(t *testing.T) {
	for _, name := range []string{"json", "yaml", "markdown", "JSON"} {
		if _, ok := Get(name); !ok {
			t.Errorf("Get(%q) not found", name)
		}
	}
	if _, ok := Get("xml"); ok {
		t.Error("Get(xml) should not be found")
	}
}

func TestValidFormats(t *testing.T) {
	want := []string{"json", "markdown", "yaml"}
	if got := ValidFormats(); !reflect.DeepEqual(got, want) {
		t.Errorf("ValidFormats() = %v, want %v", got, want)
	}
}

func TestFormatForPath(t *testing.T) {
	tests := map[string]string{
		"out.json":     "json",
		"out.YAML":     "yaml",
		"out.yml":      "yaml",
		"notes.md":     "markdown",
		"transcript":   "json",
		"dir/file.txt": "json",
	}
	for path, want := range tests {
		if got := FormatForPath(path); got != want {
			t.Errorf("FormatForPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestJSONExporter(t *testing.T) {
	snap := sampleSnapshot()
	out, err := (&JSONExporter{Indent: true}).Export(snap)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	var got budget.Snapshot
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got.Messages) != 3 || got.Messages[2].ID != "m3" {
		t.Errorf("messages not preserved: %+v", got.Messages)
	}
	if !strings.Contains(out, `"compression_history"`) {
		t.Error("expected compression_history key")
	}
	if len(got.History) != 1 || got.History[0].TokensSaved() != 300 {
		t.Errorf("history not preserved: %+v", got.History)
	}
}

func TestYAMLExporter(t *testing.T) {
	out, err := (&YAMLExporter{}).Export(sampleSnapshot())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	var got map[string]any
	if err := yaml.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if got["model"] != "gpt-4o" {
		t.Errorf("model: got %v", got["model"])
	}
	msgs, ok := got["messages"].([]any)
	if !ok || len(msgs) != 3 {
		t.Errorf("messages: got %v", got["messages"])
	}
	if _, ok := got["preserved_sections"]; !ok {
		t.Error("expected preserved_sections key")
	}
}

func TestMarkdownExporter(t *testing.T) {
	out, err := (&MarkdownExporter{}).Export(sampleSnapshot())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	for _, want := range []string{
		"# Context Budget",
		"| Tokens | 900 / 1000 |",
		"| Utilization | 90.0% |",
		"**WARNING** Context filling up",
		"`compress`",
		"`m2 .. m3`: design discussion",
		"| removal | 1200 | 900 | 1 | 0.45 |",
		"### user (9 tokens) [preserved]",
		"### system (8 tokens)\n",
		"It is keyed by model and text.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestMarkdownExporter_EmptySnapshot(t *testing.T) {
	out, err := (&MarkdownExporter{}).Export(budget.Snapshot{Model: "default"})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	for _, absent := range []string{"## Warnings", "## Preserved Sections", "## Compression History", "## Transcript"} {
		if strings.Contains(out, absent) {
			t.Errorf("empty snapshot should omit %q", absent)
		}
	}
}
