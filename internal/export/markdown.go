package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/memvra/ctxbudget/internal/budget"
	"github.com/memvra/ctxbudget/internal/conversation"
	"github.com/memvra/ctxbudget/internal/warning"
)

// MarkdownExporter renders a Snapshot as a human-readable report.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(snap budget.Snapshot) (string, error) {
	var b strings.Builder
	b.WriteString("# Context Budget\n\n")

	fmt.Fprintf(&b, "| Model | %s |\n", snap.Model)
	b.WriteString("|---|---|\n")
	fmt.Fprintf(&b, "| Tokens | %d / %d |\n", snap.TokenCount, snap.MaxTokens)
	fmt.Fprintf(&b, "| Utilization | %.1f%% |\n", snap.Utilization*100)
	fmt.Fprintf(&b, "| Messages | %d |\n", len(snap.Messages))
	if !snap.ExportedAt.IsZero() {
		fmt.Fprintf(&b, "| Exported | %s |\n", snap.ExportedAt.Format(time.RFC3339))
	}
	b.WriteString("\n")

	b.WriteString(renderWarnings(snap.Warnings))
	b.WriteString(renderSections(snap.PreservedSections))
	b.WriteString(renderHistory(snap.History))
	b.WriteString(renderTranscript(snap))

	return b.String(), nil
}

func renderWarnings(ws []warning.Warning) string {
	if len(ws) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Warnings\n\n")
	for _, w := range ws {
		fmt.Fprintf(&b, "- **%s** %s: %s", strings.ToUpper(string(w.Level)), w.Title, w.Message)
		if len(w.SuggestedActions) > 0 {
			actions := make([]string, len(w.SuggestedActions))
			for i, a := range w.SuggestedActions {
				actions[i] = "`" + string(a) + "`"
			}
			fmt.Fprintf(&b, " (suggested: %s)", strings.Join(actions, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func renderSections(sections []conversation.PreservedSection) string {
	if len(sections) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Preserved Sections\n\n")
	for _, s := range sections {
		span := s.StartID
		if s.EndID != s.StartID {
			span = s.StartID + " .. " + s.EndID
		}
		if s.Reason != "" {
			fmt.Fprintf(&b, "- `%s`: %s\n", span, s.Reason)
		} else {
			fmt.Fprintf(&b, "- `%s`\n", span)
		}
	}
	b.WriteString("\n")
	return b.String()
}

func renderHistory(events []conversation.CompressionEvent) string {
	if len(events) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Compression History\n\n")
	b.WriteString("| When | Strategy | Before | After | Removed | Quality |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, e := range events {
		fmt.Fprintf(&b, "| %s | %s | %d | %d | %d | %.2f |\n",
			e.Timestamp.Format("2006-01-02 15:04"), e.Strategy,
			e.BeforeTokens, e.AfterTokens, len(e.RemovedMessageIDs), e.QualityScore)
	}
	b.WriteString("\n")
	return b.String()
}

func renderTranscript(snap budget.Snapshot) string {
	if len(snap.Messages) == 0 {
		return ""
	}
	reg := conversation.NewRegistry()
	for _, s := range snap.PreservedSections {
		reg.Restore(s)
	}
	pinned := reg.Covered(snap.Messages)

	var b strings.Builder
	b.WriteString("## Transcript\n\n")
	for _, m := range snap.Messages {
		fmt.Fprintf(&b, "### %s (%d tokens)", m.Role, m.Tokens)
		if pinned[m.ID] {
			b.WriteString(" [preserved]")
		}
		b.WriteString("\n\n")
		b.WriteString(strings.TrimRight(m.Content, "\n"))
		b.WriteString("\n\n")
	}
	return b.String()
}
