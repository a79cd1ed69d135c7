package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/schollz/progressbar/v3"

	"github.com/memvra/ctxbudget/internal/budget"
	"github.com/memvra/ctxbudget/internal/conversation"
	"github.com/memvra/ctxbudget/internal/warning"
)

// printUsageBar draws a one-line utilization bar. Tokens past the budget are
// clamped to a full bar.
func printUsageBar(w io.Writer, used, total int) {
	if total <= 0 {
		return
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Budget  "),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	_ = bar.Set(min(used, total))
	fmt.Fprintln(w)
}

// printStatus renders the budget, active warnings and preserved sections.
func printStatus(w io.Writer, st *budget.State) {
	fmt.Fprintf(w, "\n%s    %s\n", styleBold.Render("Model:"), st.Model())
	fmt.Fprintf(w, "%s %d\n", styleBold.Render("Messages:"), st.Len())
	fmt.Fprintf(w, "%s   %d / %d (%.1f%%)\n", styleBold.Render("Tokens:"), st.TokenCount(), st.MaxTokens(), st.Utilization()*100)
	printUsageBar(w, st.TokenCount(), st.MaxTokens())

	for _, wn := range st.Warnings() {
		printWarning(w, wn)
	}

	if sections := st.PreservedSections(); len(sections) > 0 {
		fmt.Fprintf(w, "\n%s\n", styleBold.Render("Preserved sections:"))
		for _, p := range sections {
			fmt.Fprintf(w, "  %s  %s .. %s", shortID(p.ID), shortID(p.StartID), shortID(p.EndID))
			if p.Reason != "" {
				fmt.Fprintf(w, "  %s", styleDim.Render("("+p.Reason+")"))
			}
			fmt.Fprintln(w)
		}
	}

	if events := st.History(); len(events) > 0 {
		saved := 0
		for _, e := range events {
			saved += e.TokensSaved()
		}
		fmt.Fprintf(w, "\n%s %d (%d tokens saved)\n", styleBold.Render("Compressions:"), len(events), saved)
	}
}

func printWarning(w io.Writer, wn warning.Warning) {
	actions := make([]string, len(wn.SuggestedActions))
	for i, a := range wn.SuggestedActions {
		actions[i] = string(a)
	}
	badge := levelStyle(wn.Level).Render("[" + strings.ToUpper(string(wn.Level)) + "]")
	fmt.Fprintf(w, "\n%s %s %s\n", badge, wn.Title, styleDim.Render("(id "+shortID(wn.ID)+")"))
	fmt.Fprintf(w, "  %s\n", wn.Message)
	fmt.Fprintf(w, "  suggested: %s\n", strings.Join(actions, ", "))
}

func printEvent(w io.Writer, e conversation.CompressionEvent) {
	fmt.Fprintf(w, "%s with %s: removed %d messages, %d -> %d tokens (saved %d), quality %.2f\n",
		styleOK.Render("Compressed"), e.Strategy, len(e.RemovedMessageIDs), e.BeforeTokens, e.AfterTokens, e.TokensSaved(), e.QualityScore)
}

// printMessages lists the transcript with 1-based positions for use as
// message references. Preserved messages are starred.
func printMessages(w io.Writer, st *budget.State) {
	pinned := st.ProtectedIDs()
	for i, m := range st.Messages() {
		mark := " "
		if pinned[m.ID] {
			mark = "*"
		}
		fmt.Fprintf(w, "%s%3d %-9s %5d  %s  %s\n", mark, i+1, m.Role, m.Tokens, styleDim.Render(shortID(m.ID)), snippet(m.Content, 60))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// snippet returns the first line of s, cut to n runes.
func snippet(s string, n int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
