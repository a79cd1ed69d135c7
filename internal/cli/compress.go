package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memvra/ctxbudget/internal/budget"
	"github.com/memvra/ctxbudget/internal/compress"
	"github.com/memvra/ctxbudget/internal/conversation"
	"github.com/memvra/ctxbudget/internal/export"
)

func newCompressCmd() *cobra.Command {
	var (
		file     string
		strategy string
		preserve []string
		dryRun   bool
		format   string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "compress -f transcript.json",
		Short: "Compress a transcript to fit the token budget",
		Long: `Compress a transcript in memory and print the result.

Strategies:
  preservation  keep system messages, preserved sections and recent turns (default)
  hybrid        keep the first and last few turns plus anything preserved
  removal       drop the oldest non-system messages until under budget

A strategy that cannot fit the budget falls back to the next one in that
order. Message references for --preserve are 1-based positions (negative
counts from the end) or message IDs.

Examples:
  ctxbudget compress -f chat.json --max-tokens 8000
  ctxbudget compress -f chat.json --strategy hybrid --preserve 3:5:"API design"
  ctxbudget compress -f chat.json --format json -o compressed.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var s conversation.Strategy
			if strategy != "" {
				parsed, err := conversation.ParseStrategy(strategy)
				if err != nil {
					return err
				}
				s = parsed
			}
			var exporter export.Exporter
			if format != "" {
				var ok bool
				if exporter, ok = export.Get(format); !ok {
					return fmt.Errorf("unknown format %q; valid formats: %s",
						format, strings.Join(export.ValidFormats(), ", "))
				}
			}

			e, err := loadEnv()
			if err != nil {
				return err
			}
			st, _, err := e.loadState(file, nil)
			if err != nil {
				return err
			}
			for _, p := range preserve {
				if err := applyPreserve(st, p); err != nil {
					return err
				}
			}

			if dryRun {
				plan, err := st.PlanCompression(s)
				if err != nil {
					return compressErr(err)
				}
				fmt.Fprintf(os.Stderr, "Plan (%s): remove %d of %d messages, %d -> %d tokens, quality %.2f\n",
					plan.Strategy, len(plan.RemovedIDs), st.Len(), plan.BeforeTokens, plan.AfterTokens, plan.QualityScore)
				return nil
			}

			ev, err := st.Compress(s)
			if err != nil {
				return compressErr(err)
			}
			printEvent(os.Stderr, ev)

			if exporter == nil {
				printStatus(cmd.OutOrStdout(), st)
				return nil
			}
			out, err := exporter.Export(st.Export())
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			return writeOutput(output, out)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "transcript file")
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "preservation, hybrid or removal (default from config)")
	cmd.Flags().StringArrayVarP(&preserve, "preserve", "p", nil, "preserve messages FROM[:TO[:REASON]] before compressing (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without compressing")
	cmd.Flags().StringVar(&format, "format", "", "write the compressed transcript as json, yaml or markdown")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// parsePreserve splits FROM[:TO[:REASON]].
func parsePreserve(spec string) (from, to, reason string, err error) {
	parts := strings.SplitN(spec, ":", 3)
	from = strings.TrimSpace(parts[0])
	if from == "" {
		return "", "", "", fmt.Errorf("invalid preserve range %q: missing start", spec)
	}
	if len(parts) > 1 {
		to = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		reason = strings.TrimSpace(parts[2])
	}
	return from, to, reason, nil
}

func applyPreserve(st *budget.State, spec string) error {
	from, to, reason, err := parsePreserve(spec)
	if err != nil {
		return err
	}
	startID, err := resolveRef(st, from)
	if err != nil {
		return err
	}
	endID := ""
	if to != "" {
		if endID, err = resolveRef(st, to); err != nil {
			return err
		}
	}
	_, err = st.Preserve(startID, endID, reason)
	return err
}

// compressErr turns compression failures into actionable messages.
func compressErr(err error) error {
	switch {
	case errors.Is(err, compress.ErrNothingToCompress):
		return errors.New("nothing to compress: the transcript already fits the budget")
	case errors.Is(err, compress.ErrBudgetExceeded):
		return fmt.Errorf("%w: system and preserved messages alone exceed the budget; unpreserve something or export and start fresh", err)
	}
	return err
}
