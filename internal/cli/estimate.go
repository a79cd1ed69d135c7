package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/memvra/ctxbudget/internal/tokens"
)

func newEstimateCmd() *cobra.Command {
	var (
		file   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "estimate [text...]",
		Short: "Estimate the token count of text",
		Long: `Estimate how many tokens text costs under a model's rules, with a breakdown
of fenced code, prose and control markers.

Text comes from --file, the arguments, or stdin.

Examples:
  ctxbudget estimate "How many tokens is this?"
  ctxbudget estimate -f prompt.md --model gpt-4o
  cat answer.txt | ctxbudget estimate --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			text, err := readInput(file, args, os.Stdin)
			if err != nil {
				return err
			}

			est := e.cfg.BudgetConfig("", e.logger).Estimator
			b := est.Breakdown(text, est.Model())
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(b)
			}
			printBreakdown(cmd.OutOrStdout(), b)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read text from file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the breakdown as JSON")

	return cmd
}

func printBreakdown(w io.Writer, b tokens.Breakdown) {
	fmt.Fprintf(w, "%s  %s (rules %s)\n", styleBold.Render("Model:"), b.Model, b.Rules)
	fmt.Fprintf(w, "%s   %s\n", styleBold.Render("Type:"), b.Type)
	fmt.Fprintf(w, "%s %d\n", styleBold.Render("Tokens:"), b.Total)
	for _, s := range b.Segments {
		label := string(s.Type)
		if s.Language != "" {
			label += " [" + s.Language + "]"
		}
		fmt.Fprintf(w, "  %-20s %6d runes %6d tokens\n", label, s.Runes, s.Tokens)
	}
	if b.MarkerTokens > 0 {
		fmt.Fprintf(w, "  %-20s %19d tokens\n", "control markers", b.MarkerTokens)
	}
}
