package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newTruncateCmd() *cobra.Command {
	var (
		file  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "truncate --max N [text...]",
		Short: "Print the longest prefix of text that fits in N tokens",
		Long: `Cut text to the longest prefix whose estimate is at most N tokens. Cuts fall
on character boundaries, never inside a multi-byte character.

Examples:
  ctxbudget truncate --max 200 -f notes.md
  cat log.txt | ctxbudget truncate --max 1000 --model claude-3-haiku`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--max must be non-negative, got %d", limit)
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}
			text, err := readInput(file, args, os.Stdin)
			if err != nil {
				return err
			}

			est := e.cfg.BudgetConfig("", e.logger).Estimator
			out := est.TruncateToTokenLimit(text, limit)
			if e.cfg.Output.Verbose {
				fmt.Fprintf(os.Stderr, "kept %d of %d characters (%d tokens)\n",
					len([]rune(out)), len([]rune(text)), est.Estimate(out))
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read text from file")
	cmd.Flags().IntVar(&limit, "max", 0, "token limit")
	_ = cmd.MarkFlagRequired("max")

	return cmd
}
