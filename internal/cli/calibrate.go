package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/memvra/ctxbudget/internal/calibrate"
)

func newCalibrateCmd() *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "calibrate -f file [-f file...]",
		Short: "Compare heuristic estimates with a real BPE tokenizer",
		Long: `Count each file with the cl100k_base BPE tokenizer and compare it with the
heuristic estimate for --model. Use it to check whether a model family's
rules over- or under-count your typical content.

This is a diagnostic only; budgeting never uses the BPE tokenizer.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			tok, err := calibrate.NewTokenizer()
			if err != nil {
				return err
			}

			samples := make([]calibrate.Sample, 0, len(files))
			for _, f := range files {
				data, err := os.ReadFile(f)
				if err != nil {
					return fmt.Errorf("read %s: %w", f, err)
				}
				samples = append(samples, calibrate.Sample{Name: filepath.Base(f), Text: string(data)})
			}

			est := e.cfg.BudgetConfig("", e.logger).Estimator
			report := calibrate.Compare(est, tok, est.Model(), samples)

			fmt.Fprintln(cmd.OutOrStdout(), calibrationTable(report))
			fmt.Fprintf(cmd.OutOrStdout(), "\nModel %s: mean absolute error %.1f%%, %d of %d overestimated\n",
				report.Model, report.MeanAbsError*100, report.Overestimates, len(report.Results))
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "file to measure (repeatable)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func calibrationTable(report calibrate.Report) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styleBorder).
		Headers("FILE", "TYPE", "HEURISTIC", "CL100K", "ERROR").
		StyleFunc(func(row, col int) lipgloss.Style {
			s := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return s.Inherit(styleHeader)
			}
			return s
		})
	for _, r := range report.Results {
		t.Row(r.Name, string(r.Type), fmt.Sprint(r.Heuristic), fmt.Sprint(r.Reference), fmt.Sprintf("%+.1f%%", r.Error*100))
	}
	return t.String()
}
