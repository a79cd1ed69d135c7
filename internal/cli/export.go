package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memvra/ctxbudget/internal/export"
)

func newExportCmd() *cobra.Command {
	var (
		file   string
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export -f transcript.json",
		Short: "Export a transcript with its budget report",
		Long: `Load a transcript, evaluate its budget and write a snapshot with messages,
active warnings, preserved sections and compression history.

JSON snapshots can be loaded again by every command that takes --file.

Examples:
  ctxbudget export -f chat.json --format markdown
  ctxbudget export -f chat.json -o snapshot.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "" {
				format = export.FormatForPath(output)
			}
			exporter, ok := export.Get(format)
			if !ok {
				return fmt.Errorf("unknown format %q; valid formats: %s",
					format, strings.Join(export.ValidFormats(), ", "))
			}

			e, err := loadEnv()
			if err != nil {
				return err
			}
			st, _, err := e.loadState(file, nil)
			if err != nil {
				return err
			}

			out, err := exporter.Export(st.Export())
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			return writeOutput(output, out)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "transcript file")
	cmd.Flags().StringVar(&format, "format", "", "json, yaml or markdown (default from --output extension, else json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
