package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var (
		file string
		list bool
	)

	cmd := &cobra.Command{
		Use:   "status -f transcript.json",
		Short: "Show budget usage, warnings and preserved sections for a transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			st, _, err := e.loadState(file, nil)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			printStatus(w, st)
			if list {
				fmt.Fprintln(w)
				printMessages(w, st)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "transcript file")
	cmd.Flags().BoolVarP(&list, "list", "l", false, "list messages with their positions")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
