package cli

import (
	"github.com/spf13/cobra"

	"github.com/memvra/ctxbudget/internal/budget"
	"github.com/memvra/ctxbudget/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var (
		file     string
		autosave string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an MCP server over stdio",
		Long: `Serve the budget tools over the Model Context Protocol on stdin/stdout so an
agent can append messages, watch warnings and compress its own context.

Tools: append_message, remove_message, update_message, context_status,
compress_context, dismiss_warning, reset_context, preserve_messages,
unpreserve, estimate_tokens, compression_history.

Logs go to stderr; stdout carries only protocol traffic.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}

			var st *budget.State
			if file != "" {
				st, _, err = e.loadState(file, nil)
			} else {
				st, err = e.newState("", nil)
			}
			if err != nil {
				return err
			}

			opts := []mcp.Option{mcp.WithLogger(e.logger)}
			if autosave != "" {
				opts = append(opts, mcp.WithAutosave(autosave))
			}
			e.logger.Info("serving MCP over stdio", "model", st.Model(), "max_tokens", st.MaxTokens())
			return mcp.NewServer(st, version, opts...).ServeStdio()
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "start from a transcript file")
	cmd.Flags().StringVar(&autosave, "autosave", "", "write a snapshot here after every change")

	return cmd
}
