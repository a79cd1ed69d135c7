// Package cli defines the Cobra command tree for the ctxbudget CLI.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// version, commit, date are set via -ldflags at build time.
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Flags shared by every command.
var (
	flagModel     string
	flagMaxTokens int
	flagVerbose   bool
	flagNoColor   bool
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ctxbudget",
	Short: "Token budgeting, warnings and compression for chat transcripts",
	Long: `ctxbudget tracks how much of a model's context window a conversation uses.

It estimates tokens per model family, warns as the budget fills (notice,
warning, critical), and compresses the transcript on request while keeping
system prompts, recent turns and any sections you preserve.

Most commands read a transcript file in OpenAI, Anthropic or ctxbudget
snapshot JSON. Run 'ctxbudget chat' for an interactive budgeted session.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute(v, c, d string) {
	version, commit, date = v, c, d
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagModel, "model", "m", "", "model whose tokenizer rules and window apply (default from config)")
	pf.IntVar(&flagMaxTokens, "max-tokens", 0, "token budget (default: config, then the model's context window)")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "log diagnostics to stderr")
	pf.BoolVar(&flagNoColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(
		newEstimateCmd(),
		newTruncateCmd(),
		newStatusCmd(),
		newCompressCmd(),
		newExportCmd(),
		newWatchCmd(),
		newChatCmd(),
		newCalibrateCmd(),
		newServeCmd(),
		newVersionCmd(),
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ctxbudget %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
