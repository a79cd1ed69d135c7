package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/memvra/ctxbudget/internal/adapter"
	"github.com/memvra/ctxbudget/internal/budget"
	"github.com/memvra/ctxbudget/internal/conversation"
	"github.com/memvra/ctxbudget/internal/export"
	"github.com/memvra/ctxbudget/internal/warning"
)

const chatHelp = `Commands:
  /status                      budget, warnings and preserved sections
  /list                        messages with their positions
  /compress [strategy]         compress now (preservation, hybrid, removal)
  /dismiss <warning-id>        dismiss an active warning
  /preserve <from> [to] [why]  protect messages by position or ID
  /unpreserve <section-id>     drop a preserved section
  /retry                       resend the transcript after a failed or skipped call
  /reset                       clear the conversation
  /export <file>               save a snapshot (.json, .yaml or .md)
  /quit                        leave
`

func newChatCmd() *cobra.Command {
	var (
		file        string
		system      string
		provider    string
		apiModel    string
		maxOutput   int
		temperature float64
		noStream    bool
		save        string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with live context budgeting",
		Long: `Start an interactive session with Claude or OpenAI. Every turn is counted
against the budget; warnings appear as thresholds are crossed, and slash
commands compress, preserve or reset the conversation.

--model picks the tokenizer rules and window used for budgeting;
--api-model is the model ID sent to the provider.

Type /help inside the session for commands.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			if provider == "" {
				provider = e.cfg.DefaultProvider
			}
			llm, err := adapter.New(provider, apiKey(e.cfg, provider))
			if err != nil {
				return fmt.Errorf("init LLM adapter: %w", err)
			}

			out := cmd.OutOrStdout()
			onWarning := func(w warning.Warning) { printWarning(out, w) }

			var st *budget.State
			if file != "" {
				st, _, err = e.loadState(file, onWarning)
			} else {
				st, err = e.newState("", onWarning)
			}
			if err != nil {
				return err
			}
			if system != "" {
				if _, err := st.Append(conversation.Message{Role: conversation.RoleSystem, Content: system}); err != nil {
					return err
				}
			}

			c := &chatSession{
				st:          st,
				llm:         llm,
				apiModel:    apiModel,
				maxOutput:   maxOutput,
				temperature: temperature,
				stream:      e.cfg.Output.Stream && !noStream,
				out:         out,
				logger:      e.logger,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			if interactive {
				fmt.Fprintf(out, "%s (%s, budget %d tokens). /help for commands.\n",
					styleBold.Render("ctxbudget chat"), st.Model(), st.MaxTokens())
			}
			err = c.run(ctx, os.Stdin, interactive)

			if save != "" {
				if serr := c.exportTo(save); serr != nil {
					return errors.Join(err, serr)
				}
				fmt.Fprintf(out, "Saved to %s\n", save)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "resume from a transcript file")
	cmd.Flags().StringVar(&system, "system", "", "system prompt to start with")
	cmd.Flags().StringVar(&provider, "provider", "", "LLM provider: claude or openai (default from config)")
	cmd.Flags().StringVar(&apiModel, "api-model", "", "model ID sent to the provider (default: provider's default)")
	cmd.Flags().IntVar(&maxOutput, "max-output", 4096, "maximum response tokens")
	cmd.Flags().Float64Var(&temperature, "temperature", 0.7, "sampling temperature")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for full responses instead of streaming")
	cmd.Flags().StringVar(&save, "save", "", "write a snapshot here on exit")

	return cmd
}

// chatSession holds one interactive conversation.
type chatSession struct {
	st          *budget.State
	llm         adapter.LLMAdapter
	apiModel    string
	maxOutput   int
	temperature float64
	stream      bool
	out         io.Writer
	logger      *slog.Logger
}

func (c *chatSession) run(ctx context.Context, in io.Reader, interactive bool) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for {
		if interactive {
			fmt.Fprintf(c.out, "%s > ", styleDim.Render(fmt.Sprintf("[%.0f%%]", c.st.Utilization()*100)))
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := c.command(ctx, line)
			if err != nil {
				fmt.Fprintln(c.out, styleError.Render(err.Error()))
			}
			if quit {
				return nil
			}
			continue
		}

		if err := c.send(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(c.out, styleError.Render(err.Error()))
		}
	}
}

// send appends the user turn, dispatches the transcript and appends the
// assembled reply. Nothing is dispatched while the transcript is over budget.
func (c *chatSession) send(ctx context.Context, text string) error {
	if _, err := c.st.Append(conversation.Message{Role: conversation.RoleUser, Content: text}); err != nil {
		return err
	}
	return c.dispatch(ctx)
}

func (c *chatSession) dispatch(ctx context.Context) error {
	if !c.st.Fits() {
		return fmt.Errorf("conversation is over budget (%d / %d tokens); /compress then /retry", c.st.TokenCount(), c.st.MaxTokens())
	}

	estimated := c.st.TokenCount()
	ch, err := c.llm.Complete(ctx, adapter.CompletionRequest{
		Messages:    c.st.Messages(),
		Model:       c.apiModel,
		MaxTokens:   c.maxOutput,
		Temperature: c.temperature,
		Stream:      c.stream,
	})
	if err != nil {
		return fmt.Errorf("LLM request: %w", err)
	}

	var echo func(string)
	if c.stream {
		echo = func(s string) { fmt.Fprint(c.out, s) }
	}
	reply, usage, err := adapter.CollectFunc(ch, echo)
	if !c.stream {
		fmt.Fprint(c.out, reply)
	}
	fmt.Fprintln(c.out)
	if err != nil {
		return fmt.Errorf("stream error: %w", err)
	}

	if _, err := c.st.Append(conversation.Message{Role: conversation.RoleAssistant, Content: reply}); err != nil {
		return err
	}
	c.reportUsage(estimated, usage)
	return nil
}

// reportUsage logs how far the heuristic prompt estimate was from the
// provider's count. The estimate is not corrected.
func (c *chatSession) reportUsage(estimated int, u adapter.Usage) {
	if u.InputTokens <= 0 {
		return
	}
	drift := float64(estimated-u.InputTokens) / float64(u.InputTokens)
	c.logger.Info("token estimate drift",
		"estimated", estimated,
		"reported", u.InputTokens,
		"output", u.OutputTokens,
		"drift", fmt.Sprintf("%+.1f%%", drift*100))
}

func (c *chatSession) command(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	switch name {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help", "/?":
		fmt.Fprint(c.out, chatHelp)

	case "/status":
		printStatus(c.out, c.st)

	case "/list", "/ls":
		printMessages(c.out, c.st)

	case "/compress":
		var s conversation.Strategy
		if len(args) > 0 {
			if s, err = conversation.ParseStrategy(args[0]); err != nil {
				return false, err
			}
		}
		ev, err := c.st.Compress(s)
		if err != nil {
			return false, compressErr(err)
		}
		printEvent(c.out, ev)

	case "/dismiss":
		if len(args) != 1 {
			return false, errors.New("usage: /dismiss <warning-id>")
		}
		ids := []string{}
		for _, w := range c.st.Warnings() {
			ids = append(ids, w.ID)
		}
		id, err := matchPrefix(ids, args[0], "warning")
		if err != nil {
			return false, err
		}
		c.st.DismissWarning(id)
		fmt.Fprintln(c.out, "Warning dismissed.")

	case "/preserve":
		if len(args) == 0 {
			return false, errors.New("usage: /preserve <from> [to] [reason]")
		}
		spec := args[0]
		if len(args) > 1 {
			spec += ":" + args[1]
		}
		if len(args) > 2 {
			spec += ":" + strings.Join(args[2:], " ")
		}
		if err := applyPreserve(c.st, spec); err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "Preserved. %d messages protected.\n", len(c.st.ProtectedIDs()))

	case "/unpreserve":
		if len(args) != 1 {
			return false, errors.New("usage: /unpreserve <section-id>")
		}
		ids := []string{}
		for _, p := range c.st.PreservedSections() {
			ids = append(ids, p.ID)
		}
		id, err := matchPrefix(ids, args[0], "preserved section")
		if err != nil {
			return false, err
		}
		if err := c.st.Unpreserve(id); err != nil {
			return false, err
		}
		fmt.Fprintln(c.out, "Preserved section removed.")

	case "/retry":
		msgs := c.st.Messages()
		if len(msgs) == 0 || msgs[len(msgs)-1].Role != conversation.RoleUser {
			return false, errors.New("nothing to retry: the last message is not from you")
		}
		return false, c.dispatch(ctx)

	case "/reset":
		c.st.Reset()
		fmt.Fprintln(c.out, "Conversation cleared.")

	case "/export":
		if len(args) != 1 {
			return false, errors.New("usage: /export <file>")
		}
		if err := c.exportTo(args[0]); err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "Exported to %s\n", args[0])

	default:
		return false, fmt.Errorf("unknown command %s; /help lists commands", name)
	}
	return false, nil
}

func (c *chatSession) exportTo(path string) error {
	e, _ := export.Get(export.FormatForPath(path))
	out, err := e.Export(c.st.Export())
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return os.WriteFile(path, []byte(out), 0o644)
}
