package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/memvra/ctxbudget/internal/adapter"
	"github.com/memvra/ctxbudget/internal/budget"
	"github.com/memvra/ctxbudget/internal/config"
	"github.com/memvra/ctxbudget/internal/transcript"
	"github.com/memvra/ctxbudget/internal/warning"
)

// env is the effective configuration for one command run.
type env struct {
	cfg    config.GlobalConfig
	logger *slog.Logger
}

// loadEnv reads global and project config, applies the shared flags and
// installs the logger.
func loadEnv() (*env, error) {
	root, err := findRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if flagModel != "" {
		cfg.DefaultModel = flagModel
	}
	if flagMaxTokens > 0 {
		cfg.Budget.MaxTokens = flagMaxTokens
	}
	if flagVerbose {
		cfg.Output.Verbose = true
		cfg.Log.Level = "debug"
	}
	if flagNoColor || !cfg.Output.Color || os.Getenv("NO_COLOR") != "" {
		disableColors()
	}

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return &env{cfg: cfg, logger: logger}, nil
}

// newState creates an empty budget state for model. An empty model uses the
// configured default.
func (e *env) newState(model string, onWarning func(warning.Warning)) (*budget.State, error) {
	bc := e.cfg.BudgetConfig(model, e.logger)
	bc.OnWarning = onWarning
	return budget.New(bc)
}

// loadState parses the transcript at path into a fresh state. The
// transcript's recorded model and budget apply unless overridden by flags.
func (e *env) loadState(path string, onWarning func(warning.Warning)) (*budget.State, transcript.Transcript, error) {
	tr, err := transcript.Load(path)
	if err != nil {
		return nil, tr, err
	}
	model := ""
	if flagModel == "" {
		model = tr.Model
	}
	st, err := e.newState(model, onWarning)
	if err != nil {
		return nil, tr, err
	}
	if flagMaxTokens == 0 && e.cfg.Budget.MaxTokens == 0 && tr.MaxTokens > 0 && tr.Format == transcript.FormatSnapshot {
		if err := st.SetMaxTokens(tr.MaxTokens); err != nil {
			return nil, tr, err
		}
	}
	if err := st.Restore(tr.Snapshot()); err != nil {
		return nil, tr, fmt.Errorf("load %s: %w", path, err)
	}
	return st, tr, nil
}

// readInput returns the text from file, from args, or from stdin, in that
// order of preference.
func readInput(file string, args []string, stdin io.Reader) (string, error) {
	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", file, err)
		}
		return string(data), nil
	case len(args) > 0:
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

// resolveRef maps a message reference to an ID. Integers are 1-based
// positions, negative values count from the end; anything else is an ID or
// a unique ID prefix.
func resolveRef(st *budget.State, ref string) (string, error) {
	msgs := st.Messages()
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 0 {
			n = len(msgs) + n + 1
		}
		if n < 1 || n > len(msgs) {
			return "", fmt.Errorf("message #%s out of range (1-%d)", ref, len(msgs))
		}
		return msgs[n-1].ID, nil
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return matchPrefix(ids, ref, "message")
}

// matchPrefix returns the ID in ids equal to ref, or the only one starting
// with it.
func matchPrefix(ids []string, ref, kind string) (string, error) {
	var found []string
	for _, id := range ids {
		if id == ref {
			return id, nil
		}
		if strings.HasPrefix(id, ref) {
			found = append(found, id)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("no %s matches %q", kind, ref)
	case 1:
		return found[0], nil
	}
	return "", fmt.Errorf("%q matches %d %ss; use more characters", ref, len(found), kind)
}

// apiKey returns the correct API key from the global config for the given provider.
func apiKey(cfg config.GlobalConfig, provider string) string {
	switch provider {
	case adapter.ProviderClaude:
		return cfg.Keys.Anthropic
	case adapter.ProviderOpenAI:
		return cfg.Keys.OpenAI
	default:
		return ""
	}
}

// writeOutput writes s to path, or to stdout when path is empty or "-".
func writeOutput(path, s string) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.WriteString(s)
		return err
	}
	return os.WriteFile(path, []byte(s), 0o644)
}

// findRoot returns the nearest directory at or above the working directory
// holding a .ctxbudget/ folder, or the working directory itself.
func findRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	dir, _ := filepath.Abs(cwd)
	for {
		if _, err := os.Stat(config.ProjectConfigDirPath(dir)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cwd, nil
}
