// Package config manages global (~/.config/ctxbudget/config.toml) and
// per-project (.ctxbudget/config.toml) configuration for ctxbudget.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/memvra/ctxbudget/internal/budget"
	"github.com/memvra/ctxbudget/internal/compress"
	"github.com/memvra/ctxbudget/internal/conversation"
	"github.com/memvra/ctxbudget/internal/tokens"
	"github.com/memvra/ctxbudget/internal/warning"
)

// GlobalConfig holds user-wide settings.
type GlobalConfig struct {
	DefaultModel    string          `toml:"default_model"`
	DefaultProvider string          `toml:"default_provider"`
	Keys            KeysConfig      `toml:"keys"`
	Budget          BudgetConfig    `toml:"budget"`
	Compression     compress.Config `toml:"compression"`
	Estimator       EstimatorConfig `toml:"estimator"`
	Output          OutputConfig    `toml:"output"`
	Log             LogConfig       `toml:"log"`
}

type KeysConfig struct {
	Anthropic string `toml:"anthropic"`
	OpenAI    string `toml:"openai"`
}

// BudgetConfig sets the token ceiling and warning thresholds.
type BudgetConfig struct {
	// MaxTokens of zero means the model's context window.
	MaxTokens int     `toml:"max_tokens"`
	Notice    float64 `toml:"notice"`
	Warning   float64 `toml:"warning"`
	Critical  float64 `toml:"critical"`
}

// Thresholds converts the budget section into warning thresholds.
func (b BudgetConfig) Thresholds() warning.Thresholds {
	return warning.Thresholds{Notice: b.Notice, Warning: b.Warning, Critical: b.Critical}
}

type EstimatorConfig struct {
	CacheSize int `toml:"cache_size"`
}

type OutputConfig struct {
	Stream  bool `toml:"stream"`
	Color   bool `toml:"color"`
	Verbose bool `toml:"verbose"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// ProjectConfig holds per-project overrides stored in .ctxbudget/config.toml.
type ProjectConfig struct {
	DefaultModel    string `toml:"default_model"`
	DefaultProvider string `toml:"default_provider"`
	MaxTokens       int    `toml:"max_tokens"`
	Strategy        string `toml:"strategy"`
	KeepRecent      int    `toml:"keep_recent"`
}

// DefaultGlobal returns sensible defaults.
func DefaultGlobal() GlobalConfig {
	th := warning.DefaultThresholds()
	return GlobalConfig{
		DefaultModel:    "claude-sonnet-4",
		DefaultProvider: "claude",
		Budget: BudgetConfig{
			Notice:   th.Notice,
			Warning:  th.Warning,
			Critical: th.Critical,
		},
		Compression: compress.DefaultConfig(),
		Estimator:   EstimatorConfig{CacheSize: 4096},
		Output: OutputConfig{
			Stream: true,
			Color:  true,
		},
		Log: LogConfig{Level: "warn"},
	}
}

// Validate reports settings that would make a budget unusable.
func (c GlobalConfig) Validate() error {
	if c.Budget.MaxTokens < 0 {
		return fmt.Errorf("config: budget.max_tokens must be non-negative, got %d", c.Budget.MaxTokens)
	}
	if err := c.Budget.Thresholds().Validate(); err != nil {
		return fmt.Errorf("config: budget: %w", err)
	}
	if err := c.Compression.Validate(); err != nil {
		return fmt.Errorf("config: compression: %w", err)
	}
	switch c.DefaultProvider {
	case "claude", "openai":
	default:
		return fmt.Errorf("config: unknown default_provider %q (valid: claude, openai)", c.DefaultProvider)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// BudgetConfig builds the state configuration for model. An empty model
// uses DefaultModel.
func (c GlobalConfig) BudgetConfig(model string, logger *slog.Logger) budget.Config {
	if model == "" {
		model = c.DefaultModel
	}
	return budget.Config{
		Model:       model,
		MaxTokens:   c.Budget.MaxTokens,
		Thresholds:  c.Budget.Thresholds(),
		Compression: c.Compression,
		Estimator:   tokens.NewEstimator(model, tokens.WithCacheSize(c.Estimator.CacheSize), tokens.WithLogger(logger)),
		Logger:      logger,
	}
}

// ParseLevel maps a config log level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", s)
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ctxbudget", "config.toml"), nil
}

// LoadGlobal loads the global config, applying defaults for any missing
// values. Environment keys always override the file.
func LoadGlobal() (GlobalConfig, error) {
	cfg, err := loadGlobalFile()
	applyEnv(&cfg)
	return cfg, err
}

func loadGlobalFile() (GlobalConfig, error) {
	cfg := DefaultGlobal()

	path, err := GlobalConfigPath()
	if err != nil {
		return cfg, nil // Return defaults if we can't determine home dir.
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("config: load global: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *GlobalConfig) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Keys.Anthropic = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Keys.OpenAI = v
	}
	if v := os.Getenv("CTXBUDGET_MODEL"); v != "" {
		cfg.DefaultModel = v
	}
}

// SaveGlobal writes the global config to disk.
func SaveGlobal(cfg GlobalConfig) error {
	path, err := GlobalConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create global config: %w", err)
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// ProjectConfigDirPath returns the path to the project's .ctxbudget/ directory.
func ProjectConfigDirPath(root string) string {
	return filepath.Join(root, ".ctxbudget")
}

// LoadProject loads .ctxbudget/config.toml from the given project root.
func LoadProject(root string) (ProjectConfig, error) {
	var cfg ProjectConfig
	path := filepath.Join(ProjectConfigDirPath(root), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("config: load project: %w", err)
	}
	return cfg, nil
}

// SaveProject writes the project config to .ctxbudget/config.toml.
func SaveProject(root string, cfg ProjectConfig) error {
	dir := ProjectConfigDirPath(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir project: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, "config.toml"))
	if err != nil {
		return fmt.Errorf("config: create project config: %w", err)
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Load returns the effective config for a project root (global merged with
// project) and validates it.
func Load(root string) (GlobalConfig, error) {
	global, err := LoadGlobal()
	if err != nil {
		return global, err
	}

	project, err := LoadProject(root)
	if err != nil {
		return global, err
	}
	if project.DefaultModel != "" {
		global.DefaultModel = project.DefaultModel
	}
	if project.DefaultProvider != "" {
		global.DefaultProvider = project.DefaultProvider
	}
	if project.MaxTokens > 0 {
		global.Budget.MaxTokens = project.MaxTokens
	}
	if project.Strategy != "" {
		s, err := conversation.ParseStrategy(project.Strategy)
		if err != nil {
			return global, fmt.Errorf("config: project: %w", err)
		}
		global.Compression.Strategy = s
	}
	if project.KeepRecent > 0 {
		global.Compression.KeepRecent = project.KeepRecent
	}

	if err := global.Validate(); err != nil {
		return global, err
	}
	return global, nil
}
