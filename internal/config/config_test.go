package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/memvra/ctxbudget/internal/conversation"
)

func TestDefaultGlobal(t *testing.T) {
	cfg := DefaultGlobal()

	if cfg.DefaultModel != "claude-sonnet-4" {
		t.Errorf("default model: got %q, want %q", cfg.DefaultModel, "claude-sonnet-4")
	}
	if cfg.DefaultProvider != "claude" {
		t.Errorf("default provider: got %q, want %q", cfg.DefaultProvider, "claude")
	}
	if cfg.Budget.MaxTokens != 0 {
		t.Errorf("max tokens: got %d, want 0 (model window)", cfg.Budget.MaxTokens)
	}
	if cfg.Budget.Notice != 0.75 || cfg.Budget.Warning != 0.85 || cfg.Budget.Critical != 0.95 {
		t.Errorf("thresholds: got %+v", cfg.Budget)
	}
	if cfg.Compression.Strategy != conversation.StrategyPreservation {
		t.Errorf("strategy: got %q, want preservation", cfg.Compression.Strategy)
	}
	if cfg.Compression.KeepRecent != 10 {
		t.Errorf("keep recent: got %d, want 10", cfg.Compression.KeepRecent)
	}
	if cfg.Compression.TargetRatio != 0.7 {
		t.Errorf("target ratio: got %f, want 0.7", cfg.Compression.TargetRatio)
	}
	if cfg.Estimator.CacheSize != 4096 {
		t.Errorf("cache size: got %d, want 4096", cfg.Estimator.CacheSize)
	}
	if !cfg.Output.Stream {
		t.Error("stream should default to true")
	}
	if !cfg.Output.Color {
		t.Error("color should default to true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GlobalConfig)
	}{
		{"negative budget", func(c *GlobalConfig) { c.Budget.MaxTokens = -1 }},
		{"unordered thresholds", func(c *GlobalConfig) { c.Budget.Warning = 0.5 }},
		{"bad strategy", func(c *GlobalConfig) { c.Compression.Strategy = "magic" }},
		{"bad provider", func(c *GlobalConfig) { c.DefaultProvider = "gemini" }},
		{"bad log level", func(c *GlobalConfig) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultGlobal()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestBudgetConfig(t *testing.T) {
	cfg := DefaultGlobal()
	cfg.Budget.MaxTokens = 4000

	bc := cfg.BudgetConfig("", nil)
	if bc.Model != cfg.DefaultModel {
		t.Errorf("model: got %q, want default %q", bc.Model, cfg.DefaultModel)
	}
	if bc.MaxTokens != 4000 {
		t.Errorf("max tokens: got %d", bc.MaxTokens)
	}
	if bc.Estimator == nil || bc.Estimator.Model() != cfg.DefaultModel {
		t.Error("estimator should be built for the selected model")
	}
	if bc := cfg.BudgetConfig("gpt-4o", nil); bc.Model != "gpt-4o" {
		t.Errorf("explicit model ignored: %q", bc.Model)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"":      slog.LevelInfo,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}

func TestProjectConfigDirPath(t *testing.T) {
	got := ProjectConfigDirPath("/home/user/project")
	want := filepath.Join("/home/user/project", ".ctxbudget")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLoadProject_NoFile(t *testing.T) {
	cfg, err := LoadProject(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DefaultModel != "" {
		t.Errorf("expected empty default model, got %q", cfg.DefaultModel)
	}
}

func TestSaveAndLoadProject(t *testing.T) {
	dir := t.TempDir()
	cfg := ProjectConfig{
		DefaultModel: "gpt-4o",
		MaxTokens:    32000,
		Strategy:     "hybrid",
	}

	if err := SaveProject(dir, cfg); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}

	loaded, err := LoadProject(dir)
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if loaded != cfg {
		t.Errorf("round trip: got %+v, want %+v", loaded, cfg)
	}
}

func TestLoad_MergesProjectOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CTXBUDGET_MODEL", "")
	dir := t.TempDir()

	if err := SaveProject(dir, ProjectConfig{DefaultModel: "gpt-4o", DefaultProvider: "openai", MaxTokens: 9000, Strategy: "removal", KeepRecent: 4}); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultModel != "gpt-4o" || cfg.DefaultProvider != "openai" {
		t.Errorf("model overrides not applied: %q / %q", cfg.DefaultModel, cfg.DefaultProvider)
	}
	if cfg.Budget.MaxTokens != 9000 {
		t.Errorf("max tokens: got %d, want 9000", cfg.Budget.MaxTokens)
	}
	if cfg.Compression.Strategy != conversation.StrategyRemoval || cfg.Compression.KeepRecent != 4 {
		t.Errorf("compression overrides not applied: %+v", cfg.Compression)
	}
}

func TestLoad_RejectsBadProjectStrategy(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	if err := SaveProject(dir, ProjectConfig{Strategy: "summarize"}); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("expected error for unknown project strategy")
	}
}

func TestLoadGlobal_FileAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ANTHROPIC_API_KEY", "test-key-123")
	t.Setenv("CTXBUDGET_MODEL", "")

	path := filepath.Join(home, ".config", "ctxbudget", "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	body := "default_model = \"gpt-4o\"\n\n[budget]\nmax_tokens = 16000\nnotice = 0.6\nwarning = 0.8\ncritical = 0.9\n\n[keys]\nanthropic = \"from-file\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadGlobal()
	if err != nil {
		t.Fatalf("LoadGlobal: %v", err)
	}
	if cfg.DefaultModel != "gpt-4o" || cfg.Budget.MaxTokens != 16000 || cfg.Budget.Notice != 0.6 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Compression.KeepRecent != 10 {
		t.Errorf("unset sections should keep defaults, keep_recent = %d", cfg.Compression.KeepRecent)
	}
	if cfg.Keys.Anthropic != "test-key-123" {
		t.Errorf("expected env override, got %q", cfg.Keys.Anthropic)
	}
}

func TestSaveGlobal(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := DefaultGlobal()
	cfg.Budget.MaxTokens = 1234
	if err := SaveGlobal(cfg); err != nil {
		t.Fatalf("SaveGlobal: %v", err)
	}
	loaded, err := LoadGlobal()
	if err != nil {
		t.Fatalf("LoadGlobal: %v", err)
	}
	if loaded.Budget.MaxTokens != 1234 {
		t.Errorf("max tokens: got %d, want 1234", loaded.Budget.MaxTokens)
	}
}

func TestGlobalConfigPath(t *testing.T) {
	path, err := GlobalConfigPath()
	if err != nil {
		t.Fatalf("GlobalConfigPath: %v", err)
	}
	if !filepath.IsAbs(path) {
		t.Errorf("expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.toml" {
		t.Errorf("expected config.toml, got %q", filepath.Base(path))
	}
}
