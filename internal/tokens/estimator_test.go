package tokens

import (
	"errors"
	"strings"
	"testing"
)

const prose = "The quick brown fox jumps over the lazy dog while the farmer watches. "

func plainProse(n int) string {
	return strings.Repeat(prose, n/len(prose)+1)[:n]
}

func TestEstimate_EmptyIsZero(t *testing.T) {
	e := NewEstimator("gpt-4o")
	for _, model := range []string{"gpt-4o", "claude-3-5-sonnet", "llama-3", "no-such-model", ""} {
		if got := e.EstimateForModel("", model); got != 0 {
			t.Errorf("EstimateForModel(\"\", %q) = %d, want 0", model, got)
		}
	}
}

func TestEstimate_PlainProse(t *testing.T) {
	e := NewEstimator(DefaultModel)
	got := e.Estimate(plainProse(300))
	// 300 runes at 4 chars per token, no numeric runs.
	if got != 75 {
		t.Errorf("Estimate(300 runes of prose) = %d, want 75", got)
	}
}

func TestEstimate_NumericRunsAddWeight(t *testing.T) {
	e := NewEstimator(DefaultModel)
	letters := e.Estimate("order number abc shipped on day xyz")
	digits := e.Estimate("order number 123 shipped on day 456")
	if digits <= letters {
		t.Errorf("numeric runs should add tokens: digits=%d letters=%d", digits, letters)
	}
}

// A fenced python block packs more characters per token than prose of the
// same length.
func TestEstimate_CodeCheaperThanProse(t *testing.T) {
	body := strings.Repeat("def add(a, b):\n    return a + b\n", 9)[:286]
	block := "```python\n" + body + "\n```"
	if len(block) != 300 {
		t.Fatalf("fixture length = %d, want 300", len(block))
	}

	e := NewEstimator(DefaultModel)
	code := e.Estimate(block)
	text := e.Estimate(plainProse(300))
	if code >= text {
		t.Errorf("code estimate %d should be lower than prose estimate %d", code, text)
	}

	b := e.Breakdown(block, DefaultModel)
	if b.Type != ContentCode {
		t.Errorf("Breakdown type = %q, want %q", b.Type, ContentCode)
	}
	if len(b.Segments) != 1 || b.Segments[0].Language != "python" {
		t.Errorf("expected one python segment, got %+v", b.Segments)
	}
}

func TestEstimate_LanguageMultiplier(t *testing.T) {
	body := strings.Repeat("abcd", 25) + "\n"
	e := NewEstimator(DefaultModel)
	goTokens := e.Estimate("```go\n" + body + "```\n")
	htmlTokens := e.Estimate("```html\n" + body + "```\n")
	if goTokens >= htmlTokens {
		t.Errorf("go block (%d) should estimate below html block (%d)", goTokens, htmlTokens)
	}
}

func TestEstimate_MixedContentSumsSegments(t *testing.T) {
	text := "Here is the helper you asked for.\n\n```go\nfunc add(a, b int) int { return a + b }\n```\n\nIt adds two numbers."
	e := NewEstimator(DefaultModel)

	b := e.Breakdown(text, DefaultModel)
	if len(b.Segments) != 2 {
		t.Fatalf("expected code and prose segments, got %+v", b.Segments)
	}
	sum := b.MarkerTokens
	for _, s := range b.Segments {
		sum += s.Tokens
	}
	if sum != b.Total {
		t.Errorf("segments sum to %d, total is %d", sum, b.Total)
	}
	if got := e.Estimate(text); got != b.Total {
		t.Errorf("Estimate = %d, Breakdown.Total = %d", got, b.Total)
	}
}

func TestEstimate_ControlMarkers(t *testing.T) {
	e := NewEstimator(DefaultModel)
	b := e.Breakdown("<|im_start|>user\nhello there<|im_end|>", DefaultModel)
	if b.MarkerTokens != 2 {
		t.Errorf("MarkerTokens = %d, want 2", b.MarkerTokens)
	}
	if b.Total <= b.MarkerTokens {
		t.Errorf("Total %d should include the remaining text", b.Total)
	}
}

func TestEstimateForModel_LeavesActiveModel(t *testing.T) {
	text := plainProse(500)
	e := NewEstimator("gpt-4o")
	before := e.Estimate(text)

	other := e.EstimateForModel(text, "claude-3-opus")
	want := NewEstimator("claude-3-opus").Estimate(text)
	if other != want {
		t.Errorf("EstimateForModel under claude = %d, want %d", other, want)
	}
	if other == before {
		t.Errorf("claude and gpt-4o rules should differ for this text, both %d", other)
	}

	if m := e.Model(); m != "gpt-4o" {
		t.Errorf("active model changed to %q", m)
	}
	if got := e.Estimate(text); got != before {
		t.Errorf("Estimate after foreign lookup = %d, want %d", got, before)
	}
	if e.Rules().Name != "o200k" {
		t.Errorf("active rules = %q, want o200k", e.Rules().Name)
	}
}

func TestEstimate_CacheKeyedByModel(t *testing.T) {
	e := NewEstimator("gpt-4o", WithCacheSize(16))
	text := plainProse(120)

	a := e.EstimateForModel(text, "gpt-4o")
	b := e.EstimateForModel(text, "claude-3-haiku")
	if e.CacheLen() != 2 {
		t.Errorf("CacheLen = %d, want 2", e.CacheLen())
	}
	if a == b {
		t.Errorf("expected distinct estimates per model, both %d", a)
	}

	e.SetModel("claude-3-haiku")
	if got := e.Estimate(text); got != b {
		t.Errorf("after SetModel, Estimate = %d, want %d", got, b)
	}
}

func TestRegisterModel(t *testing.T) {
	e := NewEstimator("acme-1")
	text := plainProse(200)
	fallback := e.Estimate(text)

	r := DefaultRules()
	r.Name = "acme"
	r.CharsPerToken = 2
	if err := e.RegisterModel("acme-1", r); err != nil {
		t.Fatalf("RegisterModel: %v", err)
	}
	if e.CacheLen() != 0 {
		t.Errorf("RegisterModel should purge the cache, CacheLen = %d", e.CacheLen())
	}
	if got := e.Estimate(text); got <= fallback {
		t.Errorf("custom rules should raise the estimate: got %d, fallback %d", got, fallback)
	}

	bad := DefaultRules()
	bad.CharsPerToken = 0
	if err := e.RegisterModel("broken", bad); err == nil {
		t.Error("expected validation error for zero chars_per_token")
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		model   string
		rules   string
		unknown bool
	}{
		{"", DefaultModel, false},
		{"gpt-4o", "o200k", false},
		{"gpt-4o-mini", "o200k", false},
		{"GPT-4-turbo-preview", "cl100k-turbo", false},
		{"gpt-4-0613", "cl100k", false},
		{"gpt-3.5-turbo", "gpt-3.5", false},
		{"claude-3-5-sonnet-20241022", "claude", false},
		{"meta-llama/Llama-3-70b", "llama", false},
		{"gemini-1.5-pro", "gemini", false},
		{"mixtral-8x7b", "mistral", false},
		{"totally-unknown", DefaultModel, true},
	}
	for _, tt := range tests {
		r, err := Lookup(tt.model)
		if r.Name != tt.rules {
			t.Errorf("Lookup(%q) rules = %q, want %q", tt.model, r.Name, tt.rules)
		}
		if got := errors.Is(err, ErrUnknownModel); got != tt.unknown {
			t.Errorf("Lookup(%q) unknown = %v, want %v (err=%v)", tt.model, got, tt.unknown, err)
		}
	}
}

func TestEstimateMessages(t *testing.T) {
	e := NewEstimator("claude-3-opus")
	contents := []string{"You are terse.", "hi", ""}
	want := 0
	for _, c := range contents {
		want += e.MessageOverhead("claude-3-opus") + e.EstimateForModel(c, "claude-3-opus")
	}
	if got := e.EstimateMessages("claude-3-opus", contents); got != want {
		t.Errorf("EstimateMessages = %d, want %d", got, want)
	}
	if e.MessageOverhead("claude-3-opus") != 5 {
		t.Errorf("claude overhead = %d, want 5", e.MessageOverhead("claude-3-opus"))
	}
}

func TestContextWindow(t *testing.T) {
	if got := ContextWindow("claude-3-opus"); got != 200000 {
		t.Errorf("ContextWindow(claude) = %d, want 200000", got)
	}
	if got := ContextWindow("unknown"); got != DefaultRules().ContextWindow {
		t.Errorf("ContextWindow(unknown) = %d, want default", got)
	}
}
