package tokens

import (
	"strings"
	"testing"
	"unicode/utf8"

	"pgregory.net/rapid"
)

var models = []string{DefaultModel, "gpt-4o", "gpt-4", "claude-3-5-sonnet", "llama-3", "gemini-pro", "mistral-large", "unknown-x"}

// TestProperty_EstimateDeterministic verifies repeated estimates agree, with
// and without the cache.
func TestProperty_EstimateDeterministic(t *testing.T) {
	e := NewEstimator(DefaultModel)
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		model := rapid.SampledFrom(models).Draw(t, "model")

		first := e.EstimateForModel(text, model)
		second := e.EstimateForModel(text, model)
		fresh := NewEstimator(model).Estimate(text)

		if first != second || first != fresh {
			t.Fatalf("estimates differ: %d, %d, fresh %d", first, second, fresh)
		}
		if first < 0 {
			t.Fatalf("negative estimate %d", first)
		}
		if text == "" && first != 0 {
			t.Fatalf("empty text estimated at %d", first)
		}
	})
}

// TestProperty_TruncationIsBoundedPrefix verifies the result is a prefix
// that fits the limit for arbitrary input.
func TestProperty_TruncationIsBoundedPrefix(t *testing.T) {
	e := NewEstimator(DefaultModel)
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		limit := rapid.IntRange(0, 200).Draw(t, "limit")
		model := rapid.SampledFrom(models).Draw(t, "model")

		got := e.TruncateForModel(text, limit, model)
		if !strings.HasPrefix(text, got) {
			t.Fatalf("%q is not a prefix of %q", got, text)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("prefix %q splits a rune", got)
		}
		if n := e.EstimateForModel(got, model); n > limit {
			t.Fatalf("prefix estimates %d, limit %d", n, limit)
		}
	})
}

// TestProperty_TruncationIsLongest checks maximality on text whose estimate
// grows with its length.
func TestProperty_TruncationIsLongest(t *testing.T) {
	e := NewEstimator(DefaultModel)
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringMatching(`[a-z ]{0,400}`).Draw(t, "text")
		limit := rapid.IntRange(0, 120).Draw(t, "limit")

		got := e.TruncateToTokenLimit(text, limit)
		if len(got) == len(text) {
			return
		}
		longer := text[:len(got)+1]
		if n := e.Estimate(longer); n <= limit {
			t.Fatalf("prefix of length %d also fits (%d <= %d)", len(longer), n, limit)
		}
	})
}
