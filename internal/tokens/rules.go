package tokens

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownModel is reported when a model ID matches no rule family. It is
// informational: callers still receive the default rule set.
var ErrUnknownModel = errors.New("unknown model")

// DefaultModel is the rule set name used for unknown model IDs.
const DefaultModel = "default"

// Rules is the heuristic tokenization profile for one model family.
// LanguageMultipliers is shared between copies and must be treated as read-only.
type Rules struct {
	Name          string
	CharsPerToken float64
	ContextWindow int

	// CodeMultiplier applies to code whose language is unknown or missing
	// from LanguageMultipliers.
	CodeMultiplier      float64
	LanguageMultipliers map[string]float64

	MarkdownMultiplier   float64
	StructuredMultiplier float64
	PlainMultiplier      float64

	// PunctuationWeight is added per punctuation-dense run in structured text,
	// NumericWeight per numeric run in plain text.
	PunctuationWeight float64
	NumericWeight     float64

	// SpecialTokenCost is charged per chat control marker.
	SpecialTokenCost int

	// MessageOverhead is the fixed per-message cost of role framing.
	MessageOverhead int
}

// LanguageMultiplier returns the multiplier for a normalized language name.
func (r Rules) LanguageMultiplier(lang string) float64 {
	if m, ok := r.LanguageMultipliers[lang]; ok {
		return m
	}
	return r.CodeMultiplier
}

// Validate reports whether the rule set can be used for estimation.
func (r Rules) Validate() error {
	if r.CharsPerToken <= 0 {
		return fmt.Errorf("tokens: rules %q: chars_per_token must be positive, got %f", r.Name, r.CharsPerToken)
	}
	for name, m := range map[string]float64{
		"code":       r.CodeMultiplier,
		"markdown":   r.MarkdownMultiplier,
		"structured": r.StructuredMultiplier,
		"plain":      r.PlainMultiplier,
	} {
		if m <= 0 {
			return fmt.Errorf("tokens: rules %q: %s multiplier must be positive, got %f", r.Name, name, m)
		}
	}
	if r.PunctuationWeight < 0 || r.NumericWeight < 0 || r.SpecialTokenCost < 0 || r.MessageOverhead < 0 {
		return fmt.Errorf("tokens: rules %q: weights and costs must be non-negative", r.Name)
	}
	return nil
}

// languageMultipliers is keyed by lower-cased chroma lexer names. Languages
// below 1.0 pack more characters into each token than prose does.
var languageMultipliers = map[string]float64{
	"python":     0.85,
	"ruby":       0.85,
	"go":         0.9,
	"javascript": 0.9,
	"typescript": 0.9,
	"php":        0.9,
	"c":          0.9,
	"c++":        0.95,
	"c#":         0.95,
	"java":       0.95,
	"kotlin":     0.95,
	"swift":      0.95,
	"rust":       0.95,
	"bash":       0.8,
	"sql":        0.85,
	"yaml":       0.95,
	"css":        1.0,
	"html":       1.1,
	"json":       1.1,
}

func baseRules(name string, charsPerToken float64, window int) Rules {
	return Rules{
		Name:                 name,
		CharsPerToken:        charsPerToken,
		ContextWindow:        window,
		CodeMultiplier:       0.9,
		LanguageMultipliers:  languageMultipliers,
		MarkdownMultiplier:   1.05,
		StructuredMultiplier: 1.15,
		PlainMultiplier:      1.0,
		PunctuationWeight:    0.5,
		NumericWeight:        0.5,
		SpecialTokenCost:     1,
		MessageOverhead:      4,
	}
}

var (
	defaultRules = baseRules(DefaultModel, 4.0, 128000)

	o200kRules = func() Rules {
		r := baseRules("o200k", 4.2, 128000)
		r.MessageOverhead = 3
		return r
	}()

	cl100kRules = baseRules("cl100k", 4.0, 8192)

	cl100kTurboRules = baseRules("cl100k-turbo", 4.0, 128000)

	gpt35Rules = baseRules("gpt-3.5", 4.0, 16385)

	claudeRules = func() Rules {
		r := baseRules("claude", 3.5, 200000)
		r.CodeMultiplier = 0.92
		r.PunctuationWeight = 0.6
		r.NumericWeight = 0.6
		r.MessageOverhead = 5
		return r
	}()

	llamaRules = func() Rules {
		r := baseRules("llama", 3.8, 128000)
		r.SpecialTokenCost = 1
		r.MessageOverhead = 5
		return r
	}()

	geminiRules = baseRules("gemini", 4.0, 1000000)

	mistralRules = func() Rules {
		r := baseRules("mistral", 3.7, 32000)
		r.NumericWeight = 0.7
		return r
	}()
)

// families maps model ID prefixes to rule sets. Lookup prefers the longest
// matching prefix, so "gpt-4o" wins over "gpt-4".
var families = map[string]Rules{
	"gpt-4o":      o200kRules,
	"gpt-4.1":     o200kRules,
	"gpt-5":       o200kRules,
	"o1":          o200kRules,
	"o3":          o200kRules,
	"o4":          o200kRules,
	"gpt-4-turbo": cl100kTurboRules,
	"gpt-4":       cl100kRules,
	"gpt-3.5":     gpt35Rules,
	"claude":      claudeRules,
	"llama":       llamaRules,
	"meta-llama":  llamaRules,
	"gemini":      geminiRules,
	"mistral":     mistralRules,
	"mixtral":     mistralRules,
}

// familyPrefixes is families' keys sorted longest first.
var familyPrefixes = func() []string {
	keys := make([]string, 0, len(families))
	for k := range families {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// DefaultRules returns the fallback rule set.
func DefaultRules() Rules { return defaultRules }

// Lookup returns the rule set for modelID. Unknown IDs yield the default
// rules together with ErrUnknownModel.
func Lookup(modelID string) (Rules, error) {
	id := strings.ToLower(strings.TrimSpace(modelID))
	if id == "" || id == DefaultModel {
		return defaultRules, nil
	}
	if r, ok := families[id]; ok {
		return r, nil
	}
	for _, prefix := range familyPrefixes {
		if strings.HasPrefix(id, prefix) {
			return families[prefix], nil
		}
	}
	return defaultRules, fmt.Errorf("tokens: %w %q, using %s rules", ErrUnknownModel, modelID, DefaultModel)
}

// ContextWindow returns the known context window for modelID.
func ContextWindow(modelID string) int {
	r, _ := Lookup(modelID)
	return r.ContextWindow
}
