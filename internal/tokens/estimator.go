// Package tokens estimates model token counts without a real tokenizer,
// using content-type-aware heuristics and per-model rule tables.
package tokens

import (
	"log/slog"
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/xxh3"
)

// DefaultCacheSize bounds the number of memoized estimates.
const DefaultCacheSize = 4096

// controlMarkers are chat-template delimiters that tokenize as single
// special tokens regardless of their spelling length.
var controlMarkers = []string{
	"<|im_start|>",
	"<|im_end|>",
	"<|endoftext|>",
	"<|eot_id|>",
	"<|start_header_id|>",
	"<|end_header_id|>",
	"[INST]",
	"[/INST]",
	"<s>",
	"</s>",
}

var markerStripper = func() *strings.Replacer {
	pairs := make([]string, 0, len(controlMarkers)*2)
	for _, m := range controlMarkers {
		pairs = append(pairs, m, " ")
	}
	return strings.NewReplacer(pairs...)
}()

// cacheKey pairs the model ID with a 128-bit digest of the text so that a
// model switch never reuses an estimate computed under other rules.
type cacheKey struct {
	model  string
	digest xxh3.Uint128
}

// Segment is one independently estimated part of a text.
type Segment struct {
	Type     ContentType `json:"type"`
	Language string      `json:"language,omitempty"`
	Runes    int         `json:"runes"`
	Tokens   int         `json:"tokens"`
}

// Breakdown explains how an estimate was assembled.
type Breakdown struct {
	Model        string      `json:"model"`
	Rules        string      `json:"rules"`
	Type         ContentType `json:"type"`
	Segments     []Segment   `json:"segments"`
	MarkerTokens int         `json:"marker_tokens"`
	Total        int         `json:"total"`
}

// Estimator converts text into heuristic token counts. It is safe for
// concurrent use.
type Estimator struct {
	mu        sync.RWMutex
	model     string
	overrides map[string]Rules

	cache  *lru.Cache[cacheKey, int]
	logger *slog.Logger
	warned sync.Map
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithCacheSize sets the memoization capacity. Non-positive sizes fall back
// to DefaultCacheSize.
func WithCacheSize(n int) Option {
	return func(e *Estimator) {
		if n <= 0 {
			n = DefaultCacheSize
		}
		e.cache, _ = lru.New[cacheKey, int](n)
	}
}

// WithLogger sets the logger used for unknown-model notices.
func WithLogger(l *slog.Logger) Option {
	return func(e *Estimator) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEstimator creates an Estimator whose active model is model.
func NewEstimator(model string, opts ...Option) *Estimator {
	e := &Estimator{
		model:     model,
		overrides: make(map[string]Rules),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache, _ = lru.New[cacheKey, int](DefaultCacheSize)
	}
	return e
}

// Model returns the active model ID.
func (e *Estimator) Model() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model
}

// SetModel switches the active model. Cached estimates for other models stay
// valid because the cache is keyed by model.
func (e *Estimator) SetModel(model string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model = model
}

// RegisterModel installs a custom rule set for an exact model ID.
func (e *Estimator) RegisterModel(modelID string, r Rules) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.LanguageMultipliers == nil {
		r.LanguageMultipliers = languageMultipliers
	}
	e.mu.Lock()
	e.overrides[strings.ToLower(strings.TrimSpace(modelID))] = r
	e.mu.Unlock()
	e.cache.Purge()
	return nil
}

// Rules returns the rule set of the active model.
func (e *Estimator) Rules() Rules {
	return e.RulesFor(e.Model())
}

// RulesFor resolves the rule set for modelID, falling back to the default
// rules for unknown models.
func (e *Estimator) RulesFor(modelID string) Rules {
	e.mu.RLock()
	r, ok := e.overrides[strings.ToLower(strings.TrimSpace(modelID))]
	e.mu.RUnlock()
	if ok {
		return r
	}
	r, err := Lookup(modelID)
	if err != nil {
		if _, seen := e.warned.LoadOrStore(modelID, struct{}{}); !seen {
			e.logger.Debug("token estimator fallback", "model", modelID, "rules", r.Name, "err", err)
		}
	}
	return r
}

// Estimate returns the token estimate of text under the active model.
func (e *Estimator) Estimate(text string) int {
	return e.EstimateForModel(text, e.Model())
}

// EstimateForModel returns the token estimate of text under modelID's rules.
// The active model is left untouched.
func (e *Estimator) EstimateForModel(text, modelID string) int {
	if text == "" {
		return 0
	}
	key := cacheKey{model: modelID, digest: xxh3.HashString128(text)}
	if n, ok := e.cache.Get(key); ok {
		return n
	}
	n := e.breakdown(text, modelID).Total
	e.cache.Add(key, n)
	return n
}

// Breakdown returns the per-segment explanation of an estimate. Its Total
// always equals EstimateForModel(text, modelID).
func (e *Estimator) Breakdown(text, modelID string) Breakdown {
	return e.breakdown(text, modelID)
}

// MessageOverhead returns the per-message framing cost for modelID.
func (e *Estimator) MessageOverhead(modelID string) int {
	return e.RulesFor(modelID).MessageOverhead
}

// EstimateMessages estimates an ordered conversation: each message costs its
// role overhead plus the estimate of its content.
func (e *Estimator) EstimateMessages(modelID string, contents []string) int {
	overhead := e.MessageOverhead(modelID)
	total := 0
	for _, c := range contents {
		total += overhead + e.EstimateForModel(c, modelID)
	}
	return total
}

// CacheLen reports how many estimates are memoized.
func (e *Estimator) CacheLen() int {
	return e.cache.Len()
}

func (e *Estimator) breakdown(text, modelID string) Breakdown {
	r := e.RulesFor(modelID)
	b := Breakdown{Model: modelID, Rules: r.Name}
	if text == "" {
		b.Type = ContentPlain
		return b
	}

	markers := 0
	for _, m := range controlMarkers {
		markers += strings.Count(text, m)
	}
	if markers > 0 {
		text = markerStripper.Replace(text)
	}
	b.MarkerTokens = markers * r.SpecialTokenCost
	b.Total = b.MarkerTokens

	doc := parseDocument(text)
	for _, block := range doc.blocks {
		lang := NormalizeLanguage(block.language)
		seg := codeSegment(block.body, lang, r)
		b.Segments = append(b.Segments, seg)
		b.Total += seg.Tokens
	}

	prose := strings.TrimSpace(doc.remainder)
	if prose != "" {
		seg := proseSegment(prose, doc.markdown, r)
		b.Segments = append(b.Segments, seg)
		b.Total += seg.Tokens
	}

	switch {
	case len(doc.blocks) > 0:
		b.Type = ContentCode
	case len(b.Segments) == 1:
		b.Type = b.Segments[0].Type
	default:
		b.Type = ContentPlain
	}
	return b
}

func codeSegment(body, lang string, r Rules) Segment {
	n := utf8.RuneCountInString(body)
	return Segment{
		Type:     ContentCode,
		Language: lang,
		Runes:    n,
		Tokens:   scaled(n, r.CharsPerToken, r.LanguageMultiplier(lang)),
	}
}

func proseSegment(text string, markdown bool, r Rules) Segment {
	kind := classifyProse(text, markdown)
	if kind == ContentCode {
		return codeSegment(text, detectLanguage(text), r)
	}

	n := utf8.RuneCountInString(text)
	seg := Segment{Type: kind, Runes: n}
	switch kind {
	case ContentMarkdown:
		seg.Tokens = scaled(n, r.CharsPerToken, r.MarkdownMultiplier)
	case ContentStructured:
		runs := len(punctuationRun.FindAllStringIndex(text, -1))
		seg.Tokens = scaled(n, r.CharsPerToken, r.StructuredMultiplier) +
			int(math.Ceil(float64(runs)*r.PunctuationWeight))
	default:
		runs := len(numericRun.FindAllStringIndex(text, -1))
		seg.Tokens = scaled(n, r.CharsPerToken, r.PlainMultiplier) +
			int(math.Ceil(float64(runs)*r.NumericWeight))
	}
	return seg
}

// scaled computes ceil(ceil(n/charsPerToken) * multiplier).
func scaled(n int, charsPerToken, multiplier float64) int {
	if n <= 0 {
		return 0
	}
	base := math.Ceil(float64(n) / charsPerToken)
	return int(math.Ceil(base * multiplier))
}
