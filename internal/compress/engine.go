// Package compress selects which transcript messages to drop so that a
// conversation fits its token budget. Compression is structural: messages
// are kept or removed whole, never rewritten.
package compress

import (
	"errors"
	"fmt"

	"github.com/memvra/ctxbudget/internal/conversation"
)

var (
	// ErrBudgetExceeded is returned when no strategy can fit the transcript
	// into the budget without removing system or preserved messages.
	ErrBudgetExceeded = errors.New("budget exceeded after compression")

	// ErrNothingToCompress is returned when the transcript already fits and
	// the strategy has nothing to remove.
	ErrNothingToCompress = errors.New("nothing to compress")

	// ErrInvalidBudget is returned for a non-positive token budget.
	ErrInvalidBudget = errors.New("invalid token budget")
)

// fallback orders strategies from least to most destructive.
var fallback = []conversation.Strategy{
	conversation.StrategyPreservation,
	conversation.StrategyHybrid,
	conversation.StrategyRemoval,
}

// Result is a compression plan. Kept and Removed preserve transcript order.
type Result struct {
	Kept         []conversation.Message
	Removed      []conversation.Message
	RemovedIDs   []string
	BeforeTokens int
	AfterTokens  int

	// Requested is the strategy asked for; Strategy is the one that fit.
	Requested    conversation.Strategy
	Strategy     conversation.Strategy
	QualityScore float64
}

// Event converts the plan into a history record.
func (r Result) Event() conversation.CompressionEvent {
	return conversation.CompressionEvent{
		BeforeTokens:      r.BeforeTokens,
		AfterTokens:       r.AfterTokens,
		RemovedMessageIDs: append([]string(nil), r.RemovedIDs...),
		Strategy:          r.Strategy,
		QualityScore:      r.QualityScore,
	}
}

// Engine plans compressions. It holds no transcript state and is safe for
// concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine. Zero fields in cfg take their defaults.
func NewEngine(cfg Config) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Plan computes which messages to drop from msgs to fit maxTokens. Messages
// in protected and system messages are never removed. When strategy leaves
// the transcript over budget, progressively more destructive strategies are
// tried. An empty strategy selects the configured default.
func (e *Engine) Plan(msgs []conversation.Message, protected map[string]bool, maxTokens int, strategy conversation.Strategy) (Result, error) {
	if maxTokens <= 0 {
		return Result{}, fmt.Errorf("compress: plan: %w: %d", ErrInvalidBudget, maxTokens)
	}
	if strategy == "" {
		strategy = e.cfg.Strategy
	}
	chain, err := chainFrom(strategy)
	if err != nil {
		return Result{}, err
	}

	before := conversation.SumTokens(msgs)
	for _, s := range chain {
		keep := e.selectKeep(s, msgs, protected, maxTokens)
		r := buildResult(msgs, keep, before)
		r.Requested = strategy
		r.Strategy = s

		if r.AfterTokens > maxTokens {
			continue
		}
		if len(r.Removed) == 0 {
			return Result{}, fmt.Errorf("compress: plan %s: %w (%d of %d tokens used)", strategy, ErrNothingToCompress, before, maxTokens)
		}
		r.QualityScore = quality(s, r, len(msgs))
		return r, nil
	}
	return Result{}, fmt.Errorf("compress: plan %s: %w: %d tokens cannot fit %d without removing preserved or system messages",
		strategy, ErrBudgetExceeded, floorTokens(msgs, protected), maxTokens)
}

func chainFrom(s conversation.Strategy) ([]conversation.Strategy, error) {
	for i, f := range fallback {
		if f == s {
			return fallback[i:], nil
		}
	}
	return nil, fmt.Errorf("compress: %w: unknown strategy %q", ErrInvalidConfig, s)
}

// selectKeep returns, per message index, whether the message survives s.
func (e *Engine) selectKeep(s conversation.Strategy, msgs []conversation.Message, protected map[string]bool, maxTokens int) []bool {
	keep := make([]bool, len(msgs))
	var eligible []int
	for i, m := range msgs {
		if m.Role == conversation.RoleSystem || protected[m.ID] {
			keep[i] = true
			continue
		}
		eligible = append(eligible, i)
	}

	switch s {
	case conversation.StrategyPreservation:
		keepNonSystem(keep, msgs, 0, e.cfg.KeepRecent)
	case conversation.StrategyHybrid:
		keepNonSystem(keep, msgs, e.cfg.HybridHead, e.cfg.HybridTail)
	case conversation.StrategyRemoval:
		for _, i := range eligible {
			keep[i] = true
		}
		// Aim for headroom below the budget; when system and preserved
		// messages alone exceed that, settle for the budget itself.
		target := int(float64(maxTokens) * e.cfg.TargetRatio)
		if floorTokens(msgs, protected) > target {
			target = maxTokens
		}
		total := conversation.SumTokens(msgs)
		for _, i := range eligible {
			if total <= target {
				break
			}
			keep[i] = false
			total -= msgs[i].Tokens
		}
	}
	return keep
}

// keepNonSystem marks the first head and last tail non-system messages.
func keepNonSystem(keep []bool, msgs []conversation.Message, head, tail int) {
	var idx []int
	for i, m := range msgs {
		if m.Role != conversation.RoleSystem {
			idx = append(idx, i)
		}
	}
	for n, i := range idx {
		if n < head || n >= len(idx)-tail {
			keep[i] = true
		}
	}
}

func buildResult(msgs []conversation.Message, keep []bool, before int) Result {
	r := Result{BeforeTokens: before}
	for i, m := range msgs {
		if keep[i] {
			r.Kept = append(r.Kept, m)
			r.AfterTokens += m.Tokens
			continue
		}
		r.Removed = append(r.Removed, m)
		r.RemovedIDs = append(r.RemovedIDs, m.ID)
	}
	return r
}

// quality scores how much conversational value survives; always in [0,1].
func quality(s conversation.Strategy, r Result, total int) float64 {
	switch s {
	case conversation.StrategyPreservation:
		return 0.8
	case conversation.StrategyHybrid:
		retained := 1.0
		if r.BeforeTokens > 0 {
			retained = float64(r.AfterTokens) / float64(r.BeforeTokens)
		}
		return 0.5 + 0.3*retained
	default:
		retained := 1.0
		if total > 0 {
			retained = float64(len(r.Kept)) / float64(total)
		}
		return 0.6 * (0.5 + 0.5*retained)
	}
}

// floorTokens is the smallest achievable total: system and protected only.
func floorTokens(msgs []conversation.Message, protected map[string]bool) int {
	n := 0
	for _, m := range msgs {
		if m.Role == conversation.RoleSystem || protected[m.ID] {
			n += m.Tokens
		}
	}
	return n
}
