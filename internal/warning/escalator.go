package warning

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/memvra/ctxbudget/internal/conversation"
)

// profile is the per-level compression estimate and wording.
type profile struct {
	fraction    float64
	qualityLoss float64
	strategy    conversation.Strategy
	title       string
	actions     []Action
}

var profiles = map[Level]profile{
	LevelNotice: {
		fraction:    0.20,
		qualityLoss: 0.10,
		strategy:    conversation.StrategyPreservation,
		title:       "Context filling up",
		actions:     []Action{ActionCompress, ActionPreserve, ActionDismiss},
	},
	LevelWarning: {
		fraction:    0.30,
		qualityLoss: 0.20,
		strategy:    conversation.StrategyHybrid,
		title:       "Context nearly full",
		actions:     []Action{ActionCompress, ActionPreserve, ActionExport},
	},
	LevelCritical: {
		fraction:    0.50,
		qualityLoss: 0.35,
		strategy:    conversation.StrategyRemoval,
		title:       "Context almost exhausted",
		actions:     []Action{ActionCompress, ActionExportAndClear, ActionReset},
	},
}

// EstimateFor projects what compressing at level l would remove from s.
func EstimateFor(l Level, s Snapshot) CompressionEstimate {
	p, ok := profiles[l]
	if !ok {
		return CompressionEstimate{}
	}
	return CompressionEstimate{
		RemovedCount: int(math.Ceil(float64(s.MessageCount) * p.fraction)),
		TokensSaved:  int(math.Ceil(float64(s.CurrentTokens) * p.fraction)),
		QualityLoss:  p.qualityLoss,
		Strategy:     p.strategy,
	}
}

// Escalator holds at most one active warning per level. Warnings stay active
// until dismissed or cleared, even if utilization later falls. It is not safe
// for concurrent use; the owning state serialises access.
type Escalator struct {
	thresholds Thresholds
	active     map[Level]Warning
	onRaise    func(Warning)
	now        func() time.Time
}

// NewEscalator creates an Escalator. Invalid thresholds are rejected.
func NewEscalator(t Thresholds) (*Escalator, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Escalator{
		thresholds: t,
		active:     make(map[Level]Warning),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Thresholds returns the configured thresholds.
func (e *Escalator) Thresholds() Thresholds { return e.thresholds }

// OnRaise registers a callback invoked whenever a level becomes active.
func (e *Escalator) OnRaise(fn func(Warning)) {
	e.onRaise = fn
}

// Evaluate upserts a warning for every level whose threshold s meets and
// returns the warnings for levels that were not active before the call.
// Levels already active are refreshed in place and keep their ID.
func (e *Escalator) Evaluate(s Snapshot) []Warning {
	if s.MaxTokens <= 0 {
		return nil
	}
	var raised []Warning
	for _, l := range Levels {
		if s.Utilization < e.thresholds.For(l) {
			continue
		}
		prev, wasActive := e.active[l]
		w := e.build(l, s)
		if wasActive {
			w.ID, w.CreatedAt = prev.ID, prev.CreatedAt
		}
		e.active[l] = w
		if !wasActive {
			raised = append(raised, w)
			if e.onRaise != nil {
				e.onRaise(w)
			}
		}
	}
	return raised
}

// RaiseExhausted replaces the critical warning with one stating that no
// compression strategy can reach the budget.
func (e *Escalator) RaiseExhausted(s Snapshot) Warning {
	w := Warning{
		ID:    uuid.NewString(),
		Level: LevelCritical,
		Title: "Context budget exhausted",
		Message: fmt.Sprintf("No compression strategy fits %d tokens into the %d-token budget without dropping preserved messages. Export the conversation and start fresh.",
			s.CurrentTokens, s.MaxTokens),
		SuggestedActions: []Action{ActionExportAndClear},
		Snapshot:         s,
		CreatedAt:        e.now(),
	}
	e.active[LevelCritical] = w
	if e.onRaise != nil {
		e.onRaise(w)
	}
	return w
}

// Dismiss removes the active warning with the given ID. It reports whether a
// warning was removed; dismissing an unknown ID is a no-op.
func (e *Escalator) Dismiss(id string) bool {
	for l, w := range e.active {
		if w.ID == id {
			delete(e.active, l)
			return true
		}
	}
	return false
}

// Clear removes every active warning.
func (e *Escalator) Clear() {
	clear(e.active)
}

// Active returns the active warnings ordered from least to most severe.
func (e *Escalator) Active() []Warning {
	out := make([]Warning, 0, len(e.active))
	for _, w := range e.active {
		out = append(out, cloneWarning(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level.Rank() < out[j].Level.Rank() })
	return out
}

// Get returns the active warning at level l.
func (e *Escalator) Get(l Level) (Warning, bool) {
	w, ok := e.active[l]
	if !ok {
		return Warning{}, false
	}
	return cloneWarning(w), true
}

func (e *Escalator) build(l Level, s Snapshot) Warning {
	p := profiles[l]
	s.CompressionEstimate = EstimateFor(l, s)
	return Warning{
		ID:    uuid.NewString(),
		Level: l,
		Title: p.title,
		Message: fmt.Sprintf("Conversation uses %d of %d tokens (%.0f%%). Compressing with %s would free about %d tokens across %d messages.",
			s.CurrentTokens, s.MaxTokens, s.Utilization*100, p.strategy,
			s.CompressionEstimate.TokensSaved, s.CompressionEstimate.RemovedCount),
		SuggestedActions: append([]Action(nil), p.actions...),
		Snapshot:         s,
		CreatedAt:        e.now(),
	}
}

func cloneWarning(w Warning) Warning {
	w.SuggestedActions = append([]Action(nil), w.SuggestedActions...)
	return w
}
