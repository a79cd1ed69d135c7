// Package budget owns a conversation transcript and its token accounting,
// raising warnings and compressing as the context budget fills.
package budget

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memvra/ctxbudget/internal/compress"
	"github.com/memvra/ctxbudget/internal/conversation"
	"github.com/memvra/ctxbudget/internal/tokens"
	"github.com/memvra/ctxbudget/internal/warning"
)

// Config configures a State.
type Config struct {
	// Model selects the token estimation rules.
	Model string

	// MaxTokens is the hard budget. Zero uses the model's context window.
	MaxTokens int

	// Thresholds for warning levels. Zero value uses the defaults.
	Thresholds warning.Thresholds

	// Compression settings. Zero fields use the defaults.
	Compression compress.Config

	// Estimator is shared between states when set; otherwise each State
	// creates its own.
	Estimator *tokens.Estimator

	// OnWarning is called after a mutation for every newly raised warning.
	// It runs outside the state lock and may call back into the State.
	OnWarning func(warning.Warning)

	// Logger for diagnostics.
	Logger *slog.Logger
}

// State is one conversation's canonical transcript. Every method runs as a
// single critical section, so token totals and messages are never observed
// out of step. Readers receive copies.
type State struct {
	mu sync.Mutex

	model      string
	maxTokens  int
	messages   []conversation.Message
	tokenCount int

	estimator *tokens.Estimator
	escalator *warning.Escalator
	engine    *compress.Engine
	registry  *conversation.Registry
	history   *conversation.History

	logger    *slog.Logger
	onWarning func(warning.Warning)
	pending   []warning.Warning
	now       func() time.Time
}

// New creates an empty State.
func New(cfg Config) (*State, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Thresholds == (warning.Thresholds{}) {
		cfg.Thresholds = warning.DefaultThresholds()
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = tokens.ContextWindow(cfg.Model)
	}
	if cfg.MaxTokens < 0 {
		return nil, fmt.Errorf("budget: max tokens must be positive, got %d", cfg.MaxTokens)
	}
	if cfg.Estimator == nil {
		cfg.Estimator = tokens.NewEstimator(cfg.Model, tokens.WithLogger(cfg.Logger))
	}

	esc, err := warning.NewEscalator(cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("budget: %w", err)
	}
	engine, err := compress.NewEngine(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("budget: %w", err)
	}

	s := &State{
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		estimator: cfg.Estimator,
		escalator: esc,
		engine:    engine,
		registry:  conversation.NewRegistry(),
		history:   conversation.NewHistory(),
		logger:    cfg.Logger,
		onWarning: cfg.OnWarning,
		now:       func() time.Time { return time.Now().UTC() },
	}
	esc.OnRaise(func(w warning.Warning) { s.pending = append(s.pending, w) })
	return s, nil
}

// unlock releases the lock and delivers warnings raised while it was held.
func (s *State) unlock() {
	raised := s.pending
	s.pending = nil
	s.mu.Unlock()
	if s.onWarning == nil {
		return
	}
	for _, w := range raised {
		s.onWarning(w)
	}
}

// Append adds msg to the end of the transcript. A missing ID or timestamp is
// assigned; a non-positive Tokens value is estimated from the content
// including per-message framing overhead. The stored message is returned.
func (s *State) Append(msg conversation.Message) (conversation.Message, error) {
	s.mu.Lock()
	defer s.unlock()

	if msg.Role == "" {
		msg.Role = conversation.RoleUser
	}
	if !conversation.ValidRole(msg.Role) {
		return conversation.Message{}, opError("Append", msg.ID, fmt.Errorf("%w: role %q", ErrInvalidMessage, msg.Role))
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	} else if s.indexOf(msg.ID) >= 0 {
		return conversation.Message{}, opError("Append", msg.ID, ErrDuplicateMessage)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	if msg.Tokens <= 0 {
		msg.Tokens = s.estimate(msg.Content)
	}

	expected := s.tokenCount + msg.Tokens
	s.messages = append(s.messages, msg)
	s.commit("Append", expected)
	return msg, nil
}

// Remove deletes the message with the given ID.
func (s *State) Remove(id string) error {
	s.mu.Lock()
	defer s.unlock()

	i := s.indexOf(id)
	if i < 0 {
		return opError("Remove", id, ErrMessageNotFound)
	}
	expected := s.tokenCount - s.messages[i].Tokens
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	s.commit("Remove", expected)
	return nil
}

// Update applies p to the message with the given ID and recomputes its
// token estimate.
func (s *State) Update(id string, p conversation.Patch) (conversation.Message, error) {
	s.mu.Lock()
	defer s.unlock()

	i := s.indexOf(id)
	if i < 0 {
		return conversation.Message{}, opError("Update", id, ErrMessageNotFound)
	}
	m := s.messages[i]
	if p.Role != nil {
		if !conversation.ValidRole(*p.Role) {
			return conversation.Message{}, opError("Update", id, fmt.Errorf("%w: role %q", ErrInvalidMessage, *p.Role))
		}
		m.Role = *p.Role
	}
	if p.Content != nil {
		m.Content = *p.Content
	}
	old := m.Tokens
	m.Tokens = s.estimate(m.Content)

	s.messages[i] = m
	s.commit("Update", s.tokenCount-old+m.Tokens)
	return m, nil
}

// Reset clears messages, token count and active warnings. Compression
// history and preserved sections are kept.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.unlock()

	s.messages = nil
	s.escalator.Clear()
	s.commit("Reset", 0)
}

// Compress applies strategy (empty for the configured default) and records
// the event. If no strategy can fit the budget the transcript is left
// untouched, a critical "export and clear" warning is raised, and an error
// wrapping ErrBudgetExceededAfterCompression is returned.
func (s *State) Compress(strategy conversation.Strategy) (conversation.CompressionEvent, error) {
	s.mu.Lock()
	defer s.unlock()

	plan, err := s.engine.Plan(s.messages, s.registry.Covered(s.messages), s.maxTokens, strategy)
	if err != nil {
		if errors.Is(err, compress.ErrBudgetExceeded) {
			w := s.escalator.RaiseExhausted(s.snapshot())
			s.logger.Warn("compression cannot reach budget",
				"tokens", s.tokenCount, "max_tokens", s.maxTokens, "warning_id", w.ID)
		}
		return conversation.CompressionEvent{}, opError("Compress", "", err)
	}

	s.messages = plan.Kept
	s.reconcile("Compress", plan.AfterTokens)
	event := s.history.Append(plan.Event())
	s.escalator.Clear()

	s.logger.Info("context compressed",
		"strategy", event.Strategy,
		"requested", plan.Requested,
		"before", event.BeforeTokens,
		"after", event.AfterTokens,
		"removed", len(event.RemovedMessageIDs),
		"quality", event.QualityScore)
	return event, nil
}

// PlanCompression returns what Compress would do without changing anything.
func (s *State) PlanCompression(strategy conversation.Strategy) (compress.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Plan(s.messages, s.registry.Covered(s.messages), s.maxTokens, strategy)
}

// DismissWarning removes the active warning with the given ID. Dismissing an
// unknown or already dismissed ID is a no-op that reports false.
func (s *State) DismissWarning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.escalator.Dismiss(id)
}

// Preserve pins messages startID..endID against compression. Both endpoints
// must currently exist; an empty endID pins startID alone.
func (s *State) Preserve(startID, endID, reason string) (conversation.PreservedSection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(startID) < 0 {
		return conversation.PreservedSection{}, opError("Preserve", startID, ErrMessageNotFound)
	}
	if endID != "" && s.indexOf(endID) < 0 {
		return conversation.PreservedSection{}, opError("Preserve", endID, ErrMessageNotFound)
	}
	return s.registry.Add(startID, endID, reason)
}

// Unpreserve deletes a preserved section.
func (s *State) Unpreserve(sectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return opError("Unpreserve", sectionID, s.registry.Remove(sectionID))
}

// PreservedSections lists preserved sections in insertion order.
func (s *State) PreservedSections() []conversation.PreservedSection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.List()
}

// ProtectedIDs returns the IDs of messages currently covered by a preserved
// section.
func (s *State) ProtectedIDs() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Covered(s.messages)
}

// History returns the compression events, oldest first.
func (s *State) History() []conversation.CompressionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Events()
}

// Warnings returns the active warnings from least to most severe.
func (s *State) Warnings() []warning.Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.escalator.Active()
}

// SetModel switches the estimation rules and re-estimates every message.
func (s *State) SetModel(model string) {
	s.mu.Lock()
	defer s.unlock()

	s.model = model
	s.estimator.SetModel(model)
	total := 0
	for i := range s.messages {
		s.messages[i].Tokens = s.estimate(s.messages[i].Content)
		total += s.messages[i].Tokens
	}
	s.commit("SetModel", total)
}

// SetMaxTokens changes the budget and re-evaluates warnings.
func (s *State) SetMaxTokens(n int) error {
	if n <= 0 {
		return fmt.Errorf("budget: max tokens must be positive, got %d", n)
	}
	s.mu.Lock()
	defer s.unlock()

	s.maxTokens = n
	s.commit("SetMaxTokens", s.tokenCount)
	return nil
}

// Messages returns a copy of the transcript in chronological order.
func (s *State) Messages() []conversation.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]conversation.Message(nil), s.messages...)
}

// Message returns the message with the given ID.
func (s *State) Message(id string) (conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return conversation.Message{}, opError("Message", id, ErrMessageNotFound)
	}
	return s.messages[i], nil
}

// Len returns the number of messages.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// TokenCount returns the current token total.
func (s *State) TokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenCount
}

// MaxTokens returns the budget.
func (s *State) MaxTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxTokens
}

// Model returns the active model ID.
func (s *State) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Utilization returns tokenCount / maxTokens.
func (s *State) Utilization() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot().Utilization
}

// Fits reports whether the transcript is within budget.
func (s *State) Fits() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenCount <= s.maxTokens
}

// Estimator returns the estimator used for new messages.
func (s *State) Estimator() *tokens.Estimator {
	return s.estimator
}

// estimate prices content as one framed message under the active model.
func (s *State) estimate(content string) int {
	return s.estimator.MessageOverhead(s.model) + s.estimator.EstimateForModel(content, s.model)
}

func (s *State) indexOf(id string) int {
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// commit re-establishes the accounting invariants after a mutation and then
// evaluates warnings.
func (s *State) commit(op string, expected int) {
	s.reconcile(op, expected)
	s.escalator.Evaluate(s.snapshot())
}

// reconcile resums the transcript. expected is the total the caller derived
// incrementally; a mismatch with the full resum is logged and the resum wins.
func (s *State) reconcile(op string, expected int) {
	total := conversation.SumTokens(s.messages)
	if total != expected {
		s.logger.Error("token accounting drift corrected",
			"op", op, "err", ErrInconsistentState, "expected", expected, "actual", total)
	}
	s.tokenCount = total

	seen := make(map[string]bool, len(s.messages))
	for _, m := range s.messages {
		if seen[m.ID] {
			s.logger.Error("duplicate message id in transcript", "op", op, "id", m.ID, "err", ErrInconsistentState)
		}
		seen[m.ID] = true
	}
	s.logger.Debug("context updated", "op", op, "tokens", s.tokenCount, "max_tokens", s.maxTokens, "messages", len(s.messages))
}

// Usage returns token count, budget, utilization and message count read
// together.
func (s *State) Usage() warning.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *State) snapshot() warning.Snapshot {
	return warning.NewSnapshot(s.tokenCount, s.maxTokens, len(s.messages))
}
