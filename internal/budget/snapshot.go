package budget

import (
	"fmt"
	"time"

	"github.com/memvra/ctxbudget/internal/conversation"
	"github.com/memvra/ctxbudget/internal/warning"
)

// Snapshot is a serialisable copy of a State.
type Snapshot struct {
	Model             string                          `json:"model" yaml:"model"`
	MaxTokens         int                             `json:"max_tokens" yaml:"max_tokens"`
	TokenCount        int                             `json:"token_count" yaml:"token_count"`
	Utilization       float64                         `json:"utilization" yaml:"utilization"`
	Thresholds        warning.Thresholds              `json:"thresholds" yaml:"thresholds"`
	Messages          []conversation.Message          `json:"messages" yaml:"messages"`
	Warnings          []warning.Warning               `json:"warnings" yaml:"warnings"`
	PreservedSections []conversation.PreservedSection `json:"preserved_sections" yaml:"preserved_sections"`
	History           []conversation.CompressionEvent `json:"compression_history" yaml:"compression_history"`
	ExportedAt        time.Time                       `json:"exported_at" yaml:"exported_at"`
}

// Export returns a consistent snapshot of the whole state.
func (s *State) Export() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	return Snapshot{
		Model:             s.model,
		MaxTokens:         s.maxTokens,
		TokenCount:        s.tokenCount,
		Utilization:       snap.Utilization,
		Thresholds:        s.escalator.Thresholds(),
		Messages:          append([]conversation.Message(nil), s.messages...),
		Warnings:          s.escalator.Active(),
		PreservedSections: s.registry.List(),
		History:           s.history.Events(),
		ExportedAt:        s.now(),
	}
}

// Restore loads messages, preserved sections and compression history from
// snap into an empty State. Warnings are re-derived rather than copied.
func (s *State) Restore(snap Snapshot) error {
	s.mu.Lock()
	defer s.unlock()

	if len(s.messages) > 0 || s.history.Len() > 0 || s.registry.Len() > 0 {
		return fmt.Errorf("budget: restore: state is not empty")
	}

	seen := make(map[string]bool, len(snap.Messages))
	msgs := make([]conversation.Message, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		if m.ID == "" || seen[m.ID] {
			return opError("Restore", m.ID, ErrDuplicateMessage)
		}
		if !conversation.ValidRole(m.Role) {
			return opError("Restore", m.ID, fmt.Errorf("%w: role %q", ErrInvalidMessage, m.Role))
		}
		seen[m.ID] = true
		if m.Tokens <= 0 {
			m.Tokens = s.estimate(m.Content)
		}
		msgs = append(msgs, m)
	}

	for _, p := range snap.PreservedSections {
		s.registry.Restore(p)
	}
	for _, e := range snap.History {
		s.history.Append(e)
	}
	s.messages = msgs
	s.commit("Restore", conversation.SumTokens(msgs))
	return nil
}
