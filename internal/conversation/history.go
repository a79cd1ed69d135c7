package conversation

import (
	"time"

	"github.com/google/uuid"
)

// CompressionEvent records one successful compression.
type CompressionEvent struct {
	ID                string    `json:"id" yaml:"id"`
	Timestamp         time.Time `json:"timestamp" yaml:"timestamp"`
	BeforeTokens      int       `json:"before_tokens" yaml:"before_tokens"`
	AfterTokens       int       `json:"after_tokens" yaml:"after_tokens"`
	RemovedMessageIDs []string  `json:"removed_message_ids" yaml:"removed_message_ids"`
	Strategy          Strategy  `json:"strategy" yaml:"strategy"`
	QualityScore      float64   `json:"quality_score" yaml:"quality_score"`
}

// TokensSaved returns BeforeTokens - AfterTokens.
func (e CompressionEvent) TokensSaved() int {
	return e.BeforeTokens - e.AfterTokens
}

func (e CompressionEvent) clone() CompressionEvent {
	e.RemovedMessageIDs = append([]string(nil), e.RemovedMessageIDs...)
	return e
}

// History is an append-only log of compression events. Events cannot be
// modified or deleted once appended. It is not safe for concurrent use.
type History struct {
	events []CompressionEvent
}

// NewHistory creates an empty History.
func NewHistory() *History {
	return &History{}
}

// Append stores a copy of e, filling in ID and Timestamp when unset, and
// returns the stored event.
func (h *History) Append(e CompressionEvent) CompressionEvent {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e = e.clone()
	h.events = append(h.events, e)
	return e.clone()
}

// Events returns copies of all events, oldest first.
func (h *History) Events() []CompressionEvent {
	out := make([]CompressionEvent, len(h.events))
	for i, e := range h.events {
		out[i] = e.clone()
	}
	return out
}

// Len returns the number of recorded events.
func (h *History) Len() int { return len(h.events) }

// Last returns the most recent event.
func (h *History) Last() (CompressionEvent, bool) {
	if len(h.events) == 0 {
		return CompressionEvent{}, false
	}
	return h.events[len(h.events)-1].clone(), true
}

// TotalTokensSaved sums TokensSaved over every event.
func (h *History) TotalTokensSaved() int {
	total := 0
	for _, e := range h.events {
		total += e.TokensSaved()
	}
	return total
}
