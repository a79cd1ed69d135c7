package conversation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrSectionNotFound is returned when a preserved section ID is unknown.
var ErrSectionNotFound = errors.New("preserved section not found")

// PreservedSection pins a message, or a contiguous range of messages, against
// compression. StartID and EndID are equal for a single message.
type PreservedSection struct {
	ID        string    `json:"id" yaml:"id"`
	StartID   string    `json:"start_id" yaml:"start_id"`
	EndID     string    `json:"end_id" yaml:"end_id"`
	Reason    string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Registry holds preserved sections in insertion order. It is not safe for
// concurrent use; the owning state serialises access.
type Registry struct {
	sections []PreservedSection
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add pins the range startID..endID. An empty endID pins startID alone.
func (r *Registry) Add(startID, endID, reason string) (PreservedSection, error) {
	if startID == "" {
		return PreservedSection{}, fmt.Errorf("conversation: preserve: start message id is required")
	}
	if endID == "" {
		endID = startID
	}
	s := PreservedSection{
		ID:        uuid.NewString(),
		StartID:   startID,
		EndID:     endID,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	r.sections = append(r.sections, s)
	return s, nil
}

// Restore re-inserts a previously listed section, keeping its ID. Sections
// without an ID or start are given one or ignored respectively.
func (r *Registry) Restore(s PreservedSection) {
	if s.StartID == "" {
		return
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.EndID == "" {
		s.EndID = s.StartID
	}
	r.sections = append(r.sections, s)
}

// Remove deletes the section with the given ID.
func (r *Registry) Remove(id string) error {
	for i, s := range r.sections {
		if s.ID == id {
			r.sections = append(r.sections[:i], r.sections[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("conversation: unpreserve %q: %w", id, ErrSectionNotFound)
}

// List returns a copy of all sections in insertion order.
func (r *Registry) List() []PreservedSection {
	out := make([]PreservedSection, len(r.sections))
	copy(out, r.sections)
	return out
}

// Len returns the number of sections.
func (r *Registry) Len() int { return len(r.sections) }

// Covered resolves every section against msgs and returns the set of
// protected message IDs. Ranges follow message order regardless of which
// endpoint was given first. A section whose endpoint has been removed
// shrinks to the endpoint still present; one with neither endpoint present
// protects nothing.
func (r *Registry) Covered(msgs []Message) map[string]bool {
	covered := make(map[string]bool)
	if len(r.sections) == 0 || len(msgs) == 0 {
		return covered
	}

	index := make(map[string]int, len(msgs))
	for i, m := range msgs {
		index[m.ID] = i
	}

	for _, s := range r.sections {
		start, okStart := index[s.StartID]
		end, okEnd := index[s.EndID]
		switch {
		case okStart && okEnd:
		case okStart:
			end = start
		case okEnd:
			start = end
		default:
			continue
		}
		if start > end {
			start, end = end, start
		}
		for i := start; i <= end; i++ {
			covered[msgs[i].ID] = true
		}
	}
	return covered
}
