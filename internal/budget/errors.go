package budget

import (
	"errors"
	"fmt"

	"github.com/memvra/ctxbudget/internal/compress"
)

// Sentinel errors for state operations.
var (
	// ErrMessageNotFound indicates a remove, update or preserve referenced an
	// absent message ID.
	ErrMessageNotFound = errors.New("message not found")

	// ErrDuplicateMessage indicates an append reused an existing message ID.
	ErrDuplicateMessage = errors.New("duplicate message id")

	// ErrInconsistentState indicates the recomputed token total disagreed with
	// the expected aggregate. It is logged, never returned; the recompute wins.
	ErrInconsistentState = errors.New("inconsistent token accounting")

	// ErrBudgetExceededAfterCompression indicates no strategy could fit the
	// transcript into the budget without removing preserved messages.
	ErrBudgetExceededAfterCompression = compress.ErrBudgetExceeded

	// ErrInvalidMessage indicates a message with an unknown role.
	ErrInvalidMessage = errors.New("invalid message")
)

// Error adds operation context to a state error.
type Error struct {
	// Op is the operation that failed (e.g. "Remove", "Compress").
	Op string

	// ID is the message or warning ID involved, if any.
	ID string

	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	msg := "budget: " + e.Op
	if e.ID != "" {
		msg += fmt.Sprintf(" %q", e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

func opError(op, id string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, ID: id, Err: err}
}
