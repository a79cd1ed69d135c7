// Package conversation defines the transcript data model shared by the
// budget, warning and compression packages.
package conversation

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ValidRole returns true if r is a recognised role.
func ValidRole(r Role) bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ParseRole normalises s into a Role. Aliases used by some transcript
// formats, such as "human", "model" and "developer", are accepted.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case "human":
		return RoleUser, nil
	case "model", "ai":
		return RoleAssistant, nil
	case "function":
		return RoleTool, nil
	case "developer":
		return RoleSystem, nil
	default:
		if ValidRole(r) {
			return r, nil
		}
	}
	return "", fmt.Errorf("conversation: unknown role %q", s)
}

// Message is a single transcript entry. Tokens caches the estimate of
// Content; a value of zero means "not yet estimated".
type Message struct {
	ID        string    `json:"id" yaml:"id"`
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Tokens    int       `json:"tokens" yaml:"tokens"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Patch describes an explicit update to a message. Nil fields are left
// unchanged.
type Patch struct {
	Role    *Role
	Content *string
}

// SumTokens returns the total cached token count of msgs.
func SumTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += m.Tokens
	}
	return total
}

// Strategy names a compression policy.
type Strategy string

const (
	// StrategyRemoval drops the oldest eligible messages until under budget.
	StrategyRemoval Strategy = "removal"

	// StrategyPreservation keeps system messages plus the most recent
	// non-system messages.
	StrategyPreservation Strategy = "preservation"

	// StrategyHybrid keeps a head and a tail and drops the middle.
	StrategyHybrid Strategy = "hybrid"
)

// DefaultStrategy is used when no strategy is requested.
const DefaultStrategy = StrategyPreservation

// ParseStrategy returns the Strategy named by s. An empty string yields
// DefaultStrategy.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return DefaultStrategy, nil
	case StrategyRemoval, StrategyPreservation, StrategyHybrid:
		return st, nil
	}
	return "", fmt.Errorf("conversation: unknown strategy %q (valid: removal, preservation, hybrid)", s)
}
