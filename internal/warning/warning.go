// Package warning raises leveled context-budget warnings as utilization
// crosses configurable thresholds.
package warning

import (
	"fmt"
	"time"

	"github.com/memvra/ctxbudget/internal/conversation"
)

// Level is the severity of a warning.
type Level string

const (
	LevelNotice   Level = "notice"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Levels lists every level from least to most severe.
var Levels = []Level{LevelNotice, LevelWarning, LevelCritical}

// Rank orders levels; unknown levels rank below notice.
func (l Level) Rank() int {
	switch l {
	case LevelNotice:
		return 1
	case LevelWarning:
		return 2
	case LevelCritical:
		return 3
	}
	return 0
}

// ParseLevel returns the Level named by s.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if l.Rank() == 0 {
		return "", fmt.Errorf("warning: unknown level %q", s)
	}
	return l, nil
}

// Action is a suggested response to a warning.
type Action string

const (
	ActionCompress       Action = "compress"
	ActionPreserve       Action = "preserve"
	ActionDismiss        Action = "dismiss"
	ActionExport         Action = "export"
	ActionReset          Action = "reset"
	ActionExportAndClear Action = "export_and_clear"
)

// Thresholds are utilization ratios at which each level is raised.
type Thresholds struct {
	Notice   float64 `json:"notice" toml:"notice"`
	Warning  float64 `json:"warning" toml:"warning"`
	Critical float64 `json:"critical" toml:"critical"`
}

// DefaultThresholds returns 0.75 / 0.85 / 0.95.
func DefaultThresholds() Thresholds {
	return Thresholds{Notice: 0.75, Warning: 0.85, Critical: 0.95}
}

// Validate checks that each threshold lies in (0,1) and that they strictly
// increase.
func (t Thresholds) Validate() error {
	for _, l := range Levels {
		v := t.For(l)
		if v <= 0 || v >= 1 {
			return fmt.Errorf("warning: %s threshold must be in (0,1), got %g", l, v)
		}
	}
	if !(t.Notice < t.Warning && t.Warning < t.Critical) {
		return fmt.Errorf("warning: thresholds must strictly increase, got %g / %g / %g", t.Notice, t.Warning, t.Critical)
	}
	return nil
}

// For returns the threshold of level l.
func (t Thresholds) For(l Level) float64 {
	switch l {
	case LevelNotice:
		return t.Notice
	case LevelWarning:
		return t.Warning
	case LevelCritical:
		return t.Critical
	}
	return 0
}

// CompressionEstimate is the projected effect of compressing now.
type CompressionEstimate struct {
	RemovedCount int                   `json:"removed_count" yaml:"removed_count"`
	TokensSaved  int                   `json:"tokens_saved" yaml:"tokens_saved"`
	QualityLoss  float64               `json:"quality_loss" yaml:"quality_loss"`
	Strategy     conversation.Strategy `json:"strategy" yaml:"strategy"`
}

// Snapshot captures the budget at the moment a warning was raised.
type Snapshot struct {
	CurrentTokens       int                 `json:"current_tokens" yaml:"current_tokens"`
	MaxTokens           int                 `json:"max_tokens" yaml:"max_tokens"`
	Utilization         float64             `json:"utilization" yaml:"utilization"`
	MessageCount        int                 `json:"message_count" yaml:"message_count"`
	CompressionEstimate CompressionEstimate `json:"compression_estimate" yaml:"compression_estimate"`
}

// NewSnapshot computes utilization from the raw counts. A non-positive
// maxTokens yields zero utilization.
func NewSnapshot(tokens, maxTokens, messages int) Snapshot {
	s := Snapshot{CurrentTokens: tokens, MaxTokens: maxTokens, MessageCount: messages}
	if maxTokens > 0 {
		s.Utilization = float64(tokens) / float64(maxTokens)
	}
	return s
}

// Warning is a raised budget warning.
type Warning struct {
	ID               string    `json:"id" yaml:"id"`
	Level            Level     `json:"level" yaml:"level"`
	Title            string    `json:"title" yaml:"title"`
	Message          string    `json:"message" yaml:"message"`
	SuggestedActions []Action  `json:"suggested_actions" yaml:"suggested_actions"`
	Snapshot         Snapshot  `json:"snapshot" yaml:"snapshot"`
	CreatedAt        time.Time `json:"created_at" yaml:"created_at"`
}
