package compress

import (
	"errors"
	"fmt"

	"github.com/memvra/ctxbudget/internal/conversation"
)

// Default values for Config fields.
const (
	DefaultKeepRecent  = 10
	DefaultHybridHead  = 2
	DefaultHybridTail  = 6
	DefaultTargetRatio = 0.7
)

// ErrInvalidConfig indicates an unusable compression configuration.
var ErrInvalidConfig = errors.New("invalid compression configuration")

// Config tunes the compression strategies.
type Config struct {
	// Strategy is used when the caller does not name one.
	// Default: preservation
	Strategy conversation.Strategy `toml:"strategy"`

	// KeepRecent is the number of newest non-system messages the
	// preservation strategy keeps.
	// Default: 10
	KeepRecent int `toml:"keep_recent"`

	// HybridHead and HybridTail are the non-system messages the hybrid
	// strategy keeps from the start and end of the transcript.
	// Default: 2 and 6
	HybridHead int `toml:"hybrid_head"`
	HybridTail int `toml:"hybrid_tail"`

	// TargetRatio is the fraction of the budget removal aims for, leaving
	// headroom for the next exchange.
	// Default: 0.7
	TargetRatio float64 `toml:"target_ratio"`
}

// DefaultConfig returns the default compression settings.
func DefaultConfig() Config {
	return Config{
		Strategy:    conversation.DefaultStrategy,
		KeepRecent:  DefaultKeepRecent,
		HybridHead:  DefaultHybridHead,
		HybridTail:  DefaultHybridTail,
		TargetRatio: DefaultTargetRatio,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Strategy == "" {
		c.Strategy = conversation.DefaultStrategy
	}
	if c.KeepRecent == 0 {
		c.KeepRecent = DefaultKeepRecent
	}
	if c.HybridHead == 0 {
		c.HybridHead = DefaultHybridHead
	}
	if c.HybridTail == 0 {
		c.HybridTail = DefaultHybridTail
	}
	if c.TargetRatio == 0 {
		c.TargetRatio = DefaultTargetRatio
	}
}

// Validate returns an error if the configuration is unusable.
func (c Config) Validate() error {
	if _, err := conversation.ParseStrategy(string(c.Strategy)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.KeepRecent < 0 {
		return fmt.Errorf("%w: keep_recent must be non-negative, got %d", ErrInvalidConfig, c.KeepRecent)
	}
	if c.HybridHead < 0 || c.HybridTail < 0 {
		return fmt.Errorf("%w: hybrid_head and hybrid_tail must be non-negative, got %d and %d",
			ErrInvalidConfig, c.HybridHead, c.HybridTail)
	}
	if c.TargetRatio <= 0 || c.TargetRatio > 1 {
		return fmt.Errorf("%w: target_ratio must be in (0,1], got %g", ErrInvalidConfig, c.TargetRatio)
	}
	return nil
}
