package matcher

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MatchingConfig controls the staged matching rules.
type MatchingConfig struct {
	// AmountTolerance is the absolute tolerance used by the phone+amount
	// stage. The default is zero: a non-zero tolerance can silently lose
	// money on near-miss matches, so widening it is an explicit operator
	// decision.
	AmountTolerance decimal.Decimal `json:"amount_tolerance"`

	// MaxAmbiguousCandidates caps how many candidate ids an ambiguous
	// decision carries; the full count is still reported.
	MaxAmbiguousCandidates int `json:"max_ambiguous_candidates"`
}

// DefaultMatchingConfig returns the standard configuration: exact amounts
// only, up to ten reported ambiguity candidates.
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountTolerance:        decimal.Zero,
		MaxAmbiguousCandidates: 10,
	}
}

// StrictMatchingConfig is DefaultMatchingConfig with a tighter ambiguity cap,
// for reports consumed by humans.
func StrictMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountTolerance:        decimal.Zero,
		MaxAmbiguousCandidates: 3,
	}
}

// Validate checks configuration invariants.
func (c *MatchingConfig) Validate() error {
	if c.AmountTolerance.IsNegative() {
		return fmt.Errorf("amount tolerance cannot be negative, got %s", c.AmountTolerance.String())
	}
	if c.MaxAmbiguousCandidates < 1 {
		return fmt.Errorf("max ambiguous candidates must be at least 1, got %d", c.MaxAmbiguousCandidates)
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *MatchingConfig) Clone() *MatchingConfig {
	clone := *c
	return &clone
}
