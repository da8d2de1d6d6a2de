// Package flow implements the chapter-based interview orchestration engine:
// the per-session state machine that walks a user through the question
// catalog, decides between scripted and AI-generated follow-ups, tracks the
// answer token budget, and signals when an episode can be created.
package flow

import (
	"errors"
)

// Default engine configuration
const (
	// DefaultTokenBudget is the cumulative answer-token budget per session.
	DefaultTokenBudget = 8000
	// DefaultMinEpisodeTokens is the minimum collected tokens before an
	// episode may be synthesized from the session.
	DefaultMinEpisodeTokens = 1000
	// DefaultCompletionPercent is the overall-progress gate for episode creation.
	DefaultCompletionPercent = 100
	// DefaultMaxFollowUps caps follow-ups per template when the template
	// does not configure its own limit.
	DefaultMaxFollowUps = 2
)

var (
	// ErrNoEpisodeGate is returned when the configuration disables both
	// episode-eligibility gates; at least one must be evaluated.
	ErrNoEpisodeGate = errors.New("at least one episode gate must be enabled")
)

// Config holds all engine policy knobs. Thresholds are deployment
// configuration, not hard-coded policy; zero values fall back to the
// documented defaults in Normalize.
type Config struct {
	// TokenBudget is the cumulative token budget over the session's answers.
	// When exhausted the session completes early. 0 selects the default;
	// negative disables budget-driven termination.
	TokenBudget int64
	// MinEpisodeTokens is the token gate for episode eligibility.
	MinEpisodeTokens int64
	// CompletionPercent is the overall-progress gate for episode eligibility.
	CompletionPercent int
	// UseProgressGate and UseTokenGate select which eligibility conditions
	// the deployment evaluates. At least one must be enabled.
	UseProgressGate bool
	UseTokenGate    bool
	// MaxFollowUps is the fallback per-template follow-up cap.
	MaxFollowUps int
	// Estimator converts answer text into a token estimate. Defaults to
	// EstimateTokens.
	Estimator TokenEstimator
}

// DefaultConfig returns the engine defaults with both gates enabled.
func DefaultConfig() Config {
	return Config{
		TokenBudget:       DefaultTokenBudget,
		MinEpisodeTokens:  DefaultMinEpisodeTokens,
		CompletionPercent: DefaultCompletionPercent,
		UseProgressGate:   true,
		UseTokenGate:      true,
		MaxFollowUps:      DefaultMaxFollowUps,
		Estimator:         EstimateTokens,
	}
}

// Normalize fills zero values with defaults and validates the gate selection.
func (c *Config) Normalize() error {
	if c.TokenBudget == 0 {
		c.TokenBudget = DefaultTokenBudget
	}
	if c.MinEpisodeTokens == 0 {
		c.MinEpisodeTokens = DefaultMinEpisodeTokens
	}
	if c.CompletionPercent == 0 {
		c.CompletionPercent = DefaultCompletionPercent
	}
	if c.MaxFollowUps <= 0 {
		c.MaxFollowUps = DefaultMaxFollowUps
	}
	if c.Estimator == nil {
		c.Estimator = EstimateTokens
	}
	if !c.UseProgressGate && !c.UseTokenGate {
		return ErrNoEpisodeGate
	}
	return nil
}

// budgetEnabled reports whether budget-driven termination is active.
func (c *Config) budgetEnabled() bool {
	return c.TokenBudget > 0
}

// remainingBudget returns the unconsumed budget, never negative.
func (c *Config) remainingBudget(consumed int64) int64 {
	if !c.budgetEnabled() {
		return 0
	}
	if consumed >= c.TokenBudget {
		return 0
	}
	return c.TokenBudget - consumed
}

// budgetExhausted reports whether the consumed tokens reach the budget.
func (c *Config) budgetExhausted(consumed int64) bool {
	return c.budgetEnabled() && consumed >= c.TokenBudget
}

// maxFollowUpsFor returns the effective follow-up cap for a template limit.
func (c *Config) maxFollowUpsFor(templateLimit int) int {
	if templateLimit > 0 {
		return templateLimit
	}
	return c.MaxFollowUps
}
