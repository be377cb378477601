package heuristics

import (
	"time"

	"github.com/cipherzeroprotocol/solana-guard/internal/config"
	"github.com/cipherzeroprotocol/solana-guard/internal/logger"
)

// Analyzer runs the classification, scoring and pattern heuristics under one
// policy. It holds no per-request state and is safe for concurrent use.
type Analyzer struct {
	policy   config.Policy
	log      *logger.Logger
	now      func() time.Time
	registry *EntityRegistry
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithClock overrides the time source used for account age and timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// WithRegistry attaches a known-entity registry consulted by the scorers.
func WithRegistry(r *EntityRegistry) Option {
	return func(a *Analyzer) { a.registry = r }
}

// NewAnalyzer creates an analyzer. A nil logger discards output.
func NewAnalyzer(policy config.Policy, log *logger.Logger, opts ...Option) *Analyzer {
	a := &Analyzer{
		policy: policy,
		log:    logger.OrNop(log).WithComponent("heuristics"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Policy returns the thresholds the analyzer runs with.
func (a *Analyzer) Policy() config.Policy { return a.policy }

// Registry returns the attached entity registry, possibly nil.
func (a *Analyzer) Registry() *EntityRegistry { return a.registry }
