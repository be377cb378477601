package heuristics

import (
	"time"

	"github.com/cipherzeroprotocol/solana-guard/internal/config"
	"github.com/cipherzeroprotocol/solana-guard/internal/logger"
	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestAnalyzer(opts ...Option) *Analyzer {
	return newTestAnalyzerWithPolicy(config.DefaultPolicy(), opts...)
}

func newTestAnalyzerWithPolicy(policy config.Policy, opts ...Option) *Analyzer {
	all := append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewAnalyzer(policy, logger.Nop(), all...)
}

func factorNames(factors []models.RiskFactor) []string {
	names := make([]string, len(factors))
	for i, f := range factors {
		names[i] = f.Name
	}
	return names
}
