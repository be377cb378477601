package heuristics

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/cipherzeroprotocol/solana-guard/internal/solana"
	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

// TransactionRiskInput carries everything the transaction scorer looks at.
// SignerHistory holds block times of other transactions by the same signer.
type TransactionRiskInput struct {
	Transaction   models.Transaction   `json:"transaction"`
	AddressScores map[string]float64   `json:"addressScores,omitempty"`
	TokenScores   map[string]float64   `json:"tokenScores,omitempty"`
	SignerHistory []int64              `json:"signerHistory,omitempty"`
	External      *models.ExternalRisk `json:"external,omitempty"`
}

// ScoreTransaction computes the weighted transaction risk score.
func (a *Analyzer) ScoreTransaction(in TransactionRiskInput) models.RiskScoreResult {
	sc := newScoreCard(a.policy.TransactionWeights)
	tx := in.Transaction

	a.scoreInvolvedEntities(sc, in)

	// Amount
	if len(tx.BalanceChanges) > 0 {
		var value float64
		for _, c := range tx.BalanceChanges {
			tokenRisk := in.TokenScores[c.Mint]
			value += math.Abs(c.Post-c.Pre) * (1 + tokenRisk/100)
		}
		switch {
		case value > 100000:
			sc.add("transaction_amount", "very_high_value", "medium",
				fmt.Sprintf("Very high value transaction (%.2f)", value), 60)
		case value > 10000:
			sc.add("transaction_amount", "high_value", "low",
				fmt.Sprintf("High value transaction (%.2f)", value), 30)
		}
	}

	// Complexity
	switch n := tx.InstructionCount; {
	case n > 20:
		sc.add("transaction_complexity", "very_complex", "medium",
			fmt.Sprintf("Very complex transaction (%d instructions)", n), 50)
	case n > 10:
		sc.add("transaction_complexity", "complex", "low",
			fmt.Sprintf("Complex transaction (%d instructions)", n), 25)
	}

	// Timing
	if tx.BlockTime > 0 {
		for _, other := range in.SignerHistory {
			if other != tx.BlockTime && math.Abs(float64(other-tx.BlockTime)) < a.policy.Laundering.RapidGapSeconds {
				sc.add("temporal_patterns", "rapid_succession", "medium",
					"Signer submitted another transaction within 60 seconds", 40)
				break
			}
		}
		if h := tx.Time().Hour(); h < 6 {
			sc.add("temporal_patterns", "off_hours", "low",
				fmt.Sprintf("Executed at %02d:00 UTC", h), 20)
		}
	}

	// Programs
	var risky []solana.ProgramInfo
	seen := make(map[string]struct{})
	for _, id := range tx.Programs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := solana.LookupProgram(id); ok {
			risky = append(risky, p)
		}
	}
	if len(risky) > 0 {
		var maxRisk float64
		for _, p := range risky {
			maxRisk = math.Max(maxRisk, p.RiskScore)
		}
		severity := "medium"
		if maxRisk >= 75 {
			severity = "high"
		}
		sc.add("program_risk", "high_risk_programs", severity,
			fmt.Sprintf("Transaction uses %d high-risk programs", len(risky)), maxRisk)
	}

	res := sc.result(tx.Signature, models.EntityTransaction, a.policy.Version, a.now().Unix())
	a.log.Info("scored transaction",
		zap.String("signature", tx.Signature),
		zap.Float64("score", res.RiskScore),
		zap.String("level", res.RiskLevel))
	return res
}

// scoreInvolvedEntities takes the highest score among involved addresses at
// or above the high-risk line, then blends in external evidence.
func (a *Analyzer) scoreInvolvedEntities(sc *scoreCard, in TransactionRiskInput) {
	tx := in.Transaction
	involved := make(map[string]struct{})
	for _, acct := range tx.Accounts {
		involved[acct] = struct{}{}
	}
	if tx.Signer != "" {
		involved[tx.Signer] = struct{}{}
	}
	if tx.Address != "" {
		involved[tx.Address] = struct{}{}
	}

	addrs := make([]string, 0, len(involved))
	for addr := range involved {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	highRisk := 0
	var maxScore float64
	for _, addr := range addrs {
		score, ok := in.AddressScores[addr]
		if a.registry != nil {
			if e, known := a.registry.Lookup(addr); known && e.RiskScore > score {
				score, ok = e.RiskScore, true
			}
		}
		if !ok || score < a.policy.HighRiskNodeScore {
			continue
		}
		highRisk++
		maxScore = math.Max(maxScore, score)
	}
	if highRisk > 0 {
		sc.add("involved_entities", "high_risk_addresses", "high",
			fmt.Sprintf("Transaction involves %d high-risk addresses", highRisk), maxScore)
	}

	if in.External != nil {
		sc.blend("involved_entities", in.External.RiskScore)
		if in.External.RiskScore >= 50 {
			sc.note("involved_entities", "external_risk", severityForScore(in.External.RiskScore),
				fmt.Sprintf("External risk score (%.0f)", in.External.RiskScore), in.External.RiskScore)
		}
	}
}
