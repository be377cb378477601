package heuristics

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

// AddressRiskInput carries everything the address scorer looks at.
type AddressRiskInput struct {
	Address          string               `json:"address"`
	Transactions     []models.Transaction `json:"transactions"`
	Transfers        []models.Transfer    `json:"transfers"`
	External         *models.ExternalRisk `json:"external,omitempty"`
	LaunderingRoutes []models.RouteRecord `json:"launderingRoutes,omitempty"`
	DustingAttacks   int                  `json:"dustingAttacks"`
}

// ScoreAddress computes the weighted address risk score.
func (a *Analyzer) ScoreAddress(in AddressRiskInput) models.RiskScoreResult {
	sc := newScoreCard(a.policy.AddressWeights)

	a.scoreTransactionPatterns(sc, in.Transactions)
	a.scoreInteractions(sc, in)
	a.scoreAccountHistory(sc, in.Transactions)
	scoreTokenActivity(sc, in)

	if in.External != nil {
		ext := in.External.RiskScore
		sc.blend("external_risk", ext)
		switch {
		case ext >= 75:
			sc.note("external_risk", "high_external_risk", "high",
				fmt.Sprintf("High external risk score (%.0f)", ext), ext)
		case ext >= 50:
			sc.note("external_risk", "medium_external_risk", "medium",
				fmt.Sprintf("Medium external risk score (%.0f)", ext), ext)
		}
	}

	res := sc.result(in.Address, models.EntityAddress, a.policy.Version, a.now().Unix())
	a.log.Info("scored address",
		zap.String("address", in.Address),
		zap.Float64("score", res.RiskScore),
		zap.String("level", res.RiskLevel))
	return res
}

func (a *Analyzer) scoreTransactionPatterns(sc *scoreCard, txs []models.Transaction) {
	if len(txs) == 0 {
		return
	}
	times := make([]int64, len(txs))
	for i, tx := range txs {
		times[i] = tx.BlockTime
	}
	gaps := gapsSeconds(times)

	if len(txs) > 1 {
		var span float64
		for _, g := range gaps {
			span += g
		}
		if days := span / secondsPerDay; days > 0 {
			perDay := float64(len(txs)) / days
			switch {
			case perDay > 100:
				sc.add("transaction_patterns", "high_tx_velocity", "high",
					fmt.Sprintf("High transaction velocity (%.1f tx/day)", perDay), 50)
			case perDay > 20:
				sc.add("transaction_patterns", "elevated_tx_velocity", "medium",
					fmt.Sprintf("Elevated transaction velocity (%.1f tx/day)", perDay), 25)
			}
		}
	}

	rapid := countBelow(gaps, a.policy.Laundering.RapidGapSeconds)
	switch {
	case rapid > 20:
		sc.add("transaction_patterns", "rapid_transactions", "high",
			fmt.Sprintf("Many rapid transactions (%d tx < 60s apart)", rapid), 50)
	case rapid > 5:
		sc.add("transaction_patterns", "some_rapid_transactions", "medium",
			fmt.Sprintf("Some rapid transactions (%d tx < 60s apart)", rapid), 25)
	}
}

func (a *Analyzer) scoreInteractions(sc *scoreCard, in AddressRiskInput) {
	if len(in.Transfers) > 0 {
		counterparties := make(map[string]struct{})
		for _, t := range in.Transfers {
			if t.TokenAccount != "" {
				counterparties[t.TokenAccount] = struct{}{}
			}
			if t.Owner != "" {
				counterparties[t.Owner] = struct{}{}
			}
		}
		delete(counterparties, in.Address)
		if n := len(counterparties); n > 1000 {
			sc.add("interaction_entities", "very_high_counterparties", "medium",
				fmt.Sprintf("Very high number of counterparties (%d)", n), 30)
		}
	}

	if len(in.LaunderingRoutes) > 0 {
		sc.add("interaction_entities", "money_laundering_patterns", "high",
			fmt.Sprintf("Money laundering patterns detected (%d routes)", len(in.LaunderingRoutes)), 75)
	}

	if a.registry != nil {
		if e, ok := a.registry.Lookup(in.Address); ok && e.RiskScore > 0 {
			sc.blend("interaction_entities", e.RiskScore)
			sc.note("interaction_entities", "known_entity", severityForScore(e.RiskScore),
				fmt.Sprintf("Address is a known %s (%s)", e.Category, e.Label), e.RiskScore)
		}
	}
}

func (a *Analyzer) scoreAccountHistory(sc *scoreCard, txs []models.Transaction) {
	if len(txs) == 0 {
		return
	}
	first := txs[0].BlockTime
	for _, tx := range txs[1:] {
		if tx.BlockTime < first {
			first = tx.BlockTime
		}
	}
	ageDays := float64(a.now().Unix()-first) / secondsPerDay
	switch {
	case ageDays < 1:
		sc.add("account_history", "very_new_account", "low", "Account is very new (< 1 day old)", 20)
	case ageDays < 7:
		sc.add("account_history", "new_account", "very_low", "Account is new (< 7 days old)", 10)
	}
}

func scoreTokenActivity(sc *scoreCard, in AddressRiskInput) {
	if len(in.Transfers) > 0 {
		mints := make(map[string]struct{})
		for _, t := range in.Transfers {
			mints[t.Mint] = struct{}{}
		}
		if n := len(mints); n > 100 {
			sc.add("token_activity", "high_token_diversity", "medium",
				fmt.Sprintf("High token diversity (%d tokens)", n), 30)
		}
	}
	if in.DustingAttacks > 0 {
		sc.add("token_activity", "dusting_attacks", "medium",
			fmt.Sprintf("Potential dusting attacks detected (%d instances)", in.DustingAttacks), 40)
	}
}
