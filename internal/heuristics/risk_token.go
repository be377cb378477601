package heuristics

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

// TokenRiskInput carries everything the token scorer looks at.
type TokenRiskInput struct {
	Metadata     models.TokenMetadata `json:"metadata"`
	Transfers    []models.Transfer    `json:"transfers,omitempty"`
	ContractRisk *models.ContractRisk `json:"contractRisk,omitempty"`
}

// minWashTransfers is the smallest transfer sample judged for wash trading.
const minWashTransfers = 10

// ScoreToken computes the weighted token risk score.
func (a *Analyzer) ScoreToken(in TokenRiskInput) models.RiskScoreResult {
	sc := newScoreCard(a.policy.TokenWeights)
	md := in.Metadata

	// Creator
	if md.Creator != "" {
		n := len(md.CreatorTokens)
		switch {
		case n > 10:
			sc.add("creator_risk", "prolific_creator", "high",
				fmt.Sprintf("Creator has launched many tokens (%d)", n), 50)
		case n > 3:
			sc.add("creator_risk", "multiple_tokens", "medium",
				fmt.Sprintf("Creator has launched multiple tokens (%d)", n), 30)
		}
	}

	// Liquidity
	if len(md.Markets) > 0 {
		var liquidity float64
		for _, m := range md.Markets {
			liquidity += m.LiquidityA + m.LiquidityB
		}
		switch {
		case liquidity == 0:
			sc.add("liquidity_risk", "no_liquidity", "very_high", "Token has no liquidity", 100)
		case liquidity < 1000:
			sc.add("liquidity_risk", "very_low_liquidity", "high",
				fmt.Sprintf("Token has very low liquidity (%.2f)", liquidity), 80)
		case liquidity < 10000:
			sc.add("liquidity_risk", "low_liquidity", "medium",
				fmt.Sprintf("Token has low liquidity (%.2f)", liquidity), 50)
		}
	}

	// Ownership distribution
	if len(md.Holders) > 0 {
		holders := append([]models.Holder(nil), md.Holders...)
		sort.SliceStable(holders, func(i, j int) bool { return holders[i].Percentage > holders[j].Percentage })
		top := holders[0].Percentage
		var top5 float64
		if len(holders) >= 5 {
			for _, h := range holders[:5] {
				top5 += h.Percentage
			}
		}
		switch {
		case top > 50:
			sc.add("ownership_distribution", "single_holder_dominance", "high",
				fmt.Sprintf("Single holder owns majority of supply (%.1f%%)", top), 80)
		case top5 > 80:
			sc.add("ownership_distribution", "high_concentration", "medium",
				fmt.Sprintf("Top 5 holders own most of supply (%.1f%%)", top5), 60)
		}
	}

	// Price manipulation
	if share, ok := roundTripShare(in.Transfers); ok && share > 0.5 {
		sc.add("price_manipulation", "wash_trading", "medium",
			fmt.Sprintf("Most trading pairs trade back and forth (%.0f%%)", share*100), 50)
	}

	// Contract
	if md.MintAuthority != "" {
		sc.add("contract_risk", "mint_authority", "medium", "Token has active mint authority", 50)
	}
	if md.FreezeAuthority != "" {
		sc.add("contract_risk", "freeze_authority", "medium", "Token has active freeze authority", 30)
	}
	if in.ContractRisk != nil {
		sc.blend("contract_risk", in.ContractRisk.NormalizedScore)
		for _, f := range in.ContractRisk.Factors {
			if f.Score <= 0 {
				continue
			}
			sc.note("contract_risk", f.Name, severityForScore(f.Score), f.Description, f.Score)
		}
	}

	res := sc.result(md.Mint, models.EntityToken, a.policy.Version, a.now().Unix())
	a.log.Info("scored token",
		zap.String("mint", md.Mint),
		zap.Float64("score", res.RiskScore),
		zap.String("level", res.RiskLevel))
	return res
}

// roundTripShare returns the share of distinct directed trading pairs whose
// reverse pair also trades. ok is false for samples too small to judge.
func roundTripShare(transfers []models.Transfer) (float64, bool) {
	if len(transfers) < minWashTransfers {
		return 0, false
	}
	type pair struct{ from, to string }
	pairs := make(map[pair]struct{})
	for _, t := range transfers {
		from, to, ok := t.Endpoints()
		if !ok || from == "" || to == "" || from == to {
			continue
		}
		pairs[pair{from, to}] = struct{}{}
	}
	if len(pairs) == 0 {
		return 0, false
	}
	reversed := 0
	for p := range pairs {
		if _, ok := pairs[pair{p.to, p.from}]; ok {
			reversed++
		}
	}
	return float64(reversed) / float64(len(pairs)), true
}
