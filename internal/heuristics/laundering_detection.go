package heuristics

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

// Money Laundering Detection
//
// Composes independent signals into one report. Each signal carries its own
// confidence and every signal that fires is reported:
//
//   - routes        previously identified laundering routes mark the
//                   address suspicious without further evidence
//   - high_risk     external risk score above the policy line
//   - high_velocity a long history where many consecutive transactions
//                   land within a minute of each other (layering bursts)
//   - dispersion    many distinct counterparties, none used more than a
//                   couple of times (smurfing / structuring)
//
// References:
//   - FATF, "Money Laundering and Terrorist Financing Red Flag Indicators
//     Associated with Virtual Assets" (2020)
//   - Möser et al., "An Inquiry into Money Laundering Tools in the Bitcoin
//     Ecosystem" (eCrime 2013)

// Laundering pattern types.
const (
	PatternHighRiskScore = "high_risk_score"
	PatternHighVelocity  = "high_velocity"
	PatternDispersion    = "dispersion"
)

// LaunderingPattern is one fired laundering signal.
type LaunderingPattern struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// LaunderingReport is the money laundering verdict for one address.
type LaunderingReport struct {
	Address      string               `json:"address"`
	IsSuspicious bool                 `json:"isSuspicious"`
	RiskScore    float64              `json:"riskScore"`
	Patterns     []LaunderingPattern  `json:"patterns"`
	Routes       []models.RouteRecord `json:"routes"`
	// Counterparties used fewer than the dispersion limit, only filled when
	// the dispersion pattern fires.
	SuspiciousCounterparties []string `json:"suspiciousCounterparties"`
}

// LaunderingInput carries everything the laundering detector looks at.
type LaunderingInput struct {
	Address      string               `json:"address"`
	Transactions []models.Transaction `json:"transactions"`
	Transfers    []models.Transfer    `json:"transfers"`
	External     *models.ExternalRisk `json:"external,omitempty"`
	Routes       []models.RouteRecord `json:"routes,omitempty"`
}

// DetectMoneyLaundering evaluates every laundering signal for an address.
func (a *Analyzer) DetectMoneyLaundering(in LaunderingInput) LaunderingReport {
	p := a.policy.Laundering
	report := LaunderingReport{
		Address:                  in.Address,
		Patterns:                 []LaunderingPattern{},
		Routes:                   []models.RouteRecord{},
		SuspiciousCounterparties: []string{},
	}

	if len(in.Routes) > 0 {
		report.IsSuspicious = true
		report.Routes = append(report.Routes, in.Routes...)
	}

	if in.External != nil {
		report.RiskScore = in.External.RiskScore
		if r := in.External.RiskScore; r > p.HighRiskScore {
			report.IsSuspicious = true
			report.Patterns = append(report.Patterns, LaunderingPattern{
				Type:        PatternHighRiskScore,
				Description: "Address has a high risk score",
				Confidence:  math.Min(1, r/100),
			})
		}
	}

	if len(in.Transactions) > p.VelocityMinTx {
		times := make([]int64, len(in.Transactions))
		for i, tx := range in.Transactions {
			times[i] = tx.BlockTime
		}
		if rapid := countBelow(gapsSeconds(times), p.RapidGapSeconds); rapid > p.VelocityMinRapid {
			report.IsSuspicious = true
			report.Patterns = append(report.Patterns, LaunderingPattern{
				Type:        PatternHighVelocity,
				Description: fmt.Sprintf("Address has %d transactions within %.0f seconds of each other", rapid, p.RapidGapSeconds),
				Confidence:  math.Min(1, float64(rapid)/50),
			})
		}
	}

	if len(in.Transfers) > 0 {
		counts := make(map[string]int)
		for _, t := range in.Transfers {
			if t.TokenAccount == "" {
				continue
			}
			counts[t.TokenAccount]++
		}
		maxCount := 0
		for _, c := range counts {
			maxCount = max(maxCount, c)
		}
		if n := len(counts); n > p.DispersionMinCount && maxCount < p.DispersionMaxPerCp {
			report.IsSuspicious = true
			report.Patterns = append(report.Patterns, LaunderingPattern{
				Type:        PatternDispersion,
				Description: fmt.Sprintf("Address has small transactions to %d different counterparties", n),
				Confidence:  math.Min(1, float64(n)/100),
			})
			for cp := range counts {
				report.SuspiciousCounterparties = append(report.SuspiciousCounterparties, cp)
			}
			sort.Strings(report.SuspiciousCounterparties)
		}
	}

	a.log.Info("detected money laundering patterns",
		zap.String("address", in.Address),
		zap.Bool("suspicious", report.IsSuspicious),
		zap.Int("patterns", len(report.Patterns)),
		zap.Int("routes", len(report.Routes)))
	return report
}
