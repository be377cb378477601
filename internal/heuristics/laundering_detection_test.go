package heuristics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

func patternTypes(patterns []LaunderingPattern) []string {
	types := make([]string, len(patterns))
	for i, p := range patterns {
		types[i] = p.Type
	}
	return types
}

// spacedHistory returns n transactions where the first rapid gaps are 30
// seconds and the rest two minutes.
func spacedHistory(n, rapid int) []models.Transaction {
	txs := make([]models.Transaction, n)
	ts := testNow.Unix() - 86400
	for i := range txs {
		txs[i] = models.Transaction{BlockTime: ts}
		if i < rapid {
			ts += 30
		} else {
			ts += 120
		}
	}
	return txs
}

func dispersedTransfers(counterparties, perCounterparty int) []models.Transfer {
	var out []models.Transfer
	for i := 0; i < counterparties; i++ {
		for j := 0; j < perCounterparty; j++ {
			out = append(out, models.Transfer{
				Owner:        "me",
				TokenAccount: fmt.Sprintf("cp%03d", i),
				Direction:    models.DirectionSent,
				Mint:         "m",
				Amount:       1,
			})
		}
	}
	return out
}

func TestDetectMoneyLaundering(t *testing.T) {
	tests := []struct {
		name       string
		in         LaunderingInput
		suspicious bool
		types      []string
		confidence []float64
	}{
		{
			name:       "clean",
			in:         LaunderingInput{Address: "me", Transactions: spacedHistory(20, 0)},
			suspicious: false,
			types:      []string{},
		},
		{
			name:       "known routes only",
			in:         LaunderingInput{Address: "me", Routes: []models.RouteRecord{{SourceAddress: "me", TargetAddress: "x"}}},
			suspicious: true,
			types:      []string{},
		},
		{
			name:       "external risk above line",
			in:         LaunderingInput{Address: "me", External: &models.ExternalRisk{RiskScore: 80}},
			suspicious: true,
			types:      []string{PatternHighRiskScore},
			confidence: []float64{0.8},
		},
		{
			name:       "external risk at line",
			in:         LaunderingInput{Address: "me", External: &models.ExternalRisk{RiskScore: 75}},
			suspicious: false,
			types:      []string{},
		},
		{
			name:       "high velocity",
			in:         LaunderingInput{Address: "me", Transactions: spacedHistory(101, 11)},
			suspicious: true,
			types:      []string{PatternHighVelocity},
			confidence: []float64{0.22},
		},
		{
			name:       "velocity needs a long history",
			in:         LaunderingInput{Address: "me", Transactions: spacedHistory(100, 40)},
			suspicious: false,
			types:      []string{},
		},
		{
			name:       "dispersion",
			in:         LaunderingInput{Address: "me", Transfers: dispersedTransfers(51, 2)},
			suspicious: true,
			types:      []string{PatternDispersion},
			confidence: []float64{0.51},
		},
		{
			name:       "repeat counterparties are not dispersion",
			in:         LaunderingInput{Address: "me", Transfers: dispersedTransfers(60, 3)},
			suspicious: false,
			types:      []string{},
		},
		{
			name: "all flags together",
			in: LaunderingInput{
				Address:      "me",
				Transactions: spacedHistory(150, 60),
				Transfers:    dispersedTransfers(200, 1),
				External:     &models.ExternalRisk{RiskScore: 99},
			},
			suspicious: true,
			types:      []string{PatternHighRiskScore, PatternHighVelocity, PatternDispersion},
			confidence: []float64{0.99, 1, 1},
		},
	}

	a := newTestAnalyzer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := a.DetectMoneyLaundering(tt.in)
			assert.Equal(t, tt.suspicious, report.IsSuspicious)
			assert.Equal(t, tt.types, patternTypes(report.Patterns))
			for i, c := range tt.confidence {
				assert.InDelta(t, c, report.Patterns[i].Confidence, 1e-9)
			}
			assert.Len(t, report.Routes, len(tt.in.Routes))
		})
	}
}

func TestDetectMoneyLaunderingListsDispersedCounterparties(t *testing.T) {
	report := newTestAnalyzer().DetectMoneyLaundering(LaunderingInput{Address: "me", Transfers: dispersedTransfers(51, 1)})
	require.Len(t, report.SuspiciousCounterparties, 51)
	assert.Equal(t, "cp000", report.SuspiciousCounterparties[0])
	assert.Equal(t, "cp050", report.SuspiciousCounterparties[50])
}
