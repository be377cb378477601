package heuristics

import (
	"math"

	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

const secondsPerDay = 86400

// ExtractFeatures derives the behavioral feature vector of an address from
// its transaction history and token transfers. An empty history yields zero
// activity; otherwise the active span is at least one day.
func ExtractFeatures(txs []models.Transaction, transfers []models.Transfer, external *models.ExternalRisk) models.FeatureVector {
	var fv models.FeatureVector

	fv.TxCount = len(txs)
	if fv.TxCount > 0 {
		first, last := txs[0].BlockTime, txs[0].BlockTime
		for _, tx := range txs[1:] {
			if tx.BlockTime < first {
				first = tx.BlockTime
			}
			if tx.BlockTime > last {
				last = tx.BlockTime
			}
		}
		fv.ActiveDays = math.Max(1, float64(last-first)/secondsPerDay)
		fv.TxPerDay = float64(fv.TxCount) / fv.ActiveDays
	}

	mints := make(map[string]struct{})
	recipients := make(map[string]struct{})
	senders := make(map[string]struct{})
	for _, t := range transfers {
		if t.Mint != "" {
			mints[t.Mint] = struct{}{}
		}
		switch t.Direction {
		case models.DirectionSent:
			fv.SentCount++
			recipients[t.TokenAccount] = struct{}{}
		case models.DirectionReceived:
			fv.ReceivedCount++
			senders[t.TokenAccount] = struct{}{}
		}
	}
	fv.TokenCount = len(mints)
	fv.UniqueRecipients = len(recipients)
	fv.UniqueSenders = len(senders)
	fv.InOutRatio = float64(fv.ReceivedCount) / math.Max(1, float64(fv.SentCount))

	if external != nil {
		fv.ExternalRiskScore = external.RiskScore
	}
	return fv
}

// activityLevel buckets an address by volume and rate of activity.
func activityLevel(fv models.FeatureVector) string {
	switch {
	case fv.TxCount > 1000 || fv.TxPerDay > 50:
		return "very_high"
	case fv.TxCount > 100 || fv.TxPerDay > 10:
		return "high"
	case fv.TxCount > 10 || fv.TxPerDay > 1:
		return "medium"
	case fv.TxCount > 0:
		return "low"
	default:
		return "inactive"
	}
}

// externalRiskLevel maps a provider score onto the coarse classifier levels.
func externalRiskLevel(external *models.ExternalRisk) string {
	if external == nil {
		return "unknown"
	}
	switch s := external.RiskScore; {
	case s >= 75:
		return models.RiskHigh
	case s >= 50:
		return models.RiskMedium
	case s >= 25:
		return models.RiskLow
	default:
		return models.RiskVeryLow
	}
}
