package heuristics

import (
	"math"

	"github.com/cipherzeroprotocol/solana-guard/internal/config"
	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

// Weighted Risk Scoring
//
// Three surfaces (address, token, transaction) share one composition:
//
//   - each category starts at 0 and accumulates ladder points from
//     independent checks, saturating at 100
//   - external evidence is blended into its category by MAX, so the most
//     suspicious source wins and nothing is averaged away
//   - final = clamp(Σ category × weight, 0, 100)
//
// Bands (inclusive, after rounding half-up to an integer):
//   very_low  0-20
//   low       21-40
//   medium    41-60
//   high      61-80
//   very_high 81-100

const categoryCeiling = 100

// RiskLevel maps a final score onto its band. Fractional scores are rounded
// half-up first so that e.g. 20.5 is low and 20.4 is very_low.
func RiskLevel(score float64) string {
	r := math.Floor(clampScore(score) + 0.5)
	switch {
	case r <= 20:
		return models.RiskVeryLow
	case r <= 40:
		return models.RiskLow
	case r <= 60:
		return models.RiskMedium
	case r <= 80:
		return models.RiskHigh
	default:
		return models.RiskVeryHigh
	}
}

// WeightedRiskScore combines raw category scores with a weight table and
// clamps the result to [0,100]. Categories absent from the table count 0.
func WeightedRiskScore(scores map[string]float64, weights config.WeightTable) float64 {
	var total float64
	for _, cw := range weights {
		total += scores[cw.Category] * cw.Weight
	}
	return clampScore(total)
}

// scoreCard accumulates category scores and factors for one entity.
type scoreCard struct {
	weights config.WeightTable
	scores  map[string]float64
	factors []models.RiskFactor
}

func newScoreCard(weights config.WeightTable) *scoreCard {
	sc := &scoreCard{
		weights: weights,
		scores:  make(map[string]float64, len(weights)),
	}
	for _, cw := range weights {
		sc.scores[cw.Category] = 0
	}
	return sc
}

// add records a factor and adds its points to the category, saturating at
// the category ceiling.
func (sc *scoreCard) add(category, name, severity, description string, points float64) {
	sc.scores[category] = math.Min(categoryCeiling, sc.scores[category]+points)
	sc.factors = append(sc.factors, models.RiskFactor{
		Category:    category,
		Name:        name,
		Description: description,
		Severity:    severity,
		Score:       points,
	})
}

// note records a factor without changing any score. Used when the points
// already entered through blend.
func (sc *scoreCard) note(category, name, severity, description string, points float64) {
	sc.factors = append(sc.factors, models.RiskFactor{
		Category:    category,
		Name:        name,
		Description: description,
		Severity:    severity,
		Score:       points,
	})
}

// blend raises a category to an external score when that is higher.
func (sc *scoreCard) blend(category string, external float64) {
	external = clampScore(external)
	if external > sc.scores[category] {
		sc.scores[category] = external
	}
}

func (sc *scoreCard) result(entityID, entityType, policyVersion string, ts int64) models.RiskScoreResult {
	score := round2(WeightedRiskScore(sc.scores, sc.weights))
	factors := sc.factors
	if factors == nil {
		factors = []models.RiskFactor{}
	}
	return models.RiskScoreResult{
		EntityID:       entityID,
		EntityType:     entityType,
		RiskScore:      score,
		RiskLevel:      RiskLevel(score),
		RiskFactors:    factors,
		CategoryScores: sc.scores,
		PolicyVersion:  policyVersion,
		Timestamp:      ts,
	}
}

// severityForScore labels a provider-supplied score.
func severityForScore(score float64) string {
	switch {
	case score > 75:
		return "high"
	case score > 50:
		return "medium"
	default:
		return "low"
	}
}
