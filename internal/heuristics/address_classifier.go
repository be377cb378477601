package heuristics

import (
	"math"

	"go.uber.org/zap"

	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

// Address Classifier
//
// Assigns each address one behavioral type from a fixed taxonomy using
// ordered rules. The first rule that matches wins; later rules are never
// consulted, so overlapping feature ranges resolve by rule order:
//
//   1. exchange  very high volume with thousands of distinct counterparties
//   2. mixer     high external risk, balanced in/out flow, few tokens
//   3. whale     long-lived, moderate rate, low risk
//   4. bot       sustained high transaction rate
//   5. mule      short-lived fan-out with elevated risk
//   6. user      ordinary low-rate activity
//   7. contract  sends far more than it receives
//   8. unknown
//
// References:
//   - Weber et al., "Anti-Money Laundering in Bitcoin" (KDD 2019)
//   - Chainalysis, "Entity Attribution Methodology" (2022)

// Address types.
const (
	AddressExchange = "exchange"
	AddressMixer    = "mixer"
	AddressWhale    = "whale"
	AddressBot      = "bot"
	AddressMule     = "mule"
	AddressUser     = "user"
	AddressContract = "contract"
	AddressUnknown  = "unknown"
)

// ClassifyAddress derives the feature vector of address and applies the
// ordered rules.
func (a *Analyzer) ClassifyAddress(address string, txs []models.Transaction, transfers []models.Transfer, external *models.ExternalRisk) models.ClassificationResult {
	fv := ExtractFeatures(txs, transfers, external)
	kind, confidence := a.determineAddressType(fv)

	a.log.Debug("classified address",
		zap.String("address", address),
		zap.String("type", kind),
		zap.Float64("confidence", confidence))

	return models.ClassificationResult{
		Address:       address,
		Type:          kind,
		Confidence:    confidence,
		RiskLevel:     externalRiskLevel(external),
		ActivityLevel: activityLevel(fv),
		Features:      fv,
	}
}

// ClassifyFeatures applies the ordered rules to a precomputed feature vector.
func (a *Analyzer) ClassifyFeatures(fv models.FeatureVector) (string, float64) {
	return a.determineAddressType(fv)
}

func (a *Analyzer) determineAddressType(fv models.FeatureVector) (string, float64) {
	c := a.policy.Classifier
	ext := fv.ExternalRiskScore

	switch {
	case fv.TxCount > c.ExchangeMinTx &&
		fv.UniqueRecipients > c.ExchangeMinRecipients &&
		fv.UniqueSenders > c.ExchangeMinSenders &&
		fv.ActiveDays > c.ExchangeMinDays &&
		fv.TokenCount > c.ExchangeMinTokens:
		conf := float64(fv.TxCount)/50000*0.5 +
			float64(fv.UniqueRecipients)/5000*0.3 +
			fv.ActiveDays/365*0.2
		return AddressExchange, math.Min(1, conf)

	case ext > c.MixerMinExternal &&
		fv.InOutRatio > c.MixerRatioLow && fv.InOutRatio < c.MixerRatioHigh &&
		fv.TokenCount < c.MixerMaxTokens:
		return AddressMixer, math.Min(1, ext/100)

	case fv.TxCount > c.WhaleMinTx &&
		fv.TokenCount < c.WhaleMaxTokens &&
		fv.ActiveDays > c.WhaleMinDays &&
		ext < c.WhaleMaxExternal &&
		fv.TxPerDay < c.WhaleMaxTxPerDay:
		return AddressWhale, c.WhaleConfidence

	case fv.TxPerDay > c.BotMinTxPerDay && fv.ActiveDays > c.BotMinDays:
		return AddressBot, math.Min(1, fv.TxPerDay/100)

	case fv.ReceivedCount < c.MuleMaxReceived &&
		fv.SentCount > c.MuleMinSent &&
		fv.UniqueRecipients > c.MuleMinRecipients &&
		fv.ActiveDays < c.MuleMaxDays &&
		ext > c.MuleMinExternal:
		return AddressMule, c.MuleConfidence

	case fv.TxCount > 0 && fv.TxCount < c.UserMaxTx &&
		fv.TxPerDay < c.UserMaxTxPerDay &&
		fv.ActiveDays > 0 &&
		ext < c.UserMaxExternal:
		return AddressUser, c.UserConfidence

	case float64(fv.SentCount) > c.ContractSentFactor*float64(fv.ReceivedCount):
		return AddressContract, c.ContractConfidence
	}
	return AddressUnknown, 0
}
