package heuristics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherzeroprotocol/solana-guard/internal/config"
	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

func TestClassifyFeaturesRuleOrder(t *testing.T) {
	// Default thresholds keep exchange (tokens > 10) and mixer (tokens < 5)
	// disjoint, so widen the mixer token limit to build an overlapping vector.
	policy := config.DefaultPolicy()
	policy.Classifier.MixerMaxTokens = 50

	fv := models.FeatureVector{
		TxCount:           20000,
		ActiveDays:        200,
		TxPerDay:          100,
		TokenCount:        12,
		UniqueRecipients:  2000,
		UniqueSenders:     2000,
		ExternalRiskScore: 90,
		InOutRatio:        1.0,
	}

	kind, conf := newTestAnalyzerWithPolicy(policy).ClassifyFeatures(fv)
	assert.Equal(t, AddressExchange, kind, "exchange is evaluated before mixer")
	assert.InDelta(t, 0.2+0.12+200.0/365*0.2, conf, 1e-9)

	policy.Classifier.ExchangeMinTx = 1 << 30
	kind, conf = newTestAnalyzerWithPolicy(policy).ClassifyFeatures(fv)
	require.Equal(t, AddressMixer, kind, "the same vector satisfies the mixer rule")
	assert.InDelta(t, 0.9, conf, 1e-9)
}

func TestClassifyFeatures(t *testing.T) {
	tests := []struct {
		name     string
		fv       models.FeatureVector
		wantType string
		wantConf float64
	}{
		{
			name:     "whale",
			fv:       models.FeatureVector{TxCount: 200, ActiveDays: 60, TxPerDay: 200.0 / 60, TokenCount: 5, ExternalRiskScore: 10},
			wantType: AddressWhale, wantConf: 0.6,
		},
		{
			name:     "bot",
			fv:       models.FeatureVector{TxCount: 800, ActiveDays: 10, TxPerDay: 80, TokenCount: 3},
			wantType: AddressBot, wantConf: 0.8,
		},
		{
			name: "mule",
			fv: models.FeatureVector{TxCount: 22, ActiveDays: 3, TxPerDay: 22.0 / 3, SentCount: 20, ReceivedCount: 2,
				UniqueRecipients: 10, ExternalRiskScore: 70},
			wantType: AddressMule, wantConf: 0.7,
		},
		{
			name:     "user",
			fv:       models.FeatureVector{TxCount: 50, ActiveDays: 50, TxPerDay: 1, ExternalRiskScore: 10},
			wantType: AddressUser, wantConf: 0.5,
		},
		{
			name:     "contract",
			fv:       models.FeatureVector{SentCount: 10, ReceivedCount: 1},
			wantType: AddressContract, wantConf: 0.5,
		},
		{
			name:     "unknown",
			fv:       models.FeatureVector{},
			wantType: AddressUnknown, wantConf: 0,
		},
	}

	a := newTestAnalyzer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, conf := a.ClassifyFeatures(tt.fv)
			assert.Equal(t, tt.wantType, kind)
			assert.InDelta(t, tt.wantConf, conf, 1e-9)
		})
	}
}

func TestExtractFeatures(t *testing.T) {
	t0 := testNow.Unix()
	txs := []models.Transaction{{BlockTime: t0 + 3*secondsPerDay}, {BlockTime: t0}}
	transfers := []models.Transfer{
		{Owner: "me", TokenAccount: "r1", Direction: models.DirectionSent, Mint: "m1"},
		{Owner: "me", TokenAccount: "r2", Direction: models.DirectionSent, Mint: "m1"},
		{Owner: "me", TokenAccount: "s1", Direction: models.DirectionReceived, Mint: "m2"},
	}

	fv := ExtractFeatures(txs, transfers, &models.ExternalRisk{RiskScore: 33})
	assert.Equal(t, 2, fv.TxCount)
	assert.InDelta(t, 3, fv.ActiveDays, 1e-9)
	assert.InDelta(t, 2.0/3, fv.TxPerDay, 1e-9)
	assert.Equal(t, 2, fv.SentCount)
	assert.Equal(t, 1, fv.ReceivedCount)
	assert.Equal(t, 2, fv.TokenCount)
	assert.Equal(t, 2, fv.UniqueRecipients)
	assert.Equal(t, 1, fv.UniqueSenders)
	assert.InDelta(t, 0.5, fv.InOutRatio, 1e-9)
	assert.Equal(t, 33.0, fv.ExternalRiskScore)

	single := ExtractFeatures(txs[:1], nil, nil)
	assert.Equal(t, 1.0, single.ActiveDays, "active span is at least one day")
	assert.Equal(t, 1.0, single.TxPerDay)

	empty := ExtractFeatures(nil, nil, nil)
	assert.Equal(t, 0.0, empty.ActiveDays)
	assert.Equal(t, 0.0, empty.TxPerDay)
}

func TestClassifyAddressEmptyHistory(t *testing.T) {
	res := newTestAnalyzer().ClassifyAddress("addr", nil, nil, nil)
	assert.Equal(t, AddressUnknown, res.Type)
	assert.Equal(t, "inactive", res.ActivityLevel)
	assert.Equal(t, "unknown", res.RiskLevel)

	res = newTestAnalyzer().ClassifyAddress("addr", nil, nil, &models.ExternalRisk{RiskScore: 55})
	assert.Equal(t, models.RiskMedium, res.RiskLevel)
}
