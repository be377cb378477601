package heuristics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

const (
	tornadoProgram = "tor1xzb2Zyy1cUxXmyJfR8aNXuWnwHG8AwgaG7UGD4K"
	bridgeProgram  = "worm2ZoG2kUd4vFXhvjh93UUH596ayRfgQ2MgjNMTth"
	stakeProgram   = "Stake11111111111111111111111111111111111111"
)

func TestEntityRegistryAdd(t *testing.T) {
	r := NewEntityRegistry()

	require.NoError(t, r.Add(stakeProgram, CategoryExchange, "Hot wallet", -1))
	e, ok := r.Lookup(stakeProgram)
	require.True(t, ok)
	assert.Equal(t, 20.0, e.RiskScore, "negative score selects the baseline")
	assert.Equal(t, "Hot wallet", e.Label)

	require.NoError(t, r.Add(stakeProgram, CategoryScam, "Drainer", 140))
	e, _ = r.Lookup(stakeProgram)
	assert.Equal(t, 100.0, e.RiskScore, "scores are clamped")
	assert.Equal(t, 1, r.Size())

	assert.Error(t, r.Add("not-an-address", CategoryMixer, "", -1))
	assert.Error(t, r.Add(stakeProgram, "casino", "", -1))

	r.Remove(stakeProgram)
	_, ok = r.Lookup(stakeProgram)
	assert.False(t, ok)
}

func TestDefaultEntityRegistry(t *testing.T) {
	r := NewDefaultEntityRegistry()
	assert.Equal(t, 3, r.Size())

	e, ok := r.Lookup(tornadoProgram)
	require.True(t, ok)
	assert.Equal(t, CategoryMixer, e.Category)

	e, ok = r.Lookup(bridgeProgram)
	require.True(t, ok)
	assert.Equal(t, CategoryBridge, e.Category)
	assert.Equal(t, 60.0, e.RiskScore)
}

func TestEntityRegistryLabels(t *testing.T) {
	labels := NewDefaultEntityRegistry().Labels()
	require.Len(t, labels, 3)
	for i := 1; i < len(labels); i++ {
		assert.Less(t, labels[i-1].Address, labels[i].Address)
	}
	for _, l := range labels {
		require.NotNil(t, l.RiskScore)
		switch l.Address {
		case tornadoProgram:
			assert.Equal(t, FlowMixer, l.FlowType)
			assert.Equal(t, 90.0, *l.RiskScore)
		default:
			assert.Equal(t, FlowCrossChainBridge, l.FlowType)
		}
	}
}

func TestEntityRegistryCheckTransaction(t *testing.T) {
	r := NewDefaultEntityRegistry()
	require.NoError(t, r.Add(stakeProgram, CategorySanctioned, "SDN", -1))

	hits := r.CheckTransaction(models.Transaction{
		Signer:   stakeProgram,
		Accounts: []string{stakeProgram, "other"},
		Programs: []string{tornadoProgram, "11111111111111111111111111111111"},
	})
	require.Len(t, hits, 2)
	assert.Equal(t, "signer", hits[0].Role)
	assert.Equal(t, "critical", hits[0].AlertLevel)
	assert.Equal(t, 100.0, hits[0].RiskScore)
	assert.Equal(t, "program", hits[1].Role)
	assert.Equal(t, tornadoProgram, hits[1].Address)

	assert.Empty(t, r.CheckTransaction(models.Transaction{Signer: "nobody"}))
}

func TestTransactionScorerConsultsRegistry(t *testing.T) {
	reg := NewEntityRegistry()
	require.NoError(t, reg.Add(stakeProgram, CategoryScam, "Drainer", -1))
	res := newTestAnalyzer(WithRegistry(reg)).ScoreTransaction(TransactionRiskInput{
		Transaction: models.Transaction{Signature: "s", Accounts: []string{stakeProgram}},
	})
	assert.Equal(t, 85.0, res.CategoryScores["involved_entities"])
}
