package heuristics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

var incidentDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// exploitHistory has one transaction per hour for a day, a burst of ten
// extra transactions in hour five, one large transfer and one transaction
// before the analysis window.
func exploitHistory() []models.Transaction {
	var txs []models.Transaction
	add := func(at time.Time, instr string, amount float64) {
		txs = append(txs, models.Transaction{
			Signature:       "sig",
			Address:         "E",
			Signer:          "E",
			BlockTime:       at.Unix(),
			InstructionType: instr,
			Amount:          amount,
		})
	}
	instrs := []string{"swap", "deposit"}
	for h := 0; h < 24; h++ {
		add(incidentDate.Add(time.Duration(h)*time.Hour), instrs[h%2], 1)
	}
	for i := 0; i < 10; i++ {
		add(incidentDate.Add(5*time.Hour+time.Duration(i+1)*time.Minute), instrs[i%2], 1)
	}
	add(incidentDate.Add(6*time.Hour+30*time.Minute), "withdraw", 1000)
	add(incidentDate.Add(-48*time.Hour), "swap", 1)
	txs[0].AccountType = "program"
	return txs
}

func exploitTransfers() []models.Transfer {
	ts := incidentDate.Add(time.Hour).Unix()
	return []models.Transfer{
		{Owner: "E", TokenAccount: "A", Direction: models.DirectionSent, Mint: "T1", Amount: 100, BlockTime: ts, Signature: "s1"},
		{Owner: "E", TokenAccount: "B", Direction: models.DirectionSent, Mint: "T2", Amount: 50, BlockTime: ts + 10, Signature: "s2"},
		{Owner: "A", TokenAccount: "C", Direction: models.DirectionSent, Mint: "T1", Amount: 30, BlockTime: ts + 20, Signature: "s3"},
		{Owner: "E", TokenAccount: "Z", Direction: models.DirectionReceived, Mint: "T1", Amount: 10, BlockTime: ts - 10, Signature: "s0"},
		{Owner: "D", TokenAccount: "F", Direction: models.DirectionSent, Mint: "T3", Amount: 999, BlockTime: ts, Signature: "s4"},
	}
}

func TestAnalyzeIncidentPatterns(t *testing.T) {
	patterns := AnalyzeIncidentPatterns(exploitHistory(), incidentDate)
	require.Len(t, patterns, 3)

	spike := patterns[0]
	require.Equal(t, PatternTransactionSpike, spike.Type)
	require.NotNil(t, spike.Spike)
	assert.Equal(t, []time.Time{incidentDate.Add(5 * time.Hour)}, spike.Spike.SpikeTimes)
	assert.Equal(t, 11, spike.Spike.MaxHourlyCount)

	seq := patterns[1]
	require.Equal(t, PatternRepeatedInstruction, seq.Type)
	require.NotNil(t, seq.Sequences)
	assert.Equal(t, "E", seq.Sequences.Address)
	assert.NotEmpty(t, seq.Sequences.RepeatedPatterns)
	assert.LessOrEqual(t, len(seq.Sequences.RepeatedPatterns), 5)

	outliers := patterns[2]
	require.Equal(t, PatternUnusualTxSize, outliers.Type)
	require.NotNil(t, outliers.Outliers)
	assert.Equal(t, 1, outliers.Outliers.OutlierCount)
	assert.Equal(t, 1000.0, outliers.Outliers.MaxAmount)
}

func TestAnalyzeIncidentPatternsOutsideWindow(t *testing.T) {
	txs := []models.Transaction{{Address: "E", BlockTime: incidentDate.Add(-72 * time.Hour).Unix()}}
	assert.Empty(t, AnalyzeIncidentPatterns(txs, incidentDate))
}

func TestTraceFundFlows(t *testing.T) {
	flows := TraceFundFlows(exploitTransfers(), []string{"E"})
	require.Len(t, flows.Initial, 2)
	require.Len(t, flows.Subsequent, 1)
	assert.Equal(t, "A", flows.Initial[0].ToAccount)
	assert.Equal(t, 1, flows.Initial[0].Hop)
	assert.Equal(t, "C", flows.Subsequent[0].ToAccount)
	assert.Equal(t, 2, flows.Subsequent[0].Hop)

	assert.Equal(t, "180", flows.Summary.TotalVolume.String())
	require.Len(t, flows.Summary.TokenDistribution, 2)
	assert.Equal(t, "T1", flows.Summary.TokenDistribution[0].Token)
	assert.Equal(t, "130", flows.Summary.TokenDistribution[0].Volume.String())
	assert.Equal(t, "T2", flows.Summary.TokenDistribution[1].Token)
	assert.Equal(t, 2, flows.Summary.InitialCount)
	assert.Equal(t, 1, flows.Summary.SubsequentCount)

	none := TraceFundFlows(exploitTransfers(), []string{"nobody"})
	assert.Empty(t, none.Initial)
	assert.Empty(t, none.Summary.TokenDistribution)
}

func TestIdentifyAffectedAccounts(t *testing.T) {
	txs := exploitHistory()
	txs = append(txs, models.Transaction{Address: "A", Signer: "A", BlockTime: incidentDate.Unix(), AccountType: "token"})

	accounts := IdentifyAffectedAccounts(txs, exploitTransfers())
	require.Len(t, accounts, 2)

	e := accounts[0]
	assert.Equal(t, "E", e.Address)
	assert.Equal(t, "program", e.Type)
	assert.Equal(t, 36, e.Impact.TransactionCount)
	assert.Equal(t, incidentDate.Add(-48*time.Hour), e.Impact.FirstInteraction)
	assert.Equal(t, map[string]float64{"T1": -90, "T2": -50}, e.Impact.TokenChanges)
	assert.Equal(t, 2, e.Impact.NetTokenCount)

	a := accounts[1]
	assert.Equal(t, "A", a.Address)
	assert.Equal(t, "token", a.Type)
	assert.Equal(t, map[string]float64{"T1": 100 - 30}, a.Impact.TokenChanges)
}

func TestIdentifyVulnerabilityPatterns(t *testing.T) {
	day := incidentDate.Unix()
	txs := []models.Transaction{
		{Address: "V", BlockTime: day, InstructionType: "Flash_Loan"},
		{Address: "V", BlockTime: day + 10, InstructionType: "swap"},
		{Address: "V", BlockTime: day + 20, InstructionType: "transfer"},
		{Address: "V", BlockTime: day + 30, InstructionType: "repay"},
		{Address: "W", BlockTime: day, InstructionType: "withdraw"},
	}

	vp, ok := IdentifyVulnerabilityPatterns(txs, []string{"V"})
	require.True(t, ok)
	assert.Equal(t, map[string]int{"Flash_Loan": 1, "swap": 1, "transfer": 1, "repay": 1}, vp.InstructionFrequencies)
	require.Len(t, vp.SuspiciousSequences, 1)
	assert.Equal(t, "flash_loan", vp.SuspiciousSequences[0].PatternType)
	require.Len(t, vp.VulnerabilityIndicators, 1)
	assert.Equal(t, "medium", vp.VulnerabilityIndicators[0].Confidence)
	assert.Equal(t, 4, vp.ContractActivity["V"].TotalTransactions)
	assert.Empty(t, vp.ContractActivity["V"].UnusualActivityDays)

	_, ok = IdentifyVulnerabilityPatterns(txs, []string{"missing"})
	assert.False(t, ok)
}

func TestAnalyzeSecurityIncident(t *testing.T) {
	incident := models.Incident{
		Name:                "Test exploit",
		Date:                incidentDate,
		ExploitAddresses:    []string{"E"},
		VulnerableContracts: []string{"E"},
		AttackVector:        "flash_loan",
	}

	report := newTestAnalyzer().AnalyzeSecurityIncident(incident, exploitHistory(), exploitTransfers())
	assert.Len(t, report.TransactionPatterns, 3)
	require.NotNil(t, report.FundFlows)
	assert.Equal(t, 2, report.FundFlows.Summary.InitialCount)
	require.Len(t, report.AffectedAccounts, 1)
	assert.Equal(t, "CWE-667", report.VulnerabilityDetails.CWEID)
	assert.Equal(t, "flash_loan", report.VulnerabilityDetails.AttackVector)
	assert.Len(t, report.Recommendations, 5)
	require.NotNil(t, report.VulnerabilityPatterns)

	unknown := newTestAnalyzer().AnalyzeSecurityIncident(models.Incident{ExploitAddresses: []string{"nobody"}}, exploitHistory(), nil)
	assert.Empty(t, unknown.TransactionPatterns)
	assert.Empty(t, unknown.AffectedAccounts)
	assert.Nil(t, unknown.FundFlows)
}

func TestIdentifyVulnerabilityDetailsUnknownVector(t *testing.T) {
	v := IdentifyVulnerabilityDetails(models.Incident{AttackVector: "social_engineering"})
	assert.Equal(t, "Unknown", v.Category)
	assert.Equal(t, "social_engineering", v.AttackVector)
	assert.Len(t, SecurityRecommendations("social_engineering"), 3)
}
