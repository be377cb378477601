package flowgraph

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherzeroprotocol/solana-guard/internal/config"
	"github.com/cipherzeroprotocol/solana-guard/internal/logger"
	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

func newTestGraph(tweak ...func(*config.Policy)) *FlowGraph {
	policy := config.DefaultPolicy()
	for _, fn := range tweak {
		fn(&policy)
	}
	return New(policy, logger.Nop())
}

func sent(from, to, mint string, amount float64, ts int64, sig string) models.Transfer {
	return models.Transfer{Owner: from, TokenAccount: to, Direction: models.DirectionSent,
		Mint: mint, Amount: amount, BlockTime: ts, Signature: sig}
}

// chain adds one transfer per consecutive pair, e.g. chain(g, "A", "B", "C").
func chain(g *FlowGraph, ids ...string) {
	for i := 0; i+1 < len(ids); i++ {
		g.AddTransfers([]models.Transfer{sent(ids[i], ids[i+1], "mint", 1, 0, "")})
	}
}

func risk(v float64) *float64 { return &v }

func TestAddTransfersAggregates(t *testing.T) {
	g := newTestGraph()
	applied := g.AddTransfers([]models.Transfer{
		sent("A", "B", "m2", 1.5, 100, "s1"),
		sent("A", "B", "m1", 2.25, 50, "s2"),
		{Owner: "A", TokenAccount: "C", Direction: models.DirectionReceived, Mint: "m1", Amount: 4, BlockTime: 10},
		{Owner: "", TokenAccount: "C", Direction: models.DirectionSent, Mint: "m1", Amount: 1},
		{Owner: "A", TokenAccount: "C", Direction: "swap", Mint: "m1", Amount: 1},
		{Owner: "A", TokenAccount: "C", Direction: models.DirectionSent, Mint: "m1", Amount: -1},
		{Owner: "A", TokenAccount: "C", Direction: models.DirectionSent, Amount: 1},
	})

	assert.Equal(t, 3, applied)
	assert.Equal(t, 3, g.NodeCount())
	assert.Equal(t, 2, g.EdgeCount())

	ab, ok := g.Edge("A", "B")
	require.True(t, ok)
	assert.Equal(t, 2, ab.Weight)
	assert.Equal(t, "3.75", ab.Volume.String())
	assert.Equal(t, []string{"m1", "m2"}, ab.TokenList())
	assert.Equal(t, int64(50), ab.FirstTime)
	assert.Equal(t, int64(100), ab.LastTime)
	assert.Equal(t, []string{"s1", "s2"}, ab.TxHashes)

	_, ok = g.Edge("C", "A")
	assert.True(t, ok, "received flows from the counterparty to the owner")
	_, ok = g.Edge("A", "C")
	assert.False(t, ok)

	n, err := g.Node("B")
	require.NoError(t, err)
	assert.Equal(t, NodeAddress, n.Type)

	_, err = g.Node("missing")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestEdgeAggregationProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("weight counts transfers and volume sums amounts", prop.ForAll(
		func(amounts []int) bool {
			if len(amounts) == 0 {
				return true
			}
			g := newTestGraph()
			want := decimal.Zero
			for i, a := range amounts {
				g.AddTransfers([]models.Transfer{sent("A", "B", "m", float64(a), int64((i*7919)%1000), "")})
				want = want.Add(decimal.NewFromInt(int64(a)))
			}
			e, ok := g.Edge("A", "B")
			return ok &&
				e.Weight == len(amounts) &&
				e.Volume.Equal(want) &&
				e.LastTime >= e.FirstTime &&
				g.EdgeCount() == 1
		},
		gen.SliceOf(gen.IntRange(0, 1_000_000)),
	))

	properties.TestingRun(t)
}

func TestAddLabels(t *testing.T) {
	g := newTestGraph()
	chain(g, "A", "B")

	applied := g.AddLabels([]models.EntityLabel{
		{Address: "B", Label: "Hot wallet", Type: "exchange", RiskScore: risk(20)},
		{Address: "M", Label: "Mixer", RiskScore: risk(95), FlowType: "mixer"},
		{Label: "no address"},
	})
	assert.Equal(t, 2, applied)
	assert.Equal(t, 1, g.EdgeCount(), "labels never add edges")

	b, err := g.Node("B")
	require.NoError(t, err)
	assert.Equal(t, NodeType("exchange"), b.Type)
	assert.Equal(t, "Hot wallet", b.Label)
	assert.Equal(t, 20.0, *b.RiskScore)

	m, err := g.Node("M")
	require.NoError(t, err)
	assert.Equal(t, NodeEntity, m.Type)
	assert.Equal(t, "mixer", m.FlowType)
}

func TestAddRoutes(t *testing.T) {
	g := newTestGraph()
	applied := g.AddRoutes([]models.RouteRecord{
		{SourceAddress: "S", TargetAddress: "M", Intermediate: []string{"I"},
			TransactionHash: "tx1", FlowType: "mixer", AmountUSD: 100, RiskScore: risk(90)},
		{SourceAddress: "S", TargetAddress: "S"},
	})
	require.Equal(t, 1, applied)

	s, _ := g.Node("S")
	assert.True(t, s.IsSource)
	assert.Equal(t, NodeSource, s.Type)

	i, _ := g.Node("I")
	assert.Equal(t, NodeIntermediate, i.Type)

	m, _ := g.Node("M")
	assert.Equal(t, "mixer", m.FlowType)
	require.NotNil(t, m.RiskScore)
	assert.Equal(t, 90.0, *m.RiskScore)

	first, ok := g.Edge("S", "I")
	require.True(t, ok)
	assert.Nil(t, first.RiskScore)
	assert.Equal(t, "100", first.Volume.String())

	last, ok := g.Edge("I", "M")
	require.True(t, ok)
	require.NotNil(t, last.RiskScore)
	assert.Equal(t, 90.0, *last.RiskScore)
	assert.Equal(t, "mixer", last.FlowType)
	assert.Equal(t, []string{"tx1"}, last.TxHashes)
}

func TestImportRestoresExport(t *testing.T) {
	g := newTestGraph()
	g.AddTransfers([]models.Transfer{
		sent("A", "B", "m1", 1.5, 100, "s1"),
		sent("A", "B", "m2", 2, 200, "s2"),
		sent("B", "C", "m1", 7, 300, "s3"),
	})
	g.AddLabels([]models.EntityLabel{{Address: "C", Label: "Bridge", RiskScore: risk(60), FlowType: "cross_chain_bridge"}})

	exp := g.ExportJSON()
	restored := newTestGraph()
	restored.Import(exp)

	assert.Equal(t, exp, restored.ExportJSON())
}
