package session

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherzeroprotocol/solana-guard/internal/config"
	"github.com/cipherzeroprotocol/solana-guard/internal/flowgraph"
	"github.com/cipherzeroprotocol/solana-guard/internal/logger"
	"github.com/cipherzeroprotocol/solana-guard/internal/metrics"
	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

func TestManagerLifecycle(t *testing.T) {
	reg := metrics.NewRegistry()
	m := NewManager(config.DefaultPolicy(), time.Hour, logger.Nop(), reg)

	s := m.Create("case-1", "drainer trace")
	require.NotEmpty(t, s.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.GraphSessions))

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	s.Write(func(g *flowgraph.FlowGraph) {
		g.AddTransfers([]models.Transfer{{Owner: "A", TokenAccount: "B", Direction: models.DirectionSent, Mint: "m", Amount: 1}})
	})
	info := s.Info()
	assert.Equal(t, 2, info.Nodes)
	assert.Equal(t, 1, info.Edges)

	require.Len(t, m.List(), 1)

	require.NoError(t, m.Delete(s.ID))
	assert.ErrorIs(t, m.Delete(s.ID), ErrNotFound)
	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0.0, testutil.ToFloat64(reg.GraphSessions))
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(config.DefaultPolicy(), 30*time.Minute, nil, nil)
	m.now = func() time.Time { return clock }

	idle := m.Create("idle", "")
	busy := m.Create("busy", "")

	clock = clock.Add(20 * time.Minute)
	busy.Write(func(*flowgraph.FlowGraph) {})

	clock = clock.Add(15 * time.Minute)
	assert.Equal(t, 1, m.Sweep())

	_, err := m.Get(idle.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(busy.ID)
	assert.NoError(t, err)

	assert.Zero(t, NewManager(config.DefaultPolicy(), 0, nil, nil).Sweep(), "zero ttl never expires")
}

func TestSessionConcurrentAccess(t *testing.T) {
	m := NewManager(config.DefaultPolicy(), 0, nil, nil)
	s := m.Create("concurrent", "")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Write(func(g *flowgraph.FlowGraph) {
				g.AddTransfers([]models.Transfer{{Owner: "A", TokenAccount: "B", Direction: models.DirectionSent, Mint: "m", Amount: 1}})
			})
		}()
		go func() {
			defer wg.Done()
			s.Read(func(g *flowgraph.FlowGraph) { g.FindPaths("A", "B", 5) })
		}()
	}
	wg.Wait()

	s.Read(func(g *flowgraph.FlowGraph) {
		e, ok := g.Edge("A", "B")
		require.True(t, ok)
		assert.Equal(t, 8, e.Weight)
	})
}
