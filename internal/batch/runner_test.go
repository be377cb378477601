package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherzeroprotocol/solana-guard/internal/alerts"
	"github.com/cipherzeroprotocol/solana-guard/internal/config"
	"github.com/cipherzeroprotocol/solana-guard/internal/db"
	"github.com/cipherzeroprotocol/solana-guard/internal/heuristics"
	"github.com/cipherzeroprotocol/solana-guard/internal/logger"
	"github.com/cipherzeroprotocol/solana-guard/internal/metrics"
	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

const (
	addrA = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	addrB = "So11111111111111111111111111111111111111112"
)

type countingSink struct {
	mu  sync.Mutex
	ids []string
}

func (s *countingSink) Name() string { return "counting" }

func (s *countingSink) Publish(_ context.Context, a alerts.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, a.EntityID)
	return nil
}

func newTestRunner(t *testing.T, cfg config.BatchConfig) (*Runner, *db.MemoryStore, *countingSink, *metrics.Registry) {
	t.Helper()
	reg := metrics.NewRegistry()
	sink := &countingSink{}
	mgr := alerts.NewManager(alerts.SeverityInfo, 100, logger.Nop(), reg, sink)
	store := db.NewMemoryStore(100)
	analyzer := heuristics.NewAnalyzer(config.DefaultPolicy(), logger.Nop())
	r := NewRunner(analyzer, cfg, logger.Nop(), WithAlerts(mgr), WithStore(store), WithMetrics(reg))
	return r, store, sink, reg
}

func activity(addr string) Job {
	base := int64(1_700_000_000)
	job := Job{Address: addr}
	for i := 0; i < 5; i++ {
		sig := "sig" + string(rune('a'+i))
		job.Transactions = append(job.Transactions, models.Transaction{
			Signature: sig,
			Address:   addr,
			Signer:    addr,
			BlockTime: base + int64(i)*600,
			Amount:    1.5,
			Success:   true,
		})
		job.Transfers = append(job.Transfers, models.Transfer{
			Owner:        addr,
			TokenAccount: "counterparty",
			Direction:    models.DirectionReceived,
			Mint:         "SOL",
			Amount:       1.5,
			BlockTime:    base + int64(i)*600,
			Signature:    sig,
		})
	}
	return job
}

func TestScreen(t *testing.T) {
	r, store, sink, reg := newTestRunner(t, config.BatchConfig{Concurrency: 2, MaxJobs: 10})

	jobs := []Job{activity(addrA), {Address: "not-an-address"}, activity(addrB)}
	results, err := r.Screen(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, res := range results {
		assert.Equal(t, jobs[i].Address, res.Address, "results keep job order")
	}

	assert.NotEmpty(t, results[1].Error)
	assert.Nil(t, results[1].Risk)

	for _, res := range []Result{results[0], results[2]} {
		require.Empty(t, res.Error)
		require.NotNil(t, res.Risk)
		require.NotNil(t, res.Classification)
		assert.Equal(t, res.Address, res.Risk.EntityID)
		assert.True(t, res.Alerted)

		report, err := store.GetReport(context.Background(), res.ReportID)
		require.NoError(t, err)
		assert.Equal(t, db.KindBatch, report.Kind)
		require.NotNil(t, report.RiskScore)
		assert.Equal(t, res.Risk.RiskScore, *report.RiskScore)
	}

	assert.ElementsMatch(t, []string{addrA, addrB}, sink.ids)
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.BatchJobsTotal.WithLabelValues("screened")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.BatchJobsTotal.WithLabelValues("invalid")))
}

func TestScreenLimits(t *testing.T) {
	r, _, _, _ := newTestRunner(t, config.BatchConfig{Concurrency: 1, MaxJobs: 2})

	_, err := r.Screen(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoJobs)

	_, err = r.Screen(context.Background(), []Job{{Address: addrA}, {Address: addrA}, {Address: addrB}})
	assert.ErrorIs(t, err, ErrTooManyJobs)

	_, err = r.Status("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestScreenCancelled(t *testing.T) {
	r, store, _, _ := newTestRunner(t, config.BatchConfig{Concurrency: 1, MaxJobs: 10})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := r.Screen(ctx, []Job{activity(addrA), activity(addrB)})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.NotEmpty(t, res.Error)
		assert.Nil(t, res.Risk)
	}

	reports, err := store.ListReports(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestStartAndStatus(t *testing.T) {
	r, _, _, _ := newTestRunner(t, config.BatchConfig{Concurrency: 4, MaxJobs: 10})

	id, err := r.Start(context.Background(), []Job{activity(addrA), activity(addrB), {Address: "bad"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := r.Status(id)
		return err == nil && st.State != StateRunning
	}, 5*time.Second, 10*time.Millisecond)

	st, err := r.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, 3, st.Total)
	assert.EqualValues(t, 3, st.Completed)
	assert.EqualValues(t, 1, st.Failed)
	require.NotNil(t, st.FinishedAt)
	assert.Len(t, st.Results, 3)
}
