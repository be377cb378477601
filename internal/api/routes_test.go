package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherzeroprotocol/solana-guard/internal/alerts"
	"github.com/cipherzeroprotocol/solana-guard/internal/batch"
	"github.com/cipherzeroprotocol/solana-guard/internal/config"
	"github.com/cipherzeroprotocol/solana-guard/internal/db"
	"github.com/cipherzeroprotocol/solana-guard/internal/heuristics"
	"github.com/cipherzeroprotocol/solana-guard/internal/logger"
	"github.com/cipherzeroprotocol/solana-guard/internal/metrics"
	"github.com/cipherzeroprotocol/solana-guard/internal/session"
	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

const (
	walletA = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	walletB = "So11111111111111111111111111111111111111112"
)

type testServer struct {
	router *gin.Engine
	alerts *alerts.Manager
	store  *db.MemoryStore
}

func newTestServer(t *testing.T, tweak ...func(*config.ServerConfig)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := config.ServerConfig{Mode: gin.TestMode, RatePerMinute: 6000, RateBurst: 1000}
	for _, fn := range tweak {
		fn(&srv)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	policy := config.DefaultPolicy()
	reg := metrics.NewRegistry()
	log := logger.Nop()
	analyzer := heuristics.NewAnalyzer(policy, log, heuristics.WithRegistry(heuristics.NewDefaultEntityRegistry()))
	mgr := alerts.NewManager(alerts.SeverityHigh, 100, log, reg)
	store := db.NewMemoryStore(100)

	router := SetupRouter(Deps{
		Server:      srv,
		Analyzer:    analyzer,
		Sessions:    session.NewManager(policy, time.Hour, log, reg),
		Alerts:      mgr,
		Batch:       batch.NewRunner(analyzer, config.BatchConfig{Concurrency: 2, MaxJobs: 10}, log, batch.WithStore(store), batch.WithMetrics(reg)),
		Reports:     store,
		Metrics:     reg,
		Logger:      log,
		BaseContext: ctx,
	})
	return &testServer{router: router, alerts: mgr, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "operational", body["status"])
	assert.Equal(t, config.PolicyVersion, body["policyVersion"])
	assert.Equal(t, false, body["dbConnected"])
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t, func(c *config.ServerConfig) { c.AuthToken = "s3cret" })

	tests := []struct {
		name   string
		header []string
		want   int
	}{
		{"missing header", nil, http.StatusUnauthorized},
		{"wrong scheme", []string{"Authorization", "Basic s3cret"}, http.StatusForbidden},
		{"wrong token", []string{"Authorization", "Bearer nope"}, http.StatusForbidden},
		{"valid token", []string{"Authorization", "Bearer s3cret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodGet, "/api/v1/graphs", nil, tt.header...)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	w := s.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code, "health stays public")
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(ctx, 60, 2)
	rl.now = func() time.Time { return now }

	ok, _ := rl.allow("1.2.3.4")
	assert.True(t, ok)
	ok, _ = rl.allow("1.2.3.4")
	assert.True(t, ok)
	ok, retry := rl.allow("1.2.3.4")
	assert.False(t, ok)
	assert.Equal(t, time.Second, retry)

	ok, _ = rl.allow("5.6.7.8")
	assert.True(t, ok, "buckets are per IP")

	now = now.Add(time.Second)
	ok, _ = rl.allow("1.2.3.4")
	assert.True(t, ok, "one token refills per second")

	rl.sweep(now.Add(time.Minute))
	assert.Empty(t, rl.buckets)
}

func TestGraphLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/graphs", map[string]any{
		"name": "case-1",
		"transfers": []models.Transfer{
			{Owner: "A", TokenAccount: "B", Direction: models.DirectionSent, Mint: "SOL", Amount: 2, BlockTime: 100},
			{Owner: "C", TokenAccount: "B", Direction: models.DirectionReceived, Mint: "SOL", Amount: 1, BlockTime: 200},
			{Owner: "", TokenAccount: "B", Direction: models.DirectionSent},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	sess := created["session"].(map[string]any)
	id := sess["id"].(string)
	assert.EqualValues(t, 3, sess["nodes"])
	assert.EqualValues(t, 2, created["added"].(map[string]any)["transfers"])

	base := "/api/v1/graphs/" + id
	w = s.do(t, http.MethodGet, base+"/paths?source=A&target=C", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{[]any{"A", "B", "C"}}, decode(t, w)["paths"])

	w = s.do(t, http.MethodGet, base+"/paths?source=Z", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, base+"/paths", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, base+"/transfers", map[string]any{
		"transfers": []models.Transfer{
			{Owner: "C", TokenAccount: "A", Direction: models.DirectionSent, Mint: "SOL", Amount: 1, BlockTime: 300},
			{Owner: "C", TokenAccount: "A", Direction: models.DirectionSent, Amount: 1, BlockTime: 301},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	added := decode(t, w)
	assert.EqualValues(t, 1, added["added"])
	assert.EqualValues(t, 1, added["skipped"], "records without a mint are skipped")

	w = s.do(t, http.MethodGet, base+"/cycles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{[]any{"A", "B", "C"}}, decode(t, w)["cycles"])

	for _, path := range []string{"/centrality", "/communities", "/topologies", ""} {
		w = s.do(t, http.MethodGet, base+path, nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w = s.do(t, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExfiltrationRaisesAlert(t *testing.T) {
	s := newTestServer(t)
	risk := 90.0

	w := s.do(t, http.MethodPost, "/api/v1/graphs", map[string]any{
		"name": "drain",
		"routes": []models.RouteRecord{{
			SourceAddress: "S", TargetAddress: "M", Intermediate: []string{"I"},
			FlowType: "mixer", AmountUSD: 1000, RiskScore: &risk,
		}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["session"].(map[string]any)["id"].(string)

	w = s.do(t, http.MethodGet, "/api/v1/graphs/"+id+"/exfiltration?source=S", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["total"])
	assert.Equal(t, true, body["alerted"])
	assert.NotEmpty(t, body["reportId"])

	recent := s.alerts.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, alerts.TypeExfiltration, recent[0].AlertType)
	assert.Equal(t, alerts.SeverityCritical, recent[0].Severity)
	assert.Equal(t, []string{"S", "I", "M"}, recent[0].Signals)
}

func TestRiskAddressArchivesReport(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/risk/address", map[string]any{"address": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/risk/address", heuristics.AddressRiskInput{
		Address:  walletA,
		External: &models.ExternalRisk{RiskScore: 95},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	result := body["result"].(map[string]any)
	assert.Equal(t, walletA, result["entityId"])

	reportID := body["reportId"].(string)
	require.NotEmpty(t, reportID)
	w = s.do(t, http.MethodGet, "/api/v1/reports/"+reportID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, db.KindRiskAddress, decode(t, w)["kind"])

	w = s.do(t, http.MethodGet, "/api/v1/reports?entity="+walletA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total"])

	w = s.do(t, http.MethodGet, "/api/v1/reports/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBatchScreen(t *testing.T) {
	s := newTestServer(t)
	jobs := []batch.Job{{Address: walletA}, {Address: walletB}}

	w := s.do(t, http.MethodPost, "/api/v1/batch/screen", map[string]any{"jobs": jobs})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 2, decode(t, w)["total"])

	w = s.do(t, http.MethodPost, "/api/v1/batch/screen", map[string]any{"jobs": []batch.Job{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/batch/screen", map[string]any{"jobs": jobs, "async": true})
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode(t, w)["id"].(string)

	require.Eventually(t, func() bool {
		w := s.do(t, http.MethodGet, "/api/v1/batch/"+id, nil)
		return w.Code == http.StatusOK && decode(t, w)["state"] == batch.StateCompleted
	}, 5*time.Second, 10*time.Millisecond)

	w = s.do(t, http.MethodGet, "/api/v1/batch/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSequencesAndEntropy(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/sequences", map[string]any{
		"tokens": []string{"A", "B", "A", "B", "A", "B"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	seqs := decode(t, w)["sequences"].([]any)
	require.NotEmpty(t, seqs)
	first := seqs[0].(map[string]any)
	assert.Equal(t, []any{"A", "B"}, first["sequence"])
	assert.EqualValues(t, 3, first["occurrences"])

	w = s.do(t, http.MethodPost, "/api/v1/entropy", map[string]any{"values": []float64{5, 5, 5, 5}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["entropy"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/v1/health", nil)

	w := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `solguard_http_requests_total{method="GET",route="/api/v1/health",status="200"} 1`))
}
