package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherzeroprotocol/solana-guard/internal/logger"
	"github.com/cipherzeroprotocol/solana-guard/internal/metrics"
	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

type recordingSink struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return s.err
}

func TestSeverityMeetsThreshold(t *testing.T) {
	tests := []struct {
		severity, minimum string
		want              bool
	}{
		{SeverityCritical, SeverityHigh, true},
		{SeverityHigh, SeverityHigh, true},
		{SeverityMedium, SeverityHigh, false},
		{"bogus", SeverityLow, false},
		{SeverityInfo, SeverityInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.severity+"_vs_"+tt.minimum, func(t *testing.T) {
			assert.Equal(t, tt.want, SeverityMeetsThreshold(tt.severity, tt.minimum))
		})
	}
}

func TestManagerEmit(t *testing.T) {
	sink := &recordingSink{}
	failing := &recordingSink{err: errors.New("down")}
	reg := metrics.NewRegistry()
	m := NewManager(SeverityHigh, 2, logger.Nop(), reg, sink, failing)

	ctx := context.Background()
	assert.False(t, m.Emit(ctx, Alert{Severity: SeverityMedium, Title: "ignored"}))
	require.True(t, m.Emit(ctx, Alert{Severity: SeverityHigh, Title: "first"}))
	require.True(t, m.Emit(ctx, Alert{Severity: SeverityCritical, Title: "second"}))
	require.True(t, m.Emit(ctx, Alert{Severity: SeverityHigh, Title: "third"}))

	assert.Len(t, sink.alerts, 3)
	assert.Len(t, failing.alerts, 3, "a failing sink does not stop delivery")
	assert.NotEmpty(t, sink.alerts[0].ID)
	assert.False(t, sink.alerts[0].Timestamp.IsZero())

	recent := m.Recent(0)
	require.Len(t, recent, 2, "history is bounded")
	assert.Equal(t, "third", recent[0].Title)
	assert.Equal(t, "second", recent[1].Title)
	assert.Len(t, m.Recent(1), 1)

	crit := m.BySeverity(SeverityCritical)
	require.Len(t, crit, 1)
	assert.Equal(t, "second", crit[0].Title)

	assert.Equal(t, 2.0, testutil.ToFloat64(reg.AlertsTotal.WithLabelValues(SeverityHigh)))
}

func TestEmitFromRisk(t *testing.T) {
	sink := &recordingSink{}
	m := NewManager(SeverityHigh, 10, nil, nil, sink)

	res := models.RiskScoreResult{
		EntityID:   "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU",
		EntityType: models.EntityAddress,
		RiskScore:  86,
		RiskLevel:  models.RiskVeryHigh,
		RiskFactors: []models.RiskFactor{
			{Name: "mixer_interaction", Description: "Interacted with a mixer"},
		},
	}
	require.True(t, m.EmitFromRisk(context.Background(), res))
	require.Len(t, sink.alerts, 1)

	a := sink.alerts[0]
	assert.Equal(t, SeverityCritical, a.Severity)
	assert.Equal(t, TypeHighRisk, a.AlertType)
	assert.Equal(t, "very high risk address 7xKX...gAsU", a.Title)
	assert.Equal(t, []string{"mixer_interaction"}, a.Signals)
	assert.Contains(t, a.Description, "Interacted with a mixer")

	res.RiskLevel = models.RiskMedium
	assert.False(t, m.EmitFromRisk(context.Background(), res))
}

func TestWebhookSink(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL).Publish(context.Background(), Alert{ID: "a1", Severity: SeverityHigh})
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	assert.Error(t, NewWebhookSink(failing.URL).Publish(context.Background(), Alert{}))
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(ctx, Alert{ID: "live", Severity: SeverityCritical}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Alert
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "live", got.ID)
}
