// Package alerts raises structured alerts for high-risk analysis results and
// fans them out to live dashboards, webhooks and NATS.
package alerts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cipherzeroprotocol/solana-guard/internal/logger"
	"github.com/cipherzeroprotocol/solana-guard/internal/metrics"
	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

// Severities, lowest first.
const (
	SeverityInfo     = "info"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var severityRank = map[string]int{
	SeverityInfo: 0, SeverityLow: 1, SeverityMedium: 2, SeverityHigh: 3, SeverityCritical: 4,
}

// Alert types.
const (
	TypeHighRisk     = "high_risk"
	TypeKnownEntity  = "known_entity"
	TypeExfiltration = "exfiltration_route"
	TypeLaundering   = "money_laundering"
)

// Alert is a structured security alert.
type Alert struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Severity    string    `json:"severity"`
	AlertType   string    `json:"alertType"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	EntityID    string    `json:"entityId,omitempty"`
	EntityType  string    `json:"entityType,omitempty"`
	RiskScore   float64   `json:"riskScore,omitempty"`
	Signals     []string  `json:"signals,omitempty"`
}

// Sink delivers alerts to one destination.
type Sink interface {
	Name() string
	Publish(ctx context.Context, a Alert) error
}

// Manager keeps recent alert history and forwards alerts to its sinks.
type Manager struct {
	mu          sync.RWMutex
	log         *logger.Logger
	metrics     *metrics.Registry
	sinks       []Sink
	recent      []Alert
	maxHistory  int
	minSeverity string
	now         func() time.Time
}

// NewManager creates an alert manager. Alerts below minSeverity are
// dropped; historySize bounds the in-memory history.
func NewManager(minSeverity string, historySize int, log *logger.Logger, reg *metrics.Registry, sinks ...Sink) *Manager {
	if _, ok := severityRank[minSeverity]; !ok {
		minSeverity = SeverityHigh
	}
	return &Manager{
		log:         logger.OrNop(log).WithComponent("alerts"),
		metrics:     reg,
		sinks:       sinks,
		recent:      make([]Alert, 0),
		maxHistory:  max(1, historySize),
		minSeverity: minSeverity,
		now:         time.Now,
	}
}

// AddSink registers another destination.
func (m *Manager) AddSink(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

// Emit records and distributes an alert. It reports whether the alert met
// the minimum severity. Sink failures are logged, never returned.
func (m *Manager) Emit(ctx context.Context, a Alert) bool {
	if !SeverityMeetsThreshold(a.Severity, m.minSeverity) {
		return false
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = m.now().UTC()
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	m.mu.Lock()
	m.recent = append(m.recent, a)
	if len(m.recent) > m.maxHistory {
		m.recent = m.recent[len(m.recent)-m.maxHistory:]
	}
	sinks := make([]Sink, len(m.sinks))
	copy(sinks, m.sinks)
	m.mu.Unlock()

	for _, s := range sinks {
		if err := s.Publish(ctx, a); err != nil {
			m.log.Warn("alert delivery failed",
				zap.String("sink", s.Name()),
				zap.String("alert", a.ID),
				zap.Error(err))
		}
	}

	m.metrics.RecordAlert(a.Severity)
	m.log.Info("alert emitted",
		zap.String("severity", a.Severity),
		zap.String("type", a.AlertType),
		zap.String("entity", a.EntityID),
		zap.String("title", a.Title))
	return true
}

// EmitFromRisk raises a high_risk alert for a risk result whose level maps
// to a severity at or above the threshold.
func (m *Manager) EmitFromRisk(ctx context.Context, res models.RiskScoreResult) bool {
	severity := SeverityForRiskLevel(res.RiskLevel)
	signals := make([]string, 0, len(res.RiskFactors))
	for _, f := range res.RiskFactors {
		signals = append(signals, f.Name)
	}
	return m.Emit(ctx, Alert{
		Severity:    severity,
		AlertType:   TypeHighRisk,
		Title:       fmt.Sprintf("%s risk %s %s", strings.ReplaceAll(res.RiskLevel, "_", " "), res.EntityType, shortID(res.EntityID)),
		Description: describe(res),
		EntityID:    res.EntityID,
		EntityType:  res.EntityType,
		RiskScore:   res.RiskScore,
		Signals:     signals,
	})
}

// Recent returns up to limit alerts, most recent first. limit <= 0 returns
// the whole history.
func (m *Manager) Recent(limit int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.recent) {
		limit = len(m.recent)
	}
	out := make([]Alert, limit)
	for i := 0; i < limit; i++ {
		out[i] = m.recent[len(m.recent)-1-i]
	}
	return out
}

// BySeverity returns history entries at or above minSeverity, oldest first.
func (m *Manager) BySeverity(minSeverity string) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Alert, 0)
	for _, a := range m.recent {
		if SeverityMeetsThreshold(a.Severity, minSeverity) {
			out = append(out, a)
		}
	}
	return out
}

// SeverityMeetsThreshold reports whether severity is at least minimum.
// Unknown severities rank as info.
func SeverityMeetsThreshold(severity, minimum string) bool {
	return severityRank[severity] >= severityRank[minimum]
}

// SeverityForRiskLevel maps a risk band onto an alert severity.
func SeverityForRiskLevel(level string) string {
	switch level {
	case models.RiskVeryHigh:
		return SeverityCritical
	case models.RiskHigh:
		return SeverityHigh
	case models.RiskMedium:
		return SeverityMedium
	case models.RiskLow:
		return SeverityLow
	}
	return SeverityInfo
}

func describe(res models.RiskScoreResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Risk score %.1f.", res.RiskScore)
	for i, f := range res.RiskFactors {
		if i == 0 {
			b.WriteString(" Signals: ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(f.Description)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:4] + "..." + id[len(id)-4:]
}
