package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrReportNotFound is returned for unknown report ids.
var ErrReportNotFound = errors.New("report not found")

// Report kinds.
const (
	KindRiskAddress     = "risk_address"
	KindRiskToken       = "risk_token"
	KindRiskTransaction = "risk_transaction"
	KindClassification  = "classification"
	KindLaundering      = "laundering"
	KindDusting         = "dusting"
	KindIncident        = "incident"
	KindExfiltration    = "exfiltration"
	KindBatch           = "batch_screen"
)

// Report is one archived analysis output.
type Report struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	EntityID  string          `json:"entityId,omitempty"`
	RiskScore *float64        `json:"riskScore,omitempty"`
	RiskLevel string          `json:"riskLevel,omitempty"`
	Policy    string          `json:"policyVersion,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewReport marshals payload into a report with a fresh id.
func NewReport(kind, entityID string, payload any) (Report, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Report{}, fmt.Errorf("marshal %s report: %w", kind, err)
	}
	return Report{
		ID:        uuid.NewString(),
		Kind:      kind,
		EntityID:  entityID,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ReportStore archives reports.
type ReportStore interface {
	SaveReport(ctx context.Context, r Report) error
	GetReport(ctx context.Context, id string) (Report, error)
	ListReports(ctx context.Context, entityID string, limit int) ([]Report, error)
}

// MemoryStore is a bounded in-process ReportStore used when no database is
// configured. Oldest reports are evicted first.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]Report
	order   []string
	limit   int
}

// NewMemoryStore keeps at most limit reports.
func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{reports: make(map[string]Report), limit: max(1, limit)}
}

func (m *MemoryStore) SaveReport(_ context.Context, r Report) error {
	if r.ID == "" {
		return errors.New("report id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reports[r.ID]; !exists {
		m.order = append(m.order, r.ID)
	}
	m.reports[r.ID] = r
	for len(m.order) > m.limit {
		delete(m.reports, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

func (m *MemoryStore) GetReport(_ context.Context, id string) (Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return Report{}, ErrReportNotFound
	}
	return r, nil
}

// ListReports returns the newest reports first, optionally for one entity.
func (m *MemoryStore) ListReports(_ context.Context, entityID string, limit int) ([]Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Report, 0)
	for i := len(m.order) - 1; i >= 0; i-- {
		r := m.reports[m.order[i]]
		if entityID != "" && r.EntityID != entityID {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
