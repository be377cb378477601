// Package session keeps flow graphs alive between HTTP requests so an
// analyst can build a graph incrementally and query it repeatedly.
//
// Session lifecycle:
//
//	created  -> empty graph, or seeded from transfers/labels/routes
//	updated  -> more transfers or labels merged in (write lock)
//	queried  -> paths, centrality, communities... (read lock)
//	expired  -> idle longer than the TTL, removed by the janitor
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cipherzeroprotocol/solana-guard/internal/config"
	"github.com/cipherzeroprotocol/solana-guard/internal/flowgraph"
	"github.com/cipherzeroprotocol/solana-guard/internal/logger"
	"github.com/cipherzeroprotocol/solana-guard/internal/metrics"
)

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

// Session owns one flow graph guarded by an RWMutex.
type Session struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time

	mu        sync.RWMutex
	updatedAt time.Time
	graph     *flowgraph.FlowGraph
	now       func() time.Time
}

// Info is the serializable summary of a session.
type Info struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Nodes       int       `json:"nodes"`
	Edges       int       `json:"edges"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Read runs fn with shared access to the graph.
func (s *Session) Read(fn func(g *flowgraph.FlowGraph)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.graph)
}

// Write runs fn with exclusive access to the graph and bumps UpdatedAt.
func (s *Session) Write(fn func(g *flowgraph.FlowGraph)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.graph)
	s.updatedAt = s.now()
}

// Info summarizes the session.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		Nodes:       s.graph.NodeCount(),
		Edges:       s.graph.EdgeCount(),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.updatedAt,
	}
}

func (s *Session) lastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Manager handles creation, lookup and expiry of sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	policy  config.Policy
	ttl     time.Duration
	log     *logger.Logger
	base    *logger.Logger
	metrics *metrics.Registry
	now     func() time.Time
}

// NewManager creates a session manager. ttl <= 0 disables expiry.
func NewManager(policy config.Policy, ttl time.Duration, log *logger.Logger, reg *metrics.Registry) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		policy:   policy,
		ttl:      ttl,
		log:      logger.OrNop(log).WithComponent("sessions"),
		base:     logger.OrNop(log),
		metrics:  reg,
		now:      time.Now,
	}
}

// Create starts a session with an empty graph.
func (m *Manager) Create(name, description string) *Session {
	now := m.now().UTC()
	id := uuid.NewString()
	s := &Session{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		updatedAt:   now,
		graph:       flowgraph.New(m.policy, m.base.WithFields(map[string]interface{}{"session": id}), flowgraph.WithMetrics(m.metrics)),
		now:         func() time.Time { return m.now().UTC() },
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetGraphSessions(n)
	m.log.Info("session created", zap.String("id", s.ID), zap.String("name", name))
	return s
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete removes a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	if _, ok := m.sessions[id]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetGraphSessions(n)
	m.log.Info("session deleted", zap.String("id", id))
	return nil
}

// List summarizes every session, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Sweep removes sessions idle for longer than the TTL and returns how many
// were removed.
func (m *Manager) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := m.now().UTC().Add(-m.ttl)

	m.mu.Lock()
	removed := 0
	for id, s := range m.sessions {
		if s.lastUpdate().Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if removed > 0 {
		m.metrics.SetGraphSessions(n)
		m.log.Info("expired idle sessions", zap.Int("removed", removed), zap.Int("remaining", n))
	}
	return removed
}

// RunJanitor sweeps every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
