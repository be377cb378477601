package heuristics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cipherzeroprotocol/solana-guard/internal/solana"
	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

// Known-Entity Registry
//
// Concurrent-safe set of labelled addresses consulted by the scorers and
// turned into graph labels for route analysis. Lookups are O(1) under a
// read lock; writes are serialized.
//
// Categories and their baseline risk:
//   sanctioned  100  OFAC/SDN listed addresses
//   mixer        90  mixing services
//   scam         85  drainers, phishing and rug-pull deployers
//   bridge       60  cross-chain bridge custody and relayers
//   exchange     20  custodial exchange hot wallets

// Entity categories.
const (
	CategorySanctioned = "sanctioned"
	CategoryMixer      = "mixer"
	CategoryScam       = "scam"
	CategoryBridge     = "bridge"
	CategoryExchange   = "exchange"
)

// Flow types attached to graph labels.
const (
	FlowMixer              = "mixer"
	FlowCrossChainBridge   = "cross_chain_bridge"
	FlowExchangeWithdrawal = "exchange_withdrawal"
)

// KnownEntity is one registry entry.
type KnownEntity struct {
	Address   string    `json:"address"`
	Category  string    `json:"category"`
	Label     string    `json:"label"`
	RiskScore float64   `json:"riskScore"`
	AddedAt   time.Time `json:"addedAt"`
}

// EntityHit is a registry match inside a transaction.
type EntityHit struct {
	Address    string  `json:"address"`
	Category   string  `json:"category"`
	Label      string  `json:"label"`
	Role       string  `json:"role"` // signer, account or program
	RiskScore  float64 `json:"riskScore"`
	AlertLevel string  `json:"alertLevel"`
}

// BaselineRisk returns the default risk score of a category.
func BaselineRisk(category string) float64 {
	switch category {
	case CategorySanctioned:
		return 100
	case CategoryMixer:
		return 90
	case CategoryScam:
		return 85
	case CategoryBridge:
		return 60
	case CategoryExchange:
		return 20
	default:
		return 0
	}
}

// AlertLevelForCategory maps a category to the alert severity of a hit.
func AlertLevelForCategory(category string) string {
	switch category {
	case CategorySanctioned, CategoryMixer:
		return "critical"
	case CategoryScam:
		return "high"
	case CategoryBridge:
		return "medium"
	default:
		return "low"
	}
}

// FlowTypeForCategory maps a category to the flow type used by route analysis.
func FlowTypeForCategory(category string) string {
	switch category {
	case CategoryMixer:
		return FlowMixer
	case CategoryBridge:
		return FlowCrossChainBridge
	case CategoryExchange:
		return FlowExchangeWithdrawal
	default:
		return ""
	}
}

// EntityRegistry holds known entities keyed by address.
type EntityRegistry struct {
	mu       sync.RWMutex
	entities map[string]KnownEntity
}

// NewEntityRegistry creates an empty registry.
func NewEntityRegistry() *EntityRegistry {
	return &EntityRegistry{entities: make(map[string]KnownEntity)}
}

// NewDefaultEntityRegistry creates a registry seeded with the risky programs
// known to internal/solana.
func NewDefaultEntityRegistry() *EntityRegistry {
	r := NewEntityRegistry()
	for _, p := range solana.RiskyPrograms() {
		category := CategoryBridge
		if p.RiskScore >= 90 {
			category = CategoryMixer
		}
		r.entities[p.ID] = KnownEntity{
			Address:   p.ID,
			Category:  category,
			Label:     p.Name,
			RiskScore: p.RiskScore,
			AddedAt:   time.Now().UTC(),
		}
	}
	return r
}

// Add registers an address. A negative riskScore selects the category
// baseline. The address must be a valid Solana public key.
func (r *EntityRegistry) Add(addr, category, label string, riskScore float64) error {
	if err := solana.ValidateAddress(addr); err != nil {
		return err
	}
	switch category {
	case CategorySanctioned, CategoryMixer, CategoryScam, CategoryBridge, CategoryExchange:
	default:
		return fmt.Errorf("unknown entity category %q", category)
	}
	if riskScore < 0 {
		riskScore = BaselineRisk(category)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[addr] = KnownEntity{
		Address:   addr,
		Category:  category,
		Label:     label,
		RiskScore: clampScore(riskScore),
		AddedAt:   time.Now().UTC(),
	}
	return nil
}

// Remove forgets an address.
func (r *EntityRegistry) Remove(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entities, addr)
}

// Lookup returns the entry for addr.
func (r *EntityRegistry) Lookup(addr string) (KnownEntity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[addr]
	return e, ok
}

// Size returns the number of registered addresses.
func (r *EntityRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// List returns all entries sorted by address.
func (r *EntityRegistry) List() []KnownEntity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]KnownEntity, 0, len(r.entities))
	for _, e := range r.entities {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Address < list[j].Address })
	return list
}

// Labels converts the registry into graph labels.
func (r *EntityRegistry) Labels() []models.EntityLabel {
	list := r.List()
	labels := make([]models.EntityLabel, 0, len(list))
	for _, e := range list {
		score := e.RiskScore
		labels = append(labels, models.EntityLabel{
			Address:   e.Address,
			Label:     e.Label,
			Type:      e.Category,
			RiskScore: &score,
			FlowType:  FlowTypeForCategory(e.Category),
		})
	}
	return labels
}

// CheckTransaction returns every registered address the transaction touches.
// An address seen in several roles is reported once, in its first role.
func (r *EntityRegistry) CheckTransaction(tx models.Transaction) []EntityHit {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var hits []EntityHit
	seen := make(map[string]struct{})
	check := func(addr, role string) {
		if addr == "" {
			return
		}
		if _, dup := seen[addr]; dup {
			return
		}
		e, ok := r.entities[addr]
		if !ok {
			return
		}
		seen[addr] = struct{}{}
		hits = append(hits, EntityHit{
			Address:    addr,
			Category:   e.Category,
			Label:      e.Label,
			Role:       role,
			RiskScore:  e.RiskScore,
			AlertLevel: AlertLevelForCategory(e.Category),
		})
	}

	check(tx.Signer, "signer")
	for _, acct := range tx.Accounts {
		check(acct, "account")
	}
	for _, p := range tx.Programs {
		check(p, "program")
	}
	return hits
}
