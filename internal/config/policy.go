package config

import (
	"errors"
	"fmt"
	"math"
)

// PolicyVersion identifies the threshold set below. Bump it whenever a
// default changes so archived reports can be compared like for like.
const PolicyVersion = "2024.11-1"

// CategoryWeight is one row of a risk weight table.
type CategoryWeight struct {
	Category string  `mapstructure:"category" json:"category"`
	Weight   float64 `mapstructure:"weight" json:"weight"`
}

// WeightTable is an ordered category weight table. Order is the order in
// which categories appear in results.
type WeightTable []CategoryWeight

// Weight returns the weight for a category, 0 when absent.
func (t WeightTable) Weight(category string) float64 {
	for _, cw := range t {
		if cw.Category == category {
			return cw.Weight
		}
	}
	return 0
}

// Sum returns the total of all weights in the table.
func (t WeightTable) Sum() float64 {
	var s float64
	for _, cw := range t {
		s += cw.Weight
	}
	return s
}

// ClassifierPolicy holds the ordered classification rule thresholds.
type ClassifierPolicy struct {
	ExchangeMinTx         int     `mapstructure:"exchange_min_tx"`
	ExchangeMinRecipients int     `mapstructure:"exchange_min_recipients"`
	ExchangeMinSenders    int     `mapstructure:"exchange_min_senders"`
	ExchangeMinDays       float64 `mapstructure:"exchange_min_days"`
	ExchangeMinTokens     int     `mapstructure:"exchange_min_tokens"`

	MixerMinExternal float64 `mapstructure:"mixer_min_external"`
	MixerRatioLow    float64 `mapstructure:"mixer_ratio_low"`
	MixerRatioHigh   float64 `mapstructure:"mixer_ratio_high"`
	MixerMaxTokens   int     `mapstructure:"mixer_max_tokens"`

	WhaleMinTx         int     `mapstructure:"whale_min_tx"`
	WhaleMaxTokens     int     `mapstructure:"whale_max_tokens"`
	WhaleMinDays       float64 `mapstructure:"whale_min_days"`
	WhaleMaxExternal   float64 `mapstructure:"whale_max_external"`
	WhaleMaxTxPerDay   float64 `mapstructure:"whale_max_tx_per_day"`
	WhaleConfidence    float64 `mapstructure:"whale_confidence"`
	BotMinTxPerDay     float64 `mapstructure:"bot_min_tx_per_day"`
	BotMinDays         float64 `mapstructure:"bot_min_days"`
	MuleMaxReceived    int     `mapstructure:"mule_max_received"`
	MuleMinSent        int     `mapstructure:"mule_min_sent"`
	MuleMinRecipients  int     `mapstructure:"mule_min_recipients"`
	MuleMaxDays        float64 `mapstructure:"mule_max_days"`
	MuleMinExternal    float64 `mapstructure:"mule_min_external"`
	MuleConfidence     float64 `mapstructure:"mule_confidence"`
	UserMaxTx          int     `mapstructure:"user_max_tx"`
	UserMaxTxPerDay    float64 `mapstructure:"user_max_tx_per_day"`
	UserMaxExternal    float64 `mapstructure:"user_max_external"`
	UserConfidence     float64 `mapstructure:"user_confidence"`
	ContractSentFactor float64 `mapstructure:"contract_sent_factor"`
	ContractConfidence float64 `mapstructure:"contract_confidence"`
}

// LaunderingPolicy holds money-laundering flag thresholds.
type LaunderingPolicy struct {
	HighRiskScore      float64 `mapstructure:"high_risk_score"`
	VelocityMinTx      int     `mapstructure:"velocity_min_tx"`
	VelocityMinRapid   int     `mapstructure:"velocity_min_rapid"`
	RapidGapSeconds    float64 `mapstructure:"rapid_gap_seconds"`
	DispersionMinCount int     `mapstructure:"dispersion_min_count"`
	DispersionMaxPerCp int     `mapstructure:"dispersion_max_per_counterparty"`
}

// DustingPolicy holds dusting and poisoning thresholds.
type DustingPolicy struct {
	Percentile      float64 `mapstructure:"percentile"`
	MinDustCount    int     `mapstructure:"min_dust_count"`
	Confidence      float64 `mapstructure:"confidence"`
	SimilarityChars int     `mapstructure:"similarity_chars"`
}

// Policy gathers every heuristic constant used by the analysis core.
type Policy struct {
	Version string `mapstructure:"version"`

	AddressWeights     WeightTable `mapstructure:"address_weights"`
	TokenWeights       WeightTable `mapstructure:"token_weights"`
	TransactionWeights WeightTable `mapstructure:"transaction_weights"`

	Classifier ClassifierPolicy `mapstructure:"classifier"`
	Laundering LaunderingPolicy `mapstructure:"laundering"`
	Dusting    DustingPolicy    `mapstructure:"dusting"`

	// PoisoningSimilarity is compared with a strict greater-than.
	PoisoningSimilarity float64 `mapstructure:"poisoning_similarity"`

	EntropyZThreshold float64 `mapstructure:"entropy_z_threshold"`
	EntropyWindow     int     `mapstructure:"entropy_window"`

	DefaultMaxPathLength int     `mapstructure:"default_max_path_length"`
	MaxExploredPaths     int     `mapstructure:"max_explored_paths"`
	// MaxCentralityNodes caps betweenness, which is O(n*m); larger graphs
	// report zero betweenness.
	MaxCentralityNodes   int     `mapstructure:"max_centrality_nodes"`
	HighRiskNodeScore    float64 `mapstructure:"high_risk_node_score"`
	LouvainEnabled       bool    `mapstructure:"louvain_enabled"`
	LouvainSeed          uint64  `mapstructure:"louvain_seed"`
	LouvainResolution    float64 `mapstructure:"louvain_resolution"`

	// AlertScore is the lowest final risk score that raises an alert.
	AlertScore float64 `mapstructure:"alert_score"`
}

// DefaultPolicy returns the documented default thresholds.
func DefaultPolicy() Policy {
	return Policy{
		Version: PolicyVersion,
		AddressWeights: WeightTable{
			{"transaction_patterns", 0.25},
			{"interaction_entities", 0.30},
			{"account_history", 0.15},
			{"token_activity", 0.20},
			{"external_risk", 0.10},
		},
		TokenWeights: WeightTable{
			{"creator_risk", 0.25},
			{"liquidity_risk", 0.20},
			{"ownership_distribution", 0.25},
			{"price_manipulation", 0.15},
			{"contract_risk", 0.15},
		},
		TransactionWeights: WeightTable{
			{"involved_entities", 0.35},
			{"transaction_amount", 0.20},
			{"transaction_complexity", 0.15},
			{"temporal_patterns", 0.10},
			{"program_risk", 0.20},
		},
		Classifier: ClassifierPolicy{
			ExchangeMinTx:         10000,
			ExchangeMinRecipients: 1000,
			ExchangeMinSenders:    1000,
			ExchangeMinDays:       100,
			ExchangeMinTokens:     10,
			MixerMinExternal:      80,
			MixerRatioLow:         0.9,
			MixerRatioHigh:        1.1,
			MixerMaxTokens:        5,
			WhaleMinTx:            100,
			WhaleMaxTokens:        20,
			WhaleMinDays:          30,
			WhaleMaxExternal:      50,
			WhaleMaxTxPerDay:      10,
			WhaleConfidence:       0.6,
			BotMinTxPerDay:        50,
			BotMinDays:            7,
			MuleMaxReceived:       5,
			MuleMinSent:           10,
			MuleMinRecipients:     8,
			MuleMaxDays:           7,
			MuleMinExternal:       60,
			MuleConfidence:        0.7,
			UserMaxTx:             1000,
			UserMaxTxPerDay:       10,
			UserMaxExternal:       40,
			UserConfidence:        0.5,
			ContractSentFactor:    5,
			ContractConfidence:    0.5,
		},
		Laundering: LaunderingPolicy{
			HighRiskScore:      75,
			VelocityMinTx:      100,
			VelocityMinRapid:   10,
			RapidGapSeconds:    60,
			DispersionMinCount: 50,
			DispersionMaxPerCp: 3,
		},
		Dusting: DustingPolicy{
			Percentile:      0.10,
			MinDustCount:    3,
			Confidence:      0.5,
			SimilarityChars: 8,
		},
		PoisoningSimilarity:  0.8,
		EntropyZThreshold:    2.0,
		EntropyWindow:        5,
		DefaultMaxPathLength: 5,
		MaxExploredPaths:     100000,
		MaxCentralityNodes:   2000,
		HighRiskNodeScore:    75,
		LouvainEnabled:       true,
		LouvainSeed:          42,
		LouvainResolution:    1.0,
		AlertScore:           61,
	}
}

// Validate checks weight tables and threshold ranges.
func (p Policy) Validate() error {
	var errs []error
	tables := []struct {
		name  string
		table WeightTable
	}{
		{"address_weights", p.AddressWeights},
		{"token_weights", p.TokenWeights},
		{"transaction_weights", p.TransactionWeights},
	}
	for _, t := range tables {
		if len(t.table) == 0 {
			errs = append(errs, fmt.Errorf("%s: empty table", t.name))
			continue
		}
		for _, cw := range t.table {
			if cw.Weight < 0 {
				errs = append(errs, fmt.Errorf("%s: negative weight for %s", t.name, cw.Category))
			}
		}
		if math.Abs(t.table.Sum()-1) > 1e-9 {
			errs = append(errs, fmt.Errorf("%s: weights sum to %.4f, want 1", t.name, t.table.Sum()))
		}
	}
	if p.PoisoningSimilarity <= 0 || p.PoisoningSimilarity > 1 {
		errs = append(errs, fmt.Errorf("poisoning_similarity %.2f out of (0,1]", p.PoisoningSimilarity))
	}
	if p.Dusting.Percentile <= 0 || p.Dusting.Percentile >= 1 {
		errs = append(errs, fmt.Errorf("dusting.percentile %.2f out of (0,1)", p.Dusting.Percentile))
	}
	if p.Dusting.SimilarityChars <= 0 {
		errs = append(errs, errors.New("dusting.similarity_chars must be positive"))
	}
	if p.EntropyWindow < 2 {
		errs = append(errs, errors.New("entropy_window must be at least 2"))
	}
	if p.DefaultMaxPathLength < 1 {
		errs = append(errs, errors.New("default_max_path_length must be at least 1"))
	}
	if p.MaxExploredPaths < 1 {
		errs = append(errs, errors.New("max_explored_paths must be at least 1"))
	}
	if p.MaxCentralityNodes < 2 {
		errs = append(errs, errors.New("max_centrality_nodes must be at least 2"))
	}
	if p.LouvainResolution <= 0 {
		errs = append(errs, errors.New("louvain_resolution must be positive"))
	}
	if p.AlertScore < 0 || p.AlertScore > 100 {
		errs = append(errs, fmt.Errorf("alert_score %.1f out of [0,100]", p.AlertScore))
	}
	return errors.Join(errs...)
}
