package heuristics

import (
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

// Relationship types.
const (
	RelationRecipient = "recipient"
	RelationSource    = "source"
	RelationPeer      = "peer"
	RelationUnknown   = "unknown"
)

// RelatedAddress describes how strongly a counterparty is tied to an address.
type RelatedAddress struct {
	Address           string  `json:"address"`
	RelationshipType  string  `json:"relationshipType"`
	Strength          float64 `json:"relationshipStrength"`
	TotalTransactions int     `json:"totalTransactions"`
	SentCount         int     `json:"sentCount"`
	ReceivedCount     int     `json:"receivedCount"`
}

// IdentifyRelatedAddresses ranks the counterparties of address by
// relationship strength. Two-way flow is stronger evidence than one-way;
// regular timing and quick back-and-forth each add 0.2.
func (a *Analyzer) IdentifyRelatedAddresses(address string, transfers []models.Transfer) []RelatedAddress {
	byCounterparty := make(map[string][]models.Transfer)
	for _, t := range transfers {
		if t.TokenAccount != "" && t.TokenAccount != address {
			byCounterparty[t.TokenAccount] = append(byCounterparty[t.TokenAccount], t)
		}
		if t.Owner != "" && t.Owner != address && t.Owner != t.TokenAccount {
			byCounterparty[t.Owner] = append(byCounterparty[t.Owner], t)
		}
	}

	related := make([]RelatedAddress, 0, len(byCounterparty))
	for cp, cpTransfers := range byCounterparty {
		var sent, received int
		times := make([]int64, 0, len(cpTransfers))
		for _, t := range cpTransfers {
			switch t.Direction {
			case models.DirectionSent:
				sent++
			case models.DirectionReceived:
				received++
			}
			times = append(times, t.BlockTime)
		}

		kind, strength := RelationUnknown, 0.0
		switch {
		case sent > 0 && received > 0:
			switch {
			case sent > 2*received:
				kind, strength = RelationRecipient, 0.6
			case received > 2*sent:
				kind, strength = RelationSource, 0.6
			default:
				kind, strength = RelationPeer, 0.7
			}
		case sent > 0:
			kind, strength = RelationRecipient, 0.5
		case received > 0:
			kind, strength = RelationSource, 0.5
		}

		if gaps := gapsSeconds(times); len(gaps) > 0 {
			m := mean(gaps)
			if m > 0 && len(gaps) > 5 && stat.PopStdDev(gaps, nil)/m < 0.5 {
				strength += 0.2
			}
			if countBelow(gaps, a.policy.Laundering.RapidGapSeconds) > 3 {
				strength += 0.2
			}
		}

		related = append(related, RelatedAddress{
			Address:           cp,
			RelationshipType:  kind,
			Strength:          min(1, strength),
			TotalTransactions: sent + received,
			SentCount:         sent,
			ReceivedCount:     received,
		})
	}

	sort.Slice(related, func(i, j int) bool {
		if related[i].Strength != related[j].Strength {
			return related[i].Strength > related[j].Strength
		}
		return related[i].Address < related[j].Address
	})

	a.log.Info("identified related addresses",
		zap.String("address", address),
		zap.Int("count", len(related)))
	return related
}
