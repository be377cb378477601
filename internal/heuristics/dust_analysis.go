package heuristics

import (
	"sort"

	"go.uber.org/zap"

	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

// Dusting and Address Poisoning Detection
//
// Dusting is an active surveillance technique: an adversary sends tiny token
// amounts to many wallets and watches which ones later move the dust
// together, linking otherwise unconnected accounts. Without a fixed dust
// limit per token, "small" is relative: a received transfer counts as dust
// when it is at or below the 10th percentile of everything the address
// received, and the address is flagged only when more than three such
// transfers exist.
//
// Address poisoning plants a look-alike address in the victim's history so
// that a later copy-paste from the history sends funds to the attacker.
// Wallet UIs truncate addresses to their first and last few characters, so
// similarity is measured there:
//
//   similarity = 0.6 × prefix match + 0.4 × suffix match   (8 chars each)
//
// A counterparty is a poisoning candidate when its similarity is strictly
// above the policy threshold and at least one of its transfers is dust-sized.
//
// References:
//   - Chainalysis, "Address Poisoning Scams" (2023)
//   - de Balthasar & Hernandez-Castro, "An Analysis of Bitcoin Laundry Services" (2017)

const (
	DustSuspiciousSmallTransfers = "suspicious_small_transfers"
	PoisoningPotential           = "potential_poisoning"
)

// DustingAttack summarizes dust-sized transfers received by an address.
type DustingAttack struct {
	Type       string            `json:"type"`
	Count      int               `json:"count"`
	Threshold  float64           `json:"threshold"`
	Confidence float64           `json:"confidence"`
	Transfers  []models.Transfer `json:"transfers"`
}

// PoisoningAttempt is one transfer involving a look-alike counterparty.
type PoisoningAttempt struct {
	Signature       string  `json:"signature,omitempty"`
	BlockTime       int64   `json:"blockTime"`
	SimilarAddress  string  `json:"similarAddress"`
	SimilarityScore float64 `json:"similarityScore"`
	Amount          float64 `json:"amount"`
	Mint            string  `json:"mint"`
	RiskScore       float64 `json:"riskScore"`
	Type            string  `json:"type"`
}

// DustingReport is the dusting and poisoning verdict for one address.
type DustingReport struct {
	Address           string             `json:"address"`
	DustingDetected   bool               `json:"dustingDetected"`
	PoisoningDetected bool               `json:"poisoningDetected"`
	DustingAttacks    []DustingAttack    `json:"dustingAttacks"`
	PoisoningAttempts []PoisoningAttempt `json:"poisoningAttempts"`
}

// AddressSimilarity compares the leading and trailing characters of two
// addresses position by position over min(chars, len) characters.
func AddressSimilarity(a, b string, chars int) float64 {
	n := min(chars, len(a), len(b))
	if n <= 0 {
		return 0
	}
	var prefix, suffix int
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			prefix++
		}
		if a[len(a)-n+i] == b[len(b)-n+i] {
			suffix++
		}
	}
	return 0.6*float64(prefix)/float64(n) + 0.4*float64(suffix)/float64(n)
}

// DetectDustingAndPoisoning inspects the token transfers of address.
func (a *Analyzer) DetectDustingAndPoisoning(address string, transfers []models.Transfer) DustingReport {
	report := DustingReport{
		Address:           address,
		DustingAttacks:    []DustingAttack{},
		PoisoningAttempts: []PoisoningAttempt{},
	}
	if len(transfers) == 0 {
		return report
	}

	threshold, haveThreshold := a.dustThreshold(transfers)

	if attack, ok := a.detectDusting(transfers); ok {
		report.DustingDetected = true
		report.DustingAttacks = append(report.DustingAttacks, attack)
	}
	if haveThreshold {
		report.PoisoningAttempts = a.detectPoisoning(address, transfers, threshold)
		report.PoisoningDetected = len(report.PoisoningAttempts) > 0
	}

	a.log.Info("analyzed dusting and poisoning",
		zap.String("address", address),
		zap.Bool("dusting", report.DustingDetected),
		zap.Int("poisoningAttempts", len(report.PoisoningAttempts)))
	return report
}

func receivedAmounts(transfers []models.Transfer) []float64 {
	var amounts []float64
	for _, t := range transfers {
		if t.Direction == models.DirectionReceived {
			amounts = append(amounts, t.Amount)
		}
	}
	return amounts
}

// dustThreshold is the dust percentile of received amounts, or of all
// amounts when nothing was received.
func (a *Analyzer) dustThreshold(transfers []models.Transfer) (float64, bool) {
	amounts := receivedAmounts(transfers)
	if len(amounts) == 0 {
		for _, t := range transfers {
			amounts = append(amounts, t.Amount)
		}
	}
	if len(amounts) == 0 {
		return 0, false
	}
	return percentile(amounts, a.policy.Dusting.Percentile), true
}

func (a *Analyzer) detectDusting(transfers []models.Transfer) (DustingAttack, bool) {
	p := a.policy.Dusting
	amounts := receivedAmounts(transfers)
	if len(amounts) == 0 {
		return DustingAttack{}, false
	}
	threshold := percentile(amounts, p.Percentile)

	var dust []models.Transfer
	for _, t := range transfers {
		if t.Direction == models.DirectionReceived && t.Amount <= threshold {
			dust = append(dust, t)
		}
	}
	if len(dust) <= p.MinDustCount {
		return DustingAttack{}, false
	}
	return DustingAttack{
		Type:       DustSuspiciousSmallTransfers,
		Count:      len(dust),
		Threshold:  threshold,
		Confidence: p.Confidence,
		Transfers:  dust,
	}, true
}

func (a *Analyzer) detectPoisoning(address string, transfers []models.Transfer, dustLimit float64) []PoisoningAttempt {
	chars := a.policy.Dusting.SimilarityChars

	byCounterparty := make(map[string][]models.Transfer)
	for _, t := range transfers {
		for _, cp := range [...]string{t.Owner, t.TokenAccount} {
			if cp == "" || cp == address {
				continue
			}
			byCounterparty[cp] = append(byCounterparty[cp], t)
		}
	}

	candidates := make([]string, 0, len(byCounterparty))
	for cp := range byCounterparty {
		candidates = append(candidates, cp)
	}
	sort.Strings(candidates)

	attempts := []PoisoningAttempt{}
	for _, cp := range candidates {
		sim := AddressSimilarity(address, cp, chars)
		if sim <= a.policy.PoisoningSimilarity {
			continue
		}
		cpTransfers := byCounterparty[cp]
		small := false
		for _, t := range cpTransfers {
			if t.Amount <= dustLimit {
				small = true
				break
			}
		}
		if !small {
			continue
		}
		for _, t := range cpTransfers {
			attempts = append(attempts, PoisoningAttempt{
				Signature:       t.Signature,
				BlockTime:       t.BlockTime,
				SimilarAddress:  cp,
				SimilarityScore: sim,
				Amount:          t.Amount,
				Mint:            t.Mint,
				RiskScore:       sim * 100,
				Type:            PoisoningPotential,
			})
		}
	}
	return attempts
}
