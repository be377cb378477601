package heuristics

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

// Security Incident Analysis
//
// Reconstructs what happened around a known exploit from the transaction and
// transfer history of the exploit addresses:
//
//   1. Activity window: one day before to three days after the incident.
//      Hourly transaction counts (empty hours included) above mean + 2σ
//      are reported as spikes.
//   2. Scripted behavior: per address with at least three transactions in
//      the window, repeated instruction-type sequences (top 5).
//   3. Value outliers: amounts above mean + 3σ of the full exploit history,
//      counted inside the window.
//   4. Fund flow: outflows of the exploit addresses and the outflows of the
//      receiving accounts (second hop), with per-token volume totals.
//   5. Affected accounts with their net token changes, and vulnerability
//      signatures in the instruction stream of the vulnerable contracts.
//
// References:
//   - Solana Foundation, "Wormhole Incident Report" (2022)
//   - Zhou et al., "SoK: Decentralized Finance (DeFi) Attacks" (IEEE S&P 2023)

// Incident pattern types.
const (
	PatternTransactionSpike    = "transaction_spike"
	PatternRepeatedInstruction = "repeated_instruction_sequence"
	PatternUnusualTxSize       = "unusual_transaction_size"
)

const (
	incidentLookBack    = 24 * time.Hour
	incidentLookAhead   = 72 * time.Hour
	incidentMinSeqTxs   = 3
	incidentTopPatterns = 5
	fundFlowSecondHop   = 2
)

// IncidentPattern is one transaction pattern observed around an incident.
// Exactly one of the detail pointers is set, matching Type.
type IncidentPattern struct {
	Type        string              `json:"type"`
	Description string              `json:"description"`
	Spike       *SpikeDetails       `json:"spike,omitempty"`
	Sequences   *SequenceDetails    `json:"sequences,omitempty"`
	Outliers    *AmountOutlierStats `json:"outliers,omitempty"`
}

// SpikeDetails describes hourly activity spikes.
type SpikeDetails struct {
	SpikeTimes      []time.Time `json:"spikeTimes"`
	NormalHourlyAvg float64     `json:"normalHourlyAvg"`
	MaxHourlyCount  int         `json:"maxHourlyCount"`
}

// SequenceDetails lists the repeated instruction sequences of one address.
type SequenceDetails struct {
	Address          string             `json:"address"`
	RepeatedPatterns []RepeatedSequence `json:"repeatedPatterns"`
}

// AmountOutlierStats describes unusually large transactions.
type AmountOutlierStats struct {
	NormalMean   float64 `json:"normalMean"`
	Threshold    float64 `json:"threshold"`
	OutlierCount int     `json:"outlierCount"`
	MaxAmount    float64 `json:"maxAmount"`
}

// FlowTransfer is one traced outflow.
type FlowTransfer struct {
	FromAddress   string    `json:"fromAddress"`
	ToAccount     string    `json:"toAccount"`
	Token         string    `json:"token"`
	Amount        float64   `json:"amount"`
	Time          time.Time `json:"time"`
	TransactionID string    `json:"transactionId"`
	Hop           int       `json:"hop"`
}

// TokenVolume is the traced volume of one token.
type TokenVolume struct {
	Token  string          `json:"token"`
	Volume decimal.Decimal `json:"volume"`
}

// FundFlowSummary aggregates traced outflows.
type FundFlowSummary struct {
	TotalVolume       decimal.Decimal `json:"totalVolume"`
	TokenDistribution []TokenVolume   `json:"tokenDistribution"`
	InitialCount      int             `json:"initialCount"`
	SubsequentCount   int             `json:"subsequentCount"`
}

// FundFlows holds the traced outflows of the exploit addresses.
type FundFlows struct {
	Initial    []FlowTransfer  `json:"initial"`
	Subsequent []FlowTransfer  `json:"subsequent"`
	Summary    FundFlowSummary `json:"summary"`
}

// AccountImpact summarizes how an account took part in an incident.
type AccountImpact struct {
	TransactionCount int                `json:"transactionCount"`
	FirstInteraction time.Time          `json:"firstInteraction"`
	TokenChanges     map[string]float64 `json:"tokenChanges,omitempty"`
	NetTokenCount    int                `json:"netTokenCount"`
}

// AffectedAccount is an account that transacted during an incident.
type AffectedAccount struct {
	Address string        `json:"address"`
	Type    string        `json:"type"` // program, token or user
	Impact  AccountImpact `json:"impact"`
}

// IncidentReport is the full analysis of one security incident.
type IncidentReport struct {
	Incident              models.Incident        `json:"incident"`
	TransactionPatterns   []IncidentPattern      `json:"transactionPatterns"`
	FundFlows             *FundFlows             `json:"fundFlows,omitempty"`
	AffectedAccounts      []AffectedAccount      `json:"affectedAccounts"`
	VulnerabilityDetails  VulnerabilityDetails   `json:"vulnerabilityDetails"`
	VulnerabilityPatterns *VulnerabilityPatterns `json:"vulnerabilityPatterns,omitempty"`
	Recommendations       []Recommendation       `json:"recommendations"`
}

// AnalyzeSecurityIncident analyzes an incident against the supplied history.
// With no transactions of the exploit addresses the report carries only the
// incident itself.
func (a *Analyzer) AnalyzeSecurityIncident(incident models.Incident, txs []models.Transaction, transfers []models.Transfer) IncidentReport {
	report := IncidentReport{
		Incident:            incident,
		TransactionPatterns: []IncidentPattern{},
		AffectedAccounts:    []AffectedAccount{},
		Recommendations:     []Recommendation{},
	}
	log := a.log.With(zap.String("incident", incident.Name))

	if len(txs) == 0 {
		log.Warn("no transaction data for incident analysis")
		return report
	}

	exploit := stringSet(incident.ExploitAddresses)
	var exploitTxs []models.Transaction
	for _, tx := range txs {
		if _, ok := exploit[tx.Address]; ok {
			exploitTxs = append(exploitTxs, tx)
			continue
		}
		if _, ok := exploit[tx.Signer]; ok {
			exploitTxs = append(exploitTxs, tx)
		}
	}
	if len(exploitTxs) == 0 {
		log.Warn("no transactions found for the exploit addresses")
		return report
	}

	report.TransactionPatterns = AnalyzeIncidentPatterns(exploitTxs, incident.Date)
	if len(transfers) > 0 {
		flows := TraceFundFlows(transfers, incident.ExploitAddresses)
		report.FundFlows = &flows
	}
	report.AffectedAccounts = IdentifyAffectedAccounts(exploitTxs, transfers)
	report.Recommendations = SecurityRecommendations(incident.AttackVector)
	report.VulnerabilityDetails = IdentifyVulnerabilityDetails(incident)
	if len(incident.VulnerableContracts) > 0 {
		if vp, ok := IdentifyVulnerabilityPatterns(txs, incident.VulnerableContracts); ok {
			report.VulnerabilityPatterns = &vp
		}
	}

	log.Info("analyzed security incident",
		zap.Int("exploitTxs", len(exploitTxs)),
		zap.Int("patterns", len(report.TransactionPatterns)),
		zap.Int("affectedAccounts", len(report.AffectedAccounts)))
	return report
}

// AnalyzeIncidentPatterns looks for spikes, scripted sequences and amount
// outliers around date.
func AnalyzeIncidentPatterns(txs []models.Transaction, date time.Time) []IncidentPattern {
	patterns := []IncidentPattern{}
	start := date.Add(-incidentLookBack).Unix()
	end := date.Add(incidentLookAhead).Unix()

	var window []models.Transaction
	for _, tx := range txs {
		if tx.BlockTime >= start && tx.BlockTime <= end {
			window = append(window, tx)
		}
	}
	if len(window) == 0 {
		return patterns
	}
	sort.SliceStable(window, func(i, j int) bool { return window[i].BlockTime < window[j].BlockTime })

	if p, ok := hourlySpikes(window); ok {
		patterns = append(patterns, p)
	}
	patterns = append(patterns, repeatedInstructionPatterns(window)...)
	if p, ok := amountOutliers(txs, window); ok {
		patterns = append(patterns, p)
	}
	return patterns
}

// hourlySpikes buckets a time-sorted window into hours from the first to the
// last transaction, empty hours included.
func hourlySpikes(window []models.Transaction) (IncidentPattern, bool) {
	first := floorDiv(window[0].BlockTime, 3600)
	last := floorDiv(window[len(window)-1].BlockTime, 3600)
	counts := make([]float64, last-first+1)
	for _, tx := range window {
		counts[floorDiv(tx.BlockTime, 3600)-first]++
	}
	if len(counts) < 2 {
		return IncidentPattern{}, false
	}

	avg := mean(counts)
	threshold := avg + 2*sampleStd(counts)
	details := &SpikeDetails{SpikeTimes: []time.Time{}, NormalHourlyAvg: avg}
	for i, c := range counts {
		if c > threshold {
			details.SpikeTimes = append(details.SpikeTimes, time.Unix((first+int64(i))*3600, 0).UTC())
			details.MaxHourlyCount = max(details.MaxHourlyCount, int(c))
		}
	}
	if len(details.SpikeTimes) == 0 {
		return IncidentPattern{}, false
	}
	return IncidentPattern{
		Type:        PatternTransactionSpike,
		Description: "Abnormal transaction activity detected during incident timeframe",
		Spike:       details,
	}, true
}

func repeatedInstructionPatterns(window []models.Transaction) []IncidentPattern {
	byAddress := make(map[string][]string)
	counts := make(map[string]int)
	for _, tx := range window {
		counts[tx.Address]++
		if tx.InstructionType != "" {
			byAddress[tx.Address] = append(byAddress[tx.Address], tx.InstructionType)
		}
	}
	addrs := make([]string, 0, len(counts))
	for addr := range counts {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	var patterns []IncidentPattern
	for _, addr := range addrs {
		if counts[addr] < incidentMinSeqTxs {
			continue
		}
		repeated := FindRepeatedSequences(byAddress[addr], 2, 2)
		if len(repeated) == 0 {
			continue
		}
		if len(repeated) > incidentTopPatterns {
			repeated = repeated[:incidentTopPatterns]
		}
		patterns = append(patterns, IncidentPattern{
			Type:        PatternRepeatedInstruction,
			Description: fmt.Sprintf("Address %s executed repeated instruction patterns during incident", addr),
			Sequences:   &SequenceDetails{Address: addr, RepeatedPatterns: repeated},
		})
	}
	return patterns
}

// amountOutliers measures the amount distribution over the full history and
// counts the window transactions above mean + 3σ.
func amountOutliers(all, window []models.Transaction) (IncidentPattern, bool) {
	amounts := make([]float64, len(all))
	maxAmount := all[0].Amount
	for i, tx := range all {
		amounts[i] = tx.Amount
		maxAmount = max(maxAmount, tx.Amount)
	}
	if len(amounts) < 2 {
		return IncidentPattern{}, false
	}
	avg := mean(amounts)
	threshold := avg + 3*sampleStd(amounts)

	outliers := 0
	for _, tx := range window {
		if tx.Amount > threshold {
			outliers++
		}
	}
	if outliers == 0 {
		return IncidentPattern{}, false
	}
	return IncidentPattern{
		Type:        PatternUnusualTxSize,
		Description: "Unusually large transaction amounts detected during incident",
		Outliers: &AmountOutlierStats{
			NormalMean:   avg,
			Threshold:    threshold,
			OutlierCount: outliers,
			MaxAmount:    maxAmount,
		},
	}, true
}

// TraceFundFlows follows the outflows of the exploit addresses and the
// outflows of the accounts that received them.
func TraceFundFlows(transfers []models.Transfer, exploitAddresses []string) FundFlows {
	flows := FundFlows{
		Initial:    []FlowTransfer{},
		Subsequent: []FlowTransfer{},
		Summary:    FundFlowSummary{TokenDistribution: []TokenVolume{}},
	}
	exploit := stringSet(exploitAddresses)

	sorted := append([]models.Transfer(nil), transfers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].BlockTime < sorted[j].BlockTime })

	dest := make(map[string]struct{})
	for _, t := range sorted {
		if _, ok := exploit[t.Owner]; !ok || t.Direction != models.DirectionSent {
			continue
		}
		flows.Initial = append(flows.Initial, flowTransfer(t, 1))
		dest[t.TokenAccount] = struct{}{}
	}
	if len(flows.Initial) == 0 {
		return flows
	}

	for _, t := range sorted {
		if _, ok := dest[t.Owner]; !ok || t.Direction != models.DirectionSent {
			continue
		}
		flows.Subsequent = append(flows.Subsequent, flowTransfer(t, fundFlowSecondHop))
	}

	volumes := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for _, f := range append(append([]FlowTransfer(nil), flows.Initial...), flows.Subsequent...) {
		amt := decimal.NewFromFloat(f.Amount)
		volumes[f.Token] = volumes[f.Token].Add(amt)
		total = total.Add(amt)
	}
	for token, vol := range volumes {
		flows.Summary.TokenDistribution = append(flows.Summary.TokenDistribution, TokenVolume{Token: token, Volume: vol})
	}
	sort.Slice(flows.Summary.TokenDistribution, func(i, j int) bool {
		a, b := flows.Summary.TokenDistribution[i], flows.Summary.TokenDistribution[j]
		if c := a.Volume.Cmp(b.Volume); c != 0 {
			return c > 0
		}
		return a.Token < b.Token
	})
	flows.Summary.TotalVolume = total
	flows.Summary.InitialCount = len(flows.Initial)
	flows.Summary.SubsequentCount = len(flows.Subsequent)
	return flows
}

func flowTransfer(t models.Transfer, hop int) FlowTransfer {
	return FlowTransfer{
		FromAddress:   t.Owner,
		ToAccount:     t.TokenAccount,
		Token:         t.Mint,
		Amount:        t.Amount,
		Time:          t.Time(),
		TransactionID: t.Signature,
		Hop:           hop,
	}
}

// IdentifyAffectedAccounts lists every account of the incident that has
// transactions, with its net token changes, most active first.
func IdentifyAffectedAccounts(txs []models.Transaction, transfers []models.Transfer) []AffectedAccount {
	candidates := make(map[string]struct{})
	for _, tx := range txs {
		candidates[tx.Address] = struct{}{}
		candidates[tx.Signer] = struct{}{}
	}
	for _, t := range transfers {
		candidates[t.Owner] = struct{}{}
		candidates[t.TokenAccount] = struct{}{}
	}
	delete(candidates, "")

	accounts := []AffectedAccount{}
	for account := range candidates {
		var own []models.Transaction
		for _, tx := range txs {
			if tx.Address == account || tx.Signer == account {
				own = append(own, tx)
			}
		}
		if len(own) == 0 {
			continue
		}

		kind := "user"
		first := own[0].BlockTime
		for _, tx := range own {
			switch {
			case tx.AccountType == "program":
				kind = "program"
			case tx.AccountType == "token" && kind != "program":
				kind = "token"
			}
			first = min(first, tx.BlockTime)
		}

		impact := AccountImpact{
			TransactionCount: len(own),
			FirstInteraction: time.Unix(first, 0).UTC(),
		}
		for _, t := range transfers {
			from, to, ok := t.Endpoints()
			if !ok || (from != account && to != account) {
				continue
			}
			if impact.TokenChanges == nil {
				impact.TokenChanges = make(map[string]float64)
			}
			// Signed from the account's side of the transfer.
			if to == account {
				impact.TokenChanges[t.Mint] += t.Amount
			} else {
				impact.TokenChanges[t.Mint] -= t.Amount
			}
		}
		impact.NetTokenCount = len(impact.TokenChanges)

		accounts = append(accounts, AffectedAccount{Address: account, Type: kind, Impact: impact})
	}

	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].Impact.TransactionCount != accounts[j].Impact.TransactionCount {
			return accounts[i].Impact.TransactionCount > accounts[j].Impact.TransactionCount
		}
		return accounts[i].Address < accounts[j].Address
	})
	return accounts
}

// ContractActivity summarizes the daily activity of one contract.
type ContractActivity struct {
	TotalTransactions   int      `json:"totalTransactions"`
	DailyAverage        float64  `json:"dailyAverage"`
	UnusualActivityDays []string `json:"unusualActivityDays"`
}

// SuspiciousSequence is a vulnerability signature found in a contract's
// instruction stream.
type SuspiciousSequence struct {
	Contract        string   `json:"contract"`
	PatternType     string   `json:"patternType"`
	MatchedSequence []string `json:"matchedSequence"`
}

// VulnerabilityIndicator is a suspected vulnerability of a contract.
type VulnerabilityIndicator struct {
	Type        string `json:"type"`
	Contract    string `json:"contract"`
	Confidence  string `json:"confidence"`
	Description string `json:"description"`
}

// VulnerabilityPatterns is the instruction-level view of vulnerable contracts.
type VulnerabilityPatterns struct {
	ContractActivity        map[string]ContractActivity `json:"contractActivity"`
	VulnerabilityIndicators []VulnerabilityIndicator    `json:"vulnerabilityIndicators"`
	InstructionFrequencies  map[string]int              `json:"instructionFrequencies"`
	SuspiciousSequences     []SuspiciousSequence        `json:"suspiciousSequences"`
}

// vulnerabilitySignature is an ordered instruction subsequence typical of an
// exploit class.
type vulnerabilitySignature struct {
	kind  string
	steps []string
	re    *regexp.Regexp
}

var vulnerabilitySignatures = buildSignatures([]vulnerabilitySignature{
	{kind: "reentrancy", steps: []string{"withdraw", "transfer", "call"}},
	{kind: "price_manipulation", steps: []string{"swap", "deposit", "withdraw"}},
	{kind: "flash_loan", steps: []string{"flash_loan", "swap", "repay"}},
	{kind: "access_control", steps: []string{"set_authority", "set_owner", "upgrade"}},
})

func buildSignatures(sigs []vulnerabilitySignature) []vulnerabilitySignature {
	for i := range sigs {
		quoted := make([]string, len(sigs[i].steps))
		for j, s := range sigs[i].steps {
			quoted[j] = regexp.QuoteMeta(s)
		}
		sigs[i].re = regexp.MustCompile("(?i)" + strings.Join(quoted, ".*"))
	}
	return sigs
}

// IdentifyVulnerabilityPatterns inspects the transactions of the given
// contracts. ok is false when none of them has transactions.
func IdentifyVulnerabilityPatterns(txs []models.Transaction, contracts []string) (VulnerabilityPatterns, bool) {
	set := stringSet(contracts)
	byContract := make(map[string][]models.Transaction)
	for _, tx := range txs {
		if _, ok := set[tx.Address]; ok {
			byContract[tx.Address] = append(byContract[tx.Address], tx)
		}
	}
	if len(byContract) == 0 {
		return VulnerabilityPatterns{}, false
	}

	vp := VulnerabilityPatterns{
		ContractActivity:        make(map[string]ContractActivity),
		VulnerabilityIndicators: []VulnerabilityIndicator{},
		InstructionFrequencies:  make(map[string]int),
		SuspiciousSequences:     []SuspiciousSequence{},
	}

	for _, contract := range contracts {
		ctxs := byContract[contract]
		if len(ctxs) == 0 {
			continue
		}
		sort.SliceStable(ctxs, func(i, j int) bool { return ctxs[i].BlockTime < ctxs[j].BlockTime })

		daily := make(map[string]float64)
		var days []string
		for _, tx := range ctxs {
			day := tx.Time().Format(time.DateOnly)
			if _, ok := daily[day]; !ok {
				days = append(days, day)
			}
			daily[day]++
		}
		counts := make([]float64, len(days))
		for i, d := range days {
			counts[i] = daily[d]
		}
		avg := mean(counts)
		activity := ContractActivity{
			TotalTransactions:   len(ctxs),
			DailyAverage:        avg,
			UnusualActivityDays: []string{},
		}
		if len(counts) > 1 {
			threshold := avg + 2*sampleStd(counts)
			for i, d := range days {
				if counts[i] > threshold {
					activity.UnusualActivityDays = append(activity.UnusualActivityDays, d)
				}
			}
		}
		vp.ContractActivity[contract] = activity

		instrs := make([]string, 0, len(ctxs))
		for _, tx := range ctxs {
			if tx.InstructionType == "" {
				continue
			}
			vp.InstructionFrequencies[tx.InstructionType]++
			instrs = append(instrs, tx.InstructionType)
		}
		stream := strings.Join(instrs, " ")
		for _, sig := range vulnerabilitySignatures {
			if sig.re.MatchString(stream) {
				vp.SuspiciousSequences = append(vp.SuspiciousSequences, SuspiciousSequence{
					Contract:        contract,
					PatternType:     sig.kind,
					MatchedSequence: sig.steps,
				})
			}
		}
	}

	for _, seq := range vp.SuspiciousSequences {
		vp.VulnerabilityIndicators = append(vp.VulnerabilityIndicators, VulnerabilityIndicator{
			Type:        seq.PatternType,
			Contract:    seq.Contract,
			Confidence:  "medium",
			Description: fmt.Sprintf("Potential %s vulnerability detected based on instruction sequence", seq.PatternType),
		})
	}
	return vp, true
}

func stringSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
