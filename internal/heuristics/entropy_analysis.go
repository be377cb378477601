package heuristics

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

// Transaction Entropy Analysis
//
// Shannon entropy over histogram-discretized value distributions. Mixer
// services and automated laundering flows produce value and timing series
// that are either too regular (low entropy, uniform denominations, fixed
// intervals) or split into a few denomination tiers (multi-modal density).
//
// Binning follows the numpy 'auto' estimator: the smaller of the
// Freedman–Diaconis and Sturges bin widths, Sturges alone when the IQR is 0.
//
// References:
//   - Freedman & Diaconis, "On the histogram as a density estimator" (1981)
//   - Scott, "Multivariate Density Estimation" (1992), bandwidth rule
//   - Möser et al., "An Empirical Analysis of Traceability in the Monero
//     Blockchain" (PoPETs 2018), timing and denomination fingerprints

// Distribution flags produced by ClassifyDistribution.
const (
	FlagUniformDistribution = "uniform_distribution"
	FlagRegularIntervals    = "regular_intervals"
	FlagMultipleClusters    = "multiple_clusters"
)

const (
	kdeSamplePoints  = 1000
	// maxHistogramBins bounds memory when a tight IQR meets a wide range.
	maxHistogramBins = 1 << 16
)

// CalculateEntropy returns the Shannon entropy in bits of the histogram of
// values. Zero for fewer than two values or when every value is equal.
func CalculateEntropy(values []float64) float64 {
	n := len(values)
	if n <= 1 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	lo, hi := sorted[0], sorted[n-1]
	if hi == lo {
		return 0
	}

	bins := autoBinCount(sorted)
	if bins <= 1 {
		return 0
	}

	dividers := make([]float64, bins+1)
	floats.Span(dividers, lo, hi)
	// stat.Histogram bins are half-open; widen the last edge so hi lands in it.
	dividers[bins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, sorted, nil)

	var entropy float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := c / float64(n)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// autoBinCount mirrors numpy's 'auto' bin selection on sorted input.
func autoBinCount(sorted []float64) int {
	n := float64(len(sorted))
	ptp := sorted[len(sorted)-1] - sorted[0]
	if ptp == 0 {
		return 1
	}

	sturges := ptp / (math.Log2(n) + 1)
	iqr := sortedPercentile(sorted, 0.75) - sortedPercentile(sorted, 0.25)
	width := sturges
	if iqr > 0 {
		fd := 2 * iqr * math.Pow(n, -1.0/3.0)
		width = math.Min(fd, sturges)
	}
	if width <= 0 {
		return 1
	}
	bins := math.Ceil(ptp / width)
	if bins > maxHistogramBins {
		return maxHistogramBins
	}
	return int(bins)
}

// ClassifyDistribution returns the independent distribution flags that fire
// for values. Fewer than five samples never produce a flag.
func ClassifyDistribution(values []float64) []string {
	n := len(values)
	if n < 5 {
		return nil
	}

	var flags []string

	unique := make(map[float64]struct{}, n)
	for _, v := range values {
		unique[v] = struct{}{}
	}
	if CalculateEntropy(values) < 1.0 && float64(len(unique)) < float64(n)*0.1 {
		flags = append(flags, FlagUniformDistribution)
	}

	if coefficientOfVariation(values) < 0.2 && n > 10 {
		flags = append(flags, FlagRegularIntervals)
	}

	if n > 20 && countDensityPeaks(values) >= 3 {
		flags = append(flags, FlagMultipleClusters)
	}
	return flags
}

// coefficientOfVariation uses the population standard deviation. A
// non-positive mean yields +Inf.
func coefficientOfVariation(values []float64) float64 {
	m := stat.Mean(values, nil)
	if m <= 0 {
		return math.Inf(1)
	}
	return stat.PopStdDev(values, nil) / m
}

// countDensityPeaks evaluates a Gaussian KDE with Scott's bandwidth on an
// even grid spanning the data and counts its local maxima.
func countDensityPeaks(values []float64) int {
	n := float64(len(values))
	sd := sampleStd(values)
	if sd == 0 {
		return 0
	}
	bw := math.Pow(n, -1.0/5.0) * sd

	lo, hi := floats.Min(values), floats.Max(values)
	grid := make([]float64, kdeSamplePoints)
	floats.Span(grid, lo, hi)

	density := make([]float64, kdeSamplePoints)
	for i, x := range grid {
		var sum float64
		for _, v := range values {
			sum += distuv.Normal{Mu: v, Sigma: bw}.Prob(x)
		}
		density[i] = sum / n
	}
	return countLocalMaxima(density)
}

// countLocalMaxima counts interior peaks. A flat top counts once when both
// of its flanks are lower.
func countLocalMaxima(d []float64) int {
	peaks := 0
	i := 1
	for i < len(d)-1 {
		if d[i-1] < d[i] {
			j := i
			for j < len(d)-1 && d[j+1] == d[i] {
				j++
			}
			if j < len(d)-1 && d[j+1] < d[i] {
				peaks++
				i = j + 1
				continue
			}
			i = j + 1
			continue
		}
		i++
	}
	return peaks
}

// EntropyWindow is the entropy summary of one address in one time window.
type EntropyWindow struct {
	Address         string  `json:"address"`
	WindowStart     int64   `json:"windowStart"`
	WindowSeconds   int64   `json:"windowSeconds"`
	TxCount         int     `json:"txCount"`
	IntervalEntropy float64 `json:"intervalEntropy"`
	AmountEntropy   float64 `json:"amountEntropy"`
	IOEntropy       float64 `json:"ioEntropy"`
	TotalEntropy    float64 `json:"totalEntropy"`
}

// EntropyAnomaly is an entropy window annotated with its rolling z-score.
type EntropyAnomaly struct {
	EntropyWindow
	AnomalyScore float64 `json:"anomalyScore"`
	Anomaly      bool    `json:"anomaly"`
}

// CalculateTransactionEntropy groups transactions per address into windows
// aligned to the unix epoch and computes interval, amount and balance-ratio
// entropies. Windows with fewer than two transactions are skipped. Output is
// ordered by address, then window start.
func CalculateTransactionEntropy(txs []models.Transaction, window time.Duration) []EntropyWindow {
	if len(txs) == 0 {
		return nil
	}
	size := int64(window / time.Second)
	if size <= 0 {
		size = 86400
	}

	type key struct {
		address string
		start   int64
	}
	groups := make(map[key][]models.Transaction)
	for _, tx := range txs {
		if tx.Address == "" {
			continue
		}
		k := key{tx.Address, floorDiv(tx.BlockTime, size) * size}
		groups[k] = append(groups[k], tx)
	}

	keys := make([]key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].address != keys[j].address {
			return keys[i].address < keys[j].address
		}
		return keys[i].start < keys[j].start
	})

	var out []EntropyWindow
	for _, k := range keys {
		group := groups[k]
		if len(group) < 2 {
			continue
		}
		times := make([]int64, len(group))
		amounts := make([]float64, len(group))
		var ratios []float64
		for i, tx := range group {
			times[i] = tx.BlockTime
			amounts[i] = tx.Amount
			if r, ok := balanceRatio(tx); ok {
				ratios = append(ratios, r)
			}
		}
		w := EntropyWindow{
			Address:         k.address,
			WindowStart:     k.start,
			WindowSeconds:   size,
			TxCount:         len(group),
			IntervalEntropy: CalculateEntropy(gapsSeconds(times)),
			AmountEntropy:   CalculateEntropy(amounts),
			IOEntropy:       CalculateEntropy(ratios),
		}
		w.TotalEntropy = (w.IntervalEntropy + w.AmountEntropy + w.IOEntropy) / 3
		out = append(out, w)
	}
	return out
}

// balanceRatio is the post/pre token balance ratio of a transaction.
func balanceRatio(tx models.Transaction) (float64, bool) {
	if len(tx.BalanceChanges) == 0 {
		return 0, false
	}
	var pre, post float64
	for _, c := range tx.BalanceChanges {
		pre += c.Pre
		post += c.Post
	}
	return post / (pre + 1e-10), true
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && (a < 0) {
		q--
	}
	return q
}

// DetectEntropyAnomalies computes a trailing rolling z-score of TotalEntropy
// per address and flags |z| > threshold. Addresses with fewer than window
// periods are omitted. The first period of every series scores 0.
func DetectEntropyAnomalies(series []EntropyWindow, threshold float64, window int) []EntropyAnomaly {
	if len(series) == 0 || window < 2 {
		return nil
	}

	byAddr := make(map[string][]EntropyWindow)
	var order []string
	for _, w := range series {
		if _, seen := byAddr[w.Address]; !seen {
			order = append(order, w.Address)
		}
		byAddr[w.Address] = append(byAddr[w.Address], w)
	}
	sort.Strings(order)

	var out []EntropyAnomaly
	for _, addr := range order {
		group := byAddr[addr]
		if len(group) < window {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool { return group[i].WindowStart < group[j].WindowStart })

		values := make([]float64, len(group))
		for i, w := range group {
			values[i] = w.TotalEntropy
		}
		fallback := sampleStd(values)
		if fallback == 0 || math.IsNaN(fallback) {
			fallback = 0.1
		}

		for i, w := range group {
			a := EntropyAnomaly{EntropyWindow: w}
			start := i - window + 1
			if start < 0 {
				start = 0
			}
			trailing := values[start : i+1]
			if len(trailing) >= 2 {
				m, sd := stat.MeanStdDev(trailing, nil)
				if sd == 0 || math.IsNaN(sd) {
					sd = fallback
				}
				z := (values[i] - m) / sd
				a.AnomalyScore = math.Abs(z)
				a.Anomaly = a.AnomalyScore > threshold
			}
			out = append(out, a)
		}
	}
	return out
}

// Anomalous window patterns.
const (
	PatternSuddenIncrease  = "sudden_increase"
	PatternUnusualTime     = "unusual_time"
	PatternRepeatedAmounts = "repeated_amounts"
	PatternRoundAmounts    = "round_amounts"
)

// AnomalousPattern describes what stands out in a flagged entropy window.
type AnomalousPattern struct {
	Address            string   `json:"address"`
	WindowStart        int64    `json:"windowStart"`
	AnomalyScore       float64  `json:"anomalyScore"`
	TransactionCount   int      `json:"transactionCount"`
	DetectedPatterns   []string `json:"detectedPatterns"`
	SampleTransactions []string `json:"sampleTransactions,omitempty"`
}

// IdentifyAnomalousPatterns inspects the transactions of every flagged
// window for bursts, night-time activity and amount regularities.
func IdentifyAnomalousPatterns(txs []models.Transaction, anomalies []EntropyAnomaly) []AnomalousPattern {
	if len(txs) == 0 || len(anomalies) == 0 {
		return nil
	}

	var out []AnomalousPattern
	for _, a := range anomalies {
		if !a.Anomaly {
			continue
		}
		size := a.WindowSeconds
		if size <= 0 {
			size = 86400
		}
		var window []models.Transaction
		for _, tx := range txs {
			if tx.Address == a.Address && floorDiv(tx.BlockTime, size)*size == a.WindowStart {
				window = append(window, tx)
			}
		}
		if len(window) == 0 {
			continue
		}

		var detected []string
		if len(window) > 10 {
			detected = append(detected, PatternSuddenIncrease)
		}

		unusual := 0
		for _, tx := range window {
			h := tx.Time().Hour()
			if h < 6 || h > 22 {
				unusual++
			}
		}
		if float64(unusual) > float64(len(window))*0.5 {
			detected = append(detected, PatternUnusualTime)
		}

		if len(window) >= 3 {
			unique := make(map[float64]struct{})
			round := 0
			for _, tx := range window {
				unique[tx.Amount] = struct{}{}
				if tx.Amount == math.Round(tx.Amount) {
					round++
				}
			}
			if float64(len(unique))/float64(len(window)) < 0.3 {
				detected = append(detected, PatternRepeatedAmounts)
			}
			if float64(round)/float64(len(window)) > 0.7 {
				detected = append(detected, PatternRoundAmounts)
			}
		}

		if len(detected) == 0 {
			continue
		}
		p := AnomalousPattern{
			Address:          a.Address,
			WindowStart:      a.WindowStart,
			AnomalyScore:     a.AnomalyScore,
			TransactionCount: len(window),
			DetectedPatterns: detected,
		}
		for i := 0; i < len(window) && i < 5; i++ {
			if window[i].Signature != "" {
				p.SampleTransactions = append(p.SampleTransactions, window[i].Signature)
			}
		}
		out = append(out, p)
	}
	return out
}
