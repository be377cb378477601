package heuristics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// percentile returns the p-quantile (0..1) of values using linear
// interpolation between closest ranks, pos = p*(n-1). values need not be sorted.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return sortedPercentile(sorted, p)
}

func sortedPercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 || p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	hi := lo + 1
	if hi >= n {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// sampleStd is the n-1 standard deviation, 0 for fewer than two values.
func sampleStd(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.StdDev(values, nil)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// gapsSeconds returns the sorted consecutive differences of unix timestamps.
func gapsSeconds(times []int64) []float64 {
	if len(times) < 2 {
		return nil
	}
	sorted := append([]int64(nil), times...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	gaps := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, float64(sorted[i]-sorted[i-1]))
	}
	return gaps
}

func countBelow(values []float64, limit float64) int {
	n := 0
	for _, v := range values {
		if v < limit {
			n++
		}
	}
	return n
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func clampScore(x float64) float64 {
	return math.Max(0, math.Min(100, x))
}
