package metrics

import "math"

// Partition agreement between two community assignments of the same nodes.
// Labels are arbitrary ints; only co-membership matters.

// contingency is the n_ij table of two labelings with its margins.
type contingency struct {
	n       int
	cells   [][]int
	rowSums []int
	colSums []int
}

func newContingency(a, b []int) (contingency, bool) {
	n := len(a)
	if n != len(b) || n < 2 {
		return contingency{}, false
	}
	rows := indexLabels(a)
	cols := indexLabels(b)

	c := contingency{
		n:       n,
		cells:   make([][]int, len(rows)),
		rowSums: make([]int, len(rows)),
		colSums: make([]int, len(cols)),
	}
	for i := range c.cells {
		c.cells[i] = make([]int, len(cols))
	}
	for k := 0; k < n; k++ {
		i, j := rows[a[k]], cols[b[k]]
		c.cells[i][j]++
		c.rowSums[i]++
		c.colSums[j]++
	}
	return c, true
}

// AdjustedRandIndex is the chance-corrected share of node pairs on which two
// partitions agree. 1 means identical, 0 is what random labelings score, and
// negative values are worse than random. Mismatched or tiny inputs score 0.
func AdjustedRandIndex(a, b []int) float64 {
	c, ok := newContingency(a, b)
	if !ok {
		return 0
	}

	var sumCells, sumRows, sumCols float64
	for i := range c.cells {
		for _, v := range c.cells[i] {
			sumCells += pairs(v)
		}
	}
	for _, v := range c.rowSums {
		sumRows += pairs(v)
	}
	for _, v := range c.colSums {
		sumCols += pairs(v)
	}

	expected := sumRows * sumCols / pairs(c.n)
	maximum := (sumRows + sumCols) / 2
	if math.Abs(maximum-expected) < 1e-12 {
		// Both partitions are all singletons or a single block.
		return 1
	}
	return (sumCells - expected) / (maximum - expected)
}

// VariationOfInformation is H(A|B) + H(B|A) in bits. 0 means identical
// partitions; larger is further apart.
func VariationOfInformation(a, b []int) float64 {
	c, ok := newContingency(a, b)
	if !ok {
		return 0
	}
	n := float64(c.n)

	var vi float64
	for i := range c.cells {
		for j, v := range c.cells[i] {
			if v == 0 {
				continue
			}
			p := float64(v) / n
			vi -= p * math.Log2(float64(v)/float64(c.colSums[j]))
			vi -= p * math.Log2(float64(v)/float64(c.rowSums[i]))
		}
	}
	return vi
}

func pairs(n int) float64 {
	if n < 2 {
		return 0
	}
	return float64(n) * float64(n-1) / 2
}

// indexLabels maps each distinct label to a dense index in first-seen order.
func indexLabels(labels []int) map[int]int {
	idx := make(map[int]int)
	for _, l := range labels {
		if _, ok := idx[l]; !ok {
			idx[l] = len(idx)
		}
	}
	return idx
}
