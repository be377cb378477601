package flowgraph

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"
)

const (
	pageRankDamping   = 0.85
	pageRankTolerance = 1e-8
)

// Centrality holds per-node centrality scores keyed by node id.
type Centrality struct {
	Degree      map[string]float64 `json:"degree"`
	InDegree    map[string]float64 `json:"inDegree"`
	OutDegree   map[string]float64 `json:"outDegree"`
	Betweenness map[string]float64 `json:"betweenness"`
	PageRank    map[string]float64 `json:"pageRank"`
}

func newCentrality(ids []string) Centrality {
	c := Centrality{
		Degree:      make(map[string]float64, len(ids)),
		InDegree:    make(map[string]float64, len(ids)),
		OutDegree:   make(map[string]float64, len(ids)),
		Betweenness: make(map[string]float64, len(ids)),
		PageRank:    make(map[string]float64, len(ids)),
	}
	for _, id := range ids {
		c.Degree[id], c.InDegree[id], c.OutDegree[id] = 0, 0, 0
		c.Betweenness[id], c.PageRank[id] = 0, 0
	}
	return c
}

// gonumIndex assigns every node a dense int64 id in sorted id order.
func (g *FlowGraph) gonumIndex() ([]string, map[string]int64) {
	ids := g.NodeIDs()
	index := make(map[string]int64, len(ids))
	for i, id := range ids {
		index[id] = int64(i)
	}
	return ids, index
}

// weightedDirected mirrors the graph in gonum with transfer counts as edge
// weights. gonum rejects self-loops, so they are left out.
func (g *FlowGraph) weightedDirected(ids []string, index map[string]int64) *simple.WeightedDirectedGraph {
	wg := simple.NewWeightedDirectedGraph(0, 0)
	for _, id := range ids {
		wg.AddNode(simple.Node(index[id]))
	}
	for from, targets := range g.out {
		for to, e := range targets {
			if from == to {
				continue
			}
			wg.SetWeightedEdge(wg.NewWeightedEdge(simple.Node(index[from]), simple.Node(index[to]), float64(e.Weight)))
		}
	}
	return wg
}

// weightedUndirected folds both directions of a pair into one edge whose
// weight is the sum of the two transfer counts.
func (g *FlowGraph) weightedUndirected(ids []string, index map[string]int64) *simple.WeightedUndirectedGraph {
	ug := simple.NewWeightedUndirectedGraph(0, 0)
	for _, id := range ids {
		ug.AddNode(simple.Node(index[id]))
	}
	for from, targets := range g.out {
		for to, e := range targets {
			if from == to {
				continue
			}
			u, v := index[from], index[to]
			w := float64(e.Weight)
			if prev, ok := ug.Weight(u, v); ok {
				w += prev
			}
			ug.SetWeightedEdge(ug.NewWeightedEdge(simple.Node(u), simple.Node(v), w))
		}
	}
	return ug
}

// CalculateCentrality computes degree, in-degree and out-degree centrality
// normalized by n-1, directed betweenness normalized by (n-1)(n-2) and
// sparse PageRank weighted by transfer count. Graphs with fewer than two
// nodes, or a failing gonum computation, yield zeros. Betweenness is zero
// for graphs above Policy.MaxCentralityNodes.
func (g *FlowGraph) CalculateCentrality() Centrality {
	ids, index := g.gonumIndex()
	c := newCentrality(ids)
	n := len(ids)
	if n < 2 {
		return c
	}

	scale := 1 / float64(n-1)
	for _, id := range ids {
		in, out := float64(len(g.in[id])), float64(len(g.out[id]))
		c.InDegree[id] = in * scale
		c.OutDegree[id] = out * scale
		c.Degree[id] = (in + out) * scale
	}

	wg := g.weightedDirected(ids, index)

	if limit := g.policy.MaxCentralityNodes; limit > 0 && n > limit {
		g.log.Warn("graph too large for betweenness, reporting zeros",
			zap.Int("nodes", n),
			zap.Int("limit", limit))
	} else {
		g.betweenness(wg, ids, index, c.Betweenness)
	}

	if err := guard(func() {
		pr := network.PageRankSparse(wg, pageRankDamping, pageRankTolerance)
		var total float64
		for _, v := range pr {
			total += v
		}
		if total <= 0 {
			return
		}
		for _, id := range ids {
			c.PageRank[id] = pr[index[id]] / total
		}
	}); err != nil {
		g.log.Error("pagerank failed", zap.Error(err))
		for _, id := range ids {
			c.PageRank[id] = 0
		}
	}

	return c
}

// betweenness fills out with directed betweenness normalized by
// 1/((n-1)(n-2)), leaving zeros when gonum fails.
func (g *FlowGraph) betweenness(wg *simple.WeightedDirectedGraph, ids []string, index map[string]int64, out map[string]float64) {
	n := len(ids)
	if err := guard(func() {
		bc := network.Betweenness(wg)
		if n > 2 {
			norm := 1 / float64((n-1)*(n-2))
			for _, id := range ids {
				out[id] = bc[index[id]] * norm
			}
		}
	}); err != nil {
		g.log.Error("betweenness centrality failed", zap.Error(err))
		for _, id := range ids {
			out[id] = 0
		}
	}
}

// guard runs fn and converts a panic into an error.
func guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered: %v", r)
		}
	}()
	fn()
	return nil
}
