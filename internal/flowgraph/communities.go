package flowgraph

import (
	"errors"
	"math"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/cipherzeroprotocol/solana-guard/internal/metrics"
)

// Community detection algorithms.
const (
	AlgorithmLouvain  = "louvain"
	AlgorithmWeakComp = "weakly_connected_components"
)

// PartitionAgreement compares the reported partition with the weakly
// connected components of the same graph.
type PartitionAgreement struct {
	AdjustedRandIndex      float64 `json:"adjustedRandIndex"`
	VariationOfInformation float64 `json:"variationOfInformation"`
}

// CommunityResult is the output of IdentifyCommunities. Members of each
// community are sorted; communities are ordered by size, then first member.
type CommunityResult struct {
	Algorithm   string             `json:"algorithm"`
	Communities [][]string         `json:"communities"`
	Modularity  float64            `json:"modularity"`
	Agreement   PartitionAgreement `json:"agreement"`
}

var errNoEdges = errors.New("graph has no edges between distinct nodes")

// IdentifyCommunities partitions the graph with seeded Louvain on its
// undirected view. When Louvain is disabled by policy or fails, weakly
// connected components are reported instead.
func (g *FlowGraph) IdentifyCommunities() CommunityResult {
	ids, index := g.gonumIndex()
	res := CommunityResult{Communities: [][]string{}}
	if len(ids) == 0 {
		res.Algorithm = AlgorithmWeakComp
		return res
	}

	ug := g.weightedUndirected(ids, index)
	wcc := g.WeaklyConnectedComponents()

	var louvain [][]string
	if g.policy.LouvainEnabled {
		var err error
		louvain, err = g.louvain(ug, ids)
		if err != nil {
			g.log.Warn("louvain failed, falling back to connected components", zap.Error(err))
			louvain = nil
		}
	}

	if louvain != nil {
		res.Algorithm = AlgorithmLouvain
		res.Communities = louvain
	} else {
		res.Algorithm = AlgorithmWeakComp
		res.Communities = wcc
	}

	if ug.Edges().Len() > 0 {
		q := community.Q(ug, toGonum(res.Communities, index), g.policy.LouvainResolution)
		if !math.IsNaN(q) {
			res.Modularity = q
		}
	}

	a, b := labelsOf(res.Communities, ids), labelsOf(wcc, ids)
	res.Agreement = PartitionAgreement{
		AdjustedRandIndex:      metrics.AdjustedRandIndex(a, b),
		VariationOfInformation: metrics.VariationOfInformation(a, b),
	}
	return res
}

func (g *FlowGraph) louvain(ug *simple.WeightedUndirectedGraph, ids []string) (out [][]string, err error) {
	if ug.Edges().Len() == 0 {
		return nil, errNoEdges
	}
	err = guard(func() {
		reduced := community.Modularize(ug, g.policy.LouvainResolution, rand.NewSource(g.policy.LouvainSeed))
		for _, members := range reduced.Communities() {
			c := make([]string, 0, len(members))
			for _, n := range members {
				c = append(c, ids[n.ID()])
			}
			if len(c) > 0 {
				out = append(out, c)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return normalizePartition(out), nil
}

// WeaklyConnectedComponents groups nodes connected by an edge in either
// direction, using union-find with path halving.
func (g *FlowGraph) WeaklyConnectedComponents() [][]string {
	parent := make(map[string]string, len(g.nodes))
	for id := range g.nodes {
		parent[id] = id
	}
	find := func(x string) string {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for from, targets := range g.out {
		for to := range targets {
			ra, rb := find(from), find(to)
			if ra == rb {
				continue
			}
			if ra < rb {
				parent[rb] = ra
			} else {
				parent[ra] = rb
			}
		}
	}

	groups := make(map[string][]string)
	for id := range g.nodes {
		r := find(id)
		groups[r] = append(groups[r], id)
	}
	comps := make([][]string, 0, len(groups))
	for _, members := range groups {
		comps = append(comps, members)
	}
	return normalizePartition(comps)
}

func normalizePartition(p [][]string) [][]string {
	for _, c := range p {
		sort.Strings(c)
	}
	sort.Slice(p, func(i, j int) bool {
		if len(p[i]) != len(p[j]) {
			return len(p[i]) > len(p[j])
		}
		return p[i][0] < p[j][0]
	})
	return p
}

func toGonum(p [][]string, index map[string]int64) [][]graph.Node {
	out := make([][]graph.Node, len(p))
	for i, c := range p {
		out[i] = make([]graph.Node, len(c))
		for j, id := range c {
			out[i][j] = simple.Node(index[id])
		}
	}
	return out
}

// labelsOf turns a partition into one community label per id.
func labelsOf(p [][]string, ids []string) []int {
	label := make(map[string]int, len(ids))
	for i, c := range p {
		for _, id := range c {
			label[id] = i
		}
	}
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = label[id]
	}
	return out
}
