package flowgraph

import (
	"slices"

	"go.uber.org/zap"
)

// budget caps how many partial paths one enumeration may extend.
type budget struct {
	limit     int
	used      int
	exhausted bool
}

func (b *budget) step() bool {
	if b.used >= b.limit {
		b.exhausted = true
		return false
	}
	b.used++
	return true
}

func (g *FlowGraph) newBudget() *budget {
	return &budget{limit: max(1, g.policy.MaxExploredPaths)}
}

func (g *FlowGraph) reportExhausted(op string, b *budget, found int) {
	if !b.exhausted {
		return
	}
	g.log.Warn("path budget exhausted, returning partial result",
		zap.String("operation", op),
		zap.Int("budget", b.limit),
		zap.Int("found", found))
	g.metrics.RecordBudgetExhausted(op)
}

func (g *FlowGraph) maxLength(n int) int {
	if n <= 0 {
		return max(1, g.policy.DefaultMaxPathLength)
	}
	return n
}

// FindPaths lists simple paths from source to target with at most maxLength
// edges, in lexical DFS order. An empty target means every reachable node.
// Unknown endpoints and source == target yield no paths. maxLength <= 0
// falls back to the policy default.
func (g *FlowGraph) FindPaths(source, target string, maxLength int) [][]string {
	paths := [][]string{}
	if source == target || !g.hasNode(source) || (target != "" && !g.hasNode(target)) {
		return paths
	}
	maxLength = g.maxLength(maxLength)

	adj := g.adjacency()
	b := g.newBudget()
	onPath := map[string]bool{source: true}
	path := []string{source}

	var visit func(u string)
	visit = func(u string) {
		for _, v := range adj[u] {
			if onPath[v] {
				continue
			}
			if !b.step() {
				return
			}
			path = append(path, v)
			if target == "" || v == target {
				paths = append(paths, slices.Clone(path))
			}
			if v != target && len(path)-1 < maxLength {
				onPath[v] = true
				visit(v)
				delete(onPath, v)
			}
			path = path[:len(path)-1]
			if b.exhausted {
				return
			}
		}
	}
	visit(source)

	g.reportExhausted("find_paths", b, len(paths))
	return paths
}

// FindCycles lists simple directed cycles of at most maxLength nodes. Each
// cycle is reported once, starting at its smallest node id, without
// repeating the start. A self-loop is a cycle of length one.
func (g *FlowGraph) FindCycles(maxLength int) [][]string {
	cycles := [][]string{}
	maxLength = g.maxLength(maxLength)

	adj := g.adjacency()
	b := g.newBudget()

	for _, start := range g.NodeIDs() {
		if _, ok := g.out[start][start]; ok {
			cycles = append(cycles, []string{start})
		}

		onPath := map[string]bool{start: true}
		path := []string{start}

		var visit func(u string)
		visit = func(u string) {
			for _, v := range adj[u] {
				if v == start {
					if len(path) > 1 {
						cycles = append(cycles, slices.Clone(path))
					}
					continue
				}
				if v < start || onPath[v] || len(path) >= maxLength {
					continue
				}
				if !b.step() {
					return
				}
				path = append(path, v)
				onPath[v] = true
				visit(v)
				delete(onPath, v)
				path = path[:len(path)-1]
				if b.exhausted {
					return
				}
			}
		}
		visit(start)
		if b.exhausted {
			break
		}
	}

	g.reportExhausted("find_cycles", b, len(cycles))
	return cycles
}
