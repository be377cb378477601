package flowgraph

import (
	"slices"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

// Flow types that mark a node as an exfiltration sink regardless of score.
var exitFlowTypes = map[string]bool{
	"mixer":               true,
	"cross_chain_bridge":  true,
	"exchange_withdrawal": true,
}

const exfiltrationMaxHops = 5

// isExitNode reports whether funds reaching n have likely left reach.
func (g *FlowGraph) isExitNode(n *Node) bool {
	if n.RiskScore != nil && *n.RiskScore >= g.policy.HighRiskNodeScore {
		return true
	}
	return exitFlowTypes[n.FlowType]
}

// edgeRisk is the edge's own risk. An unscored final hop takes the risk of
// the route's target; unscored intermediate hops count as zero.
func (g *FlowGraph) edgeRisk(e *Edge, final bool) float64 {
	if e.RiskScore != nil {
		return *e.RiskScore
	}
	if !final {
		return 0
	}
	if n := g.nodes[e.Target]; n != nil && n.RiskScore != nil {
		return *n.RiskScore
	}
	return 0
}

// AnalyzeExfiltrationRoutes finds every simple path of up to five hops from
// source to a high-risk or exit node, passing through at least one
// intermediate. A route is as risky as its riskiest hop. Routes are ordered
// by risk, then by length, then lexically by path.
func (g *FlowGraph) AnalyzeExfiltrationRoutes(source string) []models.ExfiltrationRoute {
	routes := []models.ExfiltrationRoute{}
	if !g.hasNode(source) {
		g.log.Warn("exfiltration source not in graph", zap.String("source", source))
		return routes
	}

	for _, target := range g.NodeIDs() {
		n := g.nodes[target]
		if target == source || !g.isExitNode(n) {
			continue
		}
		for _, path := range g.FindPaths(source, target, exfiltrationMaxHops) {
			if len(path) <= 2 {
				continue
			}
			routes = append(routes, g.buildRoute(path, n))
		}
	}

	sort.SliceStable(routes, func(i, j int) bool {
		a, b := routes[i], routes[j]
		if a.RiskScore != b.RiskScore {
			return a.RiskScore > b.RiskScore
		}
		if len(a.Path) != len(b.Path) {
			return len(a.Path) < len(b.Path)
		}
		return slices.Compare(a.Path, b.Path) < 0
	})

	g.log.Info("analyzed exfiltration routes",
		zap.String("source", source),
		zap.Int("routes", len(routes)))
	return routes
}

func (g *FlowGraph) buildRoute(path []string, target *Node) models.ExfiltrationRoute {
	route := models.ExfiltrationRoute{
		Source:       path[0],
		Target:       target.ID,
		Path:         slices.Clone(path),
		PathLength:   len(path),
		Intermediate: slices.Clone(path[1 : len(path)-1]),
		Hops:         make([]models.RouteHop, 0, len(path)-1),
		TargetType:   target.FlowType,
	}
	if route.TargetType == "" {
		route.TargetType = string(target.Type)
	}
	if target.RiskScore != nil {
		v := *target.RiskScore
		route.TargetRiskScore = &v
	}

	total := decimal.Zero
	for i := 0; i+1 < len(path); i++ {
		e := g.out[path[i]][path[i+1]]
		risk := g.edgeRisk(e, i+2 == len(path))
		total = total.Add(e.Volume)
		route.RiskScore = max(route.RiskScore, risk)
		route.Hops = append(route.Hops, models.RouteHop{
			From:      e.Source,
			To:        e.Target,
			Volume:    e.Volume.InexactFloat64(),
			Transfers: e.Weight,
			RiskScore: risk,
			FlowType:  e.FlowType,
			TxHashes:  slices.Clone(e.TxHashes),
		})
	}
	route.TotalVolume = total.InexactFloat64()
	return route
}
