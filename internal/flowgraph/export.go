package flowgraph

import (
	"slices"
	"sort"
)

// ExportNode is the serialized form of a node.
type ExportNode struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Label     string   `json:"label,omitempty"`
	RiskScore *float64 `json:"riskScore,omitempty"`
	FlowType  string   `json:"flowType,omitempty"`
	IsSource  bool     `json:"isSource,omitempty"`
}

// ExportEdge is the serialized form of an edge. Volume is a plain number.
type ExportEdge struct {
	Source    string   `json:"source"`
	Target    string   `json:"target"`
	Weight    int      `json:"weight"`
	Volume    float64  `json:"volume"`
	Tokens    []string `json:"tokens"`
	FirstTime int64    `json:"firstTime,omitempty"`
	LastTime  int64    `json:"lastTime,omitempty"`
	RiskScore *float64 `json:"riskScore,omitempty"`
	FlowType  string   `json:"flowType,omitempty"`
	TxHashes  []string `json:"txHashes,omitempty"`
}

// Export is the JSON document produced by ExportJSON and accepted by Import.
type Export struct {
	Nodes []ExportNode `json:"nodes"`
	Edges []ExportEdge `json:"edges"`
}

// ExportJSON snapshots the graph. Nodes are sorted by id, edges by source
// then target, tokens alphabetically.
func (g *FlowGraph) ExportJSON() Export {
	exp := Export{
		Nodes: make([]ExportNode, 0, len(g.nodes)),
		Edges: make([]ExportEdge, 0, g.edges),
	}

	for _, id := range g.NodeIDs() {
		n := g.nodes[id]
		en := ExportNode{
			ID:       n.ID,
			Type:     string(n.Type),
			Label:    n.Label,
			FlowType: n.FlowType,
			IsSource: n.IsSource,
		}
		if n.RiskScore != nil {
			v := *n.RiskScore
			en.RiskScore = &v
		}
		exp.Nodes = append(exp.Nodes, en)
	}

	for from, targets := range g.out {
		for _, e := range targets {
			ee := ExportEdge{
				Source:    from,
				Target:    e.Target,
				Weight:    e.Weight,
				Volume:    e.Volume.InexactFloat64(),
				Tokens:    e.TokenList(),
				FirstTime: e.FirstTime,
				LastTime:  e.LastTime,
				FlowType:  e.FlowType,
				TxHashes:  slices.Clone(e.TxHashes),
			}
			if e.RiskScore != nil {
				v := *e.RiskScore
				ee.RiskScore = &v
			}
			exp.Edges = append(exp.Edges, ee)
		}
	}
	sort.Slice(exp.Edges, func(i, j int) bool {
		if exp.Edges[i].Source != exp.Edges[j].Source {
			return exp.Edges[i].Source < exp.Edges[j].Source
		}
		return exp.Edges[i].Target < exp.Edges[j].Target
	})
	return exp
}
