// Package flowgraph builds a directed graph of token movement between Solana
// accounts and runs the structural analyses on it: paths, cycles, centrality,
// communities, suspicious topologies and exfiltration routes.
//
// One logical edge exists per ordered (from, to) pair. Repeated transfers
// aggregate into it: weight counts transfers, volume sums amounts, tokens
// collect mints and the first/last timestamps bracket the activity.
//
// Writes (Add*, Import) must be serialized by the caller. Read methods only
// read the maps and may run concurrently with each other.
package flowgraph

import (
	"errors"
	"slices"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cipherzeroprotocol/solana-guard/internal/config"
	"github.com/cipherzeroprotocol/solana-guard/internal/logger"
	"github.com/cipherzeroprotocol/solana-guard/internal/metrics"
	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

// ErrNodeNotFound is returned by lookups for an id the graph has never seen.
var ErrNodeNotFound = errors.New("node not found")

// NodeType tags what a node stands for.
type NodeType string

const (
	NodeAddress      NodeType = "address"
	NodeEntity       NodeType = "entity"
	NodeSource       NodeType = "source"
	NodeIntermediate NodeType = "intermediate"
	NodeUnknown      NodeType = "unknown"
)

// Node is an account in the flow graph.
type Node struct {
	ID        string   `json:"id"`
	Type      NodeType `json:"type"`
	Label     string   `json:"label,omitempty"`
	RiskScore *float64 `json:"riskScore,omitempty"`
	FlowType  string   `json:"flowType,omitempty"`
	IsSource  bool     `json:"isSource,omitempty"`
}

// Edge aggregates every transfer from Source to Target.
type Edge struct {
	Source    string
	Target    string
	Weight    int
	Volume    decimal.Decimal
	Tokens    map[string]struct{}
	FirstTime int64
	LastTime  int64
	RiskScore *float64
	FlowType  string
	TxHashes  []string

	timed bool
}

// TokenList returns the edge's mints in sorted order.
func (e *Edge) TokenList() []string {
	tokens := make([]string, 0, len(e.Tokens))
	for t := range e.Tokens {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

func (e *Edge) observe(ts int64) {
	if !e.timed {
		e.FirstTime, e.LastTime, e.timed = ts, ts, true
		return
	}
	e.FirstTime = min(e.FirstTime, ts)
	e.LastTime = max(e.LastTime, ts)
}

func (e *Edge) raiseRisk(score *float64) {
	if score == nil {
		return
	}
	if e.RiskScore == nil || *score > *e.RiskScore {
		v := *score
		e.RiskScore = &v
	}
}

func (e *Edge) clone() Edge {
	c := *e
	c.Tokens = make(map[string]struct{}, len(e.Tokens))
	for t := range e.Tokens {
		c.Tokens[t] = struct{}{}
	}
	c.TxHashes = slices.Clone(e.TxHashes)
	if e.RiskScore != nil {
		v := *e.RiskScore
		c.RiskScore = &v
	}
	return c
}

// FlowGraph is the transaction-flow graph of one analysis session.
type FlowGraph struct {
	log     *logger.Logger
	policy  config.Policy
	metrics *metrics.Registry

	nodes map[string]*Node
	out   map[string]map[string]*Edge
	in    map[string]map[string]*Edge
	edges int
}

// Option customizes a FlowGraph.
type Option func(*FlowGraph)

// WithMetrics reports path-budget exhaustion to r.
func WithMetrics(r *metrics.Registry) Option {
	return func(g *FlowGraph) { g.metrics = r }
}

// New creates an empty graph. A nil logger discards output.
func New(policy config.Policy, log *logger.Logger, opts ...Option) *FlowGraph {
	g := &FlowGraph{
		log:    logger.OrNop(log).WithComponent("flowgraph"),
		policy: policy,
		nodes:  make(map[string]*Node),
		out:    make(map[string]map[string]*Edge),
		in:     make(map[string]map[string]*Edge),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NodeCount returns the number of nodes.
func (g *FlowGraph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of logical edges.
func (g *FlowGraph) EdgeCount() int { return g.edges }

// Node returns a copy of the node with the given id.
func (g *FlowGraph) Node(id string) (Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, ErrNodeNotFound
	}
	c := *n
	if n.RiskScore != nil {
		v := *n.RiskScore
		c.RiskScore = &v
	}
	return c, nil
}

// Edge returns a copy of the edge from -> to.
func (g *FlowGraph) Edge(from, to string) (Edge, bool) {
	e, ok := g.out[from][to]
	if !ok {
		return Edge{}, false
	}
	return e.clone(), true
}

// NodeIDs returns every node id in sorted order.
func (g *FlowGraph) NodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *FlowGraph) hasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

func (g *FlowGraph) ensureNode(id string, typ NodeType) *Node {
	n, ok := g.nodes[id]
	if !ok {
		n = &Node{ID: id, Type: typ}
		g.nodes[id] = n
	}
	return n
}

func (g *FlowGraph) ensureEdge(from, to string) *Edge {
	g.ensureNode(from, NodeAddress)
	g.ensureNode(to, NodeAddress)

	if g.out[from] == nil {
		g.out[from] = make(map[string]*Edge)
	}
	e, ok := g.out[from][to]
	if !ok {
		e = &Edge{Source: from, Target: to, Tokens: make(map[string]struct{})}
		g.out[from][to] = e
		if g.in[to] == nil {
			g.in[to] = make(map[string]*Edge)
		}
		g.in[to][from] = e
		g.edges++
	}
	return e
}

// AddTransfers aggregates token transfer records into the graph. A "sent"
// record flows owner -> token account, a "received" record flows token
// account -> owner. Malformed records are skipped with a warning. It returns
// the number of records applied.
func (g *FlowGraph) AddTransfers(records []models.Transfer) int {
	applied := 0
	for i, r := range records {
		from, to, ok := r.Endpoints()
		switch {
		case r.Owner == "" || r.TokenAccount == "" || r.Mint == "":
			g.log.Warn("skipping transfer with missing fields", zap.Int("index", i), zap.String("signature", r.Signature))
			continue
		case !ok:
			g.log.Warn("skipping transfer with unknown direction", zap.Int("index", i), zap.String("direction", string(r.Direction)))
			continue
		case r.Amount < 0:
			g.log.Warn("skipping transfer with negative amount", zap.Int("index", i), zap.Float64("amount", r.Amount))
			continue
		}

		e := g.ensureEdge(from, to)
		e.Weight++
		e.Volume = e.Volume.Add(decimal.NewFromFloat(r.Amount))
		e.Tokens[r.Mint] = struct{}{}
		e.observe(r.BlockTime)
		if r.Signature != "" {
			e.TxHashes = append(e.TxHashes, r.Signature)
		}
		applied++
	}

	g.log.Debug("added transfers",
		zap.Int("applied", applied),
		zap.Int("skipped", len(records)-applied),
		zap.Int("nodes", len(g.nodes)),
		zap.Int("edges", g.edges))
	return applied
}

// AddLabels attaches known-entity information to nodes, creating them as
// entity nodes when absent. Edges are never touched.
func (g *FlowGraph) AddLabels(labels []models.EntityLabel) int {
	applied := 0
	for _, l := range labels {
		if l.Address == "" {
			g.log.Warn("skipping label without address", zap.String("label", l.Label))
			continue
		}
		n := g.ensureNode(l.Address, NodeEntity)
		if l.Label != "" {
			n.Label = l.Label
		}
		if l.Type != "" {
			n.Type = NodeType(l.Type)
		}
		if l.RiskScore != nil {
			v := *l.RiskScore
			n.RiskScore = &v
		}
		if l.FlowType != "" {
			n.FlowType = l.FlowType
		}
		applied++
	}
	return applied
}

// AddRoutes adds previously identified laundering routes. The source is
// marked as a source node, intermediates are chained in order and the final
// hop carries the route's flow type and risk, which are also copied onto the
// target node.
func (g *FlowGraph) AddRoutes(routes []models.RouteRecord) int {
	applied := 0
	for _, r := range routes {
		if r.SourceAddress == "" || r.TargetAddress == "" || r.SourceAddress == r.TargetAddress {
			g.log.Warn("skipping malformed route",
				zap.String("source", r.SourceAddress),
				zap.String("target", r.TargetAddress))
			continue
		}

		src := g.ensureNode(r.SourceAddress, NodeSource)
		src.IsSource = true

		hops := make([]string, 0, len(r.Intermediate)+2)
		hops = append(hops, r.SourceAddress)
		for _, mid := range r.Intermediate {
			if mid != "" && !slices.Contains(hops, mid) && mid != r.TargetAddress {
				g.ensureNode(mid, NodeIntermediate)
				hops = append(hops, mid)
			}
		}
		hops = append(hops, r.TargetAddress)

		amount := decimal.NewFromFloat(max(0, r.AmountUSD))
		for i := 0; i+1 < len(hops); i++ {
			e := g.ensureEdge(hops[i], hops[i+1])
			e.Weight++
			e.Volume = e.Volume.Add(amount)
			if r.TransactionHash != "" {
				e.TxHashes = append(e.TxHashes, r.TransactionHash)
			}
			if i+2 == len(hops) {
				if r.FlowType != "" {
					e.FlowType = r.FlowType
				}
				e.raiseRisk(r.RiskScore)
			}
		}

		dst := g.nodes[r.TargetAddress]
		if r.FlowType != "" {
			dst.FlowType = r.FlowType
		}
		if r.RiskScore != nil && (dst.RiskScore == nil || *r.RiskScore > *dst.RiskScore) {
			v := *r.RiskScore
			dst.RiskScore = &v
		}
		applied++
	}
	return applied
}

// Import merges a graph in export format, e.g. a token insider graph built
// elsewhere. Edges merge into existing ones the same way transfers do.
func (g *FlowGraph) Import(exp Export) {
	for _, en := range exp.Nodes {
		if en.ID == "" {
			continue
		}
		typ := NodeType(en.Type)
		if typ == "" {
			typ = NodeUnknown
		}
		n := g.ensureNode(en.ID, typ)
		if en.Type != "" {
			n.Type = typ
		}
		if en.Label != "" {
			n.Label = en.Label
		}
		if en.RiskScore != nil {
			v := *en.RiskScore
			n.RiskScore = &v
		}
		if en.FlowType != "" {
			n.FlowType = en.FlowType
		}
		n.IsSource = n.IsSource || en.IsSource
	}

	for _, ee := range exp.Edges {
		if ee.Source == "" || ee.Target == "" {
			g.log.Warn("skipping imported edge with missing endpoint")
			continue
		}
		e := g.ensureEdge(ee.Source, ee.Target)
		e.Weight += max(1, ee.Weight)
		e.Volume = e.Volume.Add(decimal.NewFromFloat(max(0, ee.Volume)))
		for _, t := range ee.Tokens {
			e.Tokens[t] = struct{}{}
		}
		if ee.FirstTime != 0 || ee.LastTime != 0 {
			e.observe(ee.FirstTime)
			e.observe(max(ee.FirstTime, ee.LastTime))
		}
		e.raiseRisk(ee.RiskScore)
		if ee.FlowType != "" {
			e.FlowType = ee.FlowType
		}
		e.TxHashes = append(e.TxHashes, ee.TxHashes...)
	}
}

// adjacency returns sorted successor lists, the traversal order every
// enumeration uses.
func (g *FlowGraph) adjacency() map[string][]string {
	adj := make(map[string][]string, len(g.out))
	for from, targets := range g.out {
		succ := make([]string, 0, len(targets))
		for to := range targets {
			succ = append(succ, to)
		}
		sort.Strings(succ)
		adj[from] = succ
	}
	return adj
}
