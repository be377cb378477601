package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cipherzeroprotocol/solana-guard/internal/alerts"
	"github.com/cipherzeroprotocol/solana-guard/internal/db"
	"github.com/cipherzeroprotocol/solana-guard/internal/flowgraph"
	"github.com/cipherzeroprotocol/solana-guard/internal/heuristics"
	"github.com/cipherzeroprotocol/solana-guard/internal/session"
	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Investigation graph handlers
//
// An investigation is a session-scoped flow graph. Analysts seed it with
// transfers, entity labels and laundering routes, then query paths,
// centrality, communities, topologies and exfiltration routes.
// ════════════════════════════════════════════════════════════════════

type graphSeed struct {
	Transfers []models.Transfer    `json:"transfers"`
	Labels    []models.EntityLabel `json:"labels"`
	Routes    []models.RouteRecord `json:"routes"`
	// IncludeRegistry labels every known entity from the registry.
	IncludeRegistry bool `json:"includeRegistry"`
	// Import merges a previously exported graph.
	Import *flowgraph.Export `json:"import,omitempty"`
}

type seedCounts struct {
	Transfers int `json:"transfers"`
	Labels    int `json:"labels"`
	Routes    int `json:"routes"`
}

func (h *APIHandler) seed(g *flowgraph.FlowGraph, req graphSeed) seedCounts {
	var n seedCounts
	if req.Import != nil {
		g.Import(*req.Import)
	}
	n.Transfers = g.AddTransfers(req.Transfers)
	n.Labels = g.AddLabels(req.Labels)
	if req.IncludeRegistry {
		if reg := h.Analyzer.Registry(); reg != nil {
			n.Labels += g.AddLabels(reg.Labels())
		}
	}
	n.Routes = g.AddRoutes(req.Routes)
	return n
}

// lookupSession answers 404 for unknown or expired sessions.
func (h *APIHandler) lookupSession(c *gin.Context) (*session.Session, bool) {
	s, err := h.Sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Investigation graph not found"})
		return nil, false
	}
	return s, true
}

// POST /api/v1/graphs
// Creates an investigation graph, optionally seeded.
func (h *APIHandler) handleCreateGraph(c *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
		graphSeed
	}
	if !bindJSON(c, &req) {
		return
	}

	s := h.Sessions.Create(req.Name, req.Description)
	var added seedCounts
	s.Write(func(g *flowgraph.FlowGraph) { added = h.seed(g, req.graphSeed) })
	h.Metrics.RecordAnalysis("graph_build")

	c.JSON(http.StatusCreated, gin.H{
		"status":  "created",
		"session": s.Info(),
		"added":   added,
	})
}

func (h *APIHandler) handleListGraphs(c *gin.Context) {
	list := h.Sessions.List()
	c.JSON(http.StatusOK, gin.H{"data": list, "total": len(list)})
}

// GET /api/v1/graphs/:id
// Returns the session summary and the graph in export format.
func (h *APIHandler) handleGetGraph(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	var exp flowgraph.Export
	s.Read(func(g *flowgraph.FlowGraph) { exp = g.ExportJSON() })
	c.JSON(http.StatusOK, gin.H{"session": s.Info(), "graph": exp})
}

func (h *APIHandler) handleDeleteGraph(c *gin.Context) {
	if err := h.Sessions.Delete(c.Param("id")); errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Investigation graph not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": c.Param("id")})
}

// POST /api/v1/graphs/:id/transfers
func (h *APIHandler) handleAddTransfers(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	var req struct {
		Transfers []models.Transfer `json:"transfers" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	var added int
	s.Write(func(g *flowgraph.FlowGraph) { added = g.AddTransfers(req.Transfers) })
	c.JSON(http.StatusOK, gin.H{"added": added, "skipped": len(req.Transfers) - added, "session": s.Info()})
}

// POST /api/v1/graphs/:id/labels
func (h *APIHandler) handleAddLabels(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	var req struct {
		Labels          []models.EntityLabel `json:"labels"`
		IncludeRegistry bool                 `json:"includeRegistry"`
	}
	if !bindJSON(c, &req) {
		return
	}
	var added seedCounts
	s.Write(func(g *flowgraph.FlowGraph) {
		added = h.seed(g, graphSeed{Labels: req.Labels, IncludeRegistry: req.IncludeRegistry})
	})
	c.JSON(http.StatusOK, gin.H{"added": added.Labels, "session": s.Info()})
}

// POST /api/v1/graphs/:id/routes
func (h *APIHandler) handleAddRoutes(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	var req struct {
		Routes []models.RouteRecord `json:"routes" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	var added int
	s.Write(func(g *flowgraph.FlowGraph) { added = g.AddRoutes(req.Routes) })
	c.JSON(http.StatusOK, gin.H{"added": added, "skipped": len(req.Routes) - added, "session": s.Info()})
}

// GET /api/v1/graphs/:id/paths?source=&target=&maxLength=
// An empty target lists every simple path from source.
func (h *APIHandler) handleFindPaths(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	source, target := c.Query("source"), c.Query("target")
	if source == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source is required"})
		return
	}
	maxLength, _ := strconv.Atoi(c.Query("maxLength"))

	var paths [][]string
	var err error
	s.Read(func(g *flowgraph.FlowGraph) {
		if _, err = g.Node(source); err != nil {
			return
		}
		paths = g.FindPaths(source, target, maxLength)
	})
	if errors.Is(err, flowgraph.ErrNodeNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "source is not in the graph"})
		return
	}
	h.Metrics.RecordAnalysis("paths")
	c.JSON(http.StatusOK, gin.H{"source": source, "target": target, "paths": paths, "total": len(paths)})
}

// GET /api/v1/graphs/:id/cycles?maxLength=
func (h *APIHandler) handleFindCycles(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	maxLength, _ := strconv.Atoi(c.Query("maxLength"))
	var cycles [][]string
	s.Read(func(g *flowgraph.FlowGraph) { cycles = g.FindCycles(maxLength) })
	h.Metrics.RecordAnalysis("cycles")
	c.JSON(http.StatusOK, gin.H{"cycles": cycles, "total": len(cycles)})
}

func (h *APIHandler) handleCentrality(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	var cent flowgraph.Centrality
	s.Read(func(g *flowgraph.FlowGraph) { cent = g.CalculateCentrality() })
	h.Metrics.RecordAnalysis("centrality")
	c.JSON(http.StatusOK, cent)
}

func (h *APIHandler) handleCommunities(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	var res flowgraph.CommunityResult
	s.Read(func(g *flowgraph.FlowGraph) { res = g.IdentifyCommunities() })
	h.Metrics.RecordAnalysis("communities")
	c.JSON(http.StatusOK, res)
}

func (h *APIHandler) handleTopologies(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	var patterns []flowgraph.TopologyPattern
	s.Read(func(g *flowgraph.FlowGraph) { patterns = g.DetectSuspiciousTopologies() })
	h.Metrics.RecordAnalysis("topologies")
	c.JSON(http.StatusOK, gin.H{"patterns": patterns, "total": len(patterns)})
}

// GET /api/v1/graphs/:id/exfiltration?source=
// Routes from a compromised source into mixers, bridges, exchanges or other
// high-risk sinks. The riskiest route raises an alert.
func (h *APIHandler) handleExfiltration(c *gin.Context) {
	s, ok := h.lookupSession(c)
	if !ok {
		return
	}
	source := c.Query("source")
	if source == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source is required"})
		return
	}

	var routes []models.ExfiltrationRoute
	s.Read(func(g *flowgraph.FlowGraph) { routes = g.AnalyzeExfiltrationRoutes(source) })
	h.Metrics.RecordAnalysis(db.KindExfiltration)

	alerted := false
	if len(routes) > 0 {
		top := routes[0]
		level := heuristics.RiskLevel(top.RiskScore)
		if top.RiskScore >= h.Analyzer.Policy().AlertScore {
			alerted = h.Alerts.Emit(c.Request.Context(), alerts.Alert{
				Severity:    alerts.SeverityForRiskLevel(level),
				AlertType:   alerts.TypeExfiltration,
				Title:       "exfiltration route to " + top.TargetType,
				Description: "Funds from " + top.Source + " reach " + top.Target + " in " + strconv.Itoa(top.PathLength-1) + " hops.",
				EntityID:    source,
				EntityType:  models.EntityAddress,
				RiskScore:   top.RiskScore,
				Signals:     top.Path,
			})
		}
	}
	reportID := h.archive(c.Request.Context(), db.KindExfiltration, source, nil, routes)

	c.JSON(http.StatusOK, gin.H{
		"source":   source,
		"routes":   routes,
		"total":    len(routes),
		"alerted":  alerted,
		"reportId": reportID,
	})
}
