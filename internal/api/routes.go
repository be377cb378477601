package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cipherzeroprotocol/solana-guard/internal/alerts"
	"github.com/cipherzeroprotocol/solana-guard/internal/batch"
	"github.com/cipherzeroprotocol/solana-guard/internal/config"
	"github.com/cipherzeroprotocol/solana-guard/internal/db"
	"github.com/cipherzeroprotocol/solana-guard/internal/heuristics"
	"github.com/cipherzeroprotocol/solana-guard/internal/logger"
	"github.com/cipherzeroprotocol/solana-guard/internal/metrics"
	"github.com/cipherzeroprotocol/solana-guard/internal/session"
	"github.com/cipherzeroprotocol/solana-guard/internal/solana"
	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

// Deps is everything the HTTP surface serves. Hub and Metrics may be nil;
// Reports falls back to an in-memory store when nil.
type Deps struct {
	Server      config.ServerConfig
	Analyzer    *heuristics.Analyzer
	Sessions    *session.Manager
	Alerts      *alerts.Manager
	Hub         *alerts.Hub
	Batch       *batch.Runner
	Reports     db.ReportStore
	Metrics     *metrics.Registry
	Logger      *logger.Logger
	DBConnected bool
	// BaseContext outlives single requests: it bounds background batch runs
	// and the rate limiter janitor.
	BaseContext context.Context
}

type APIHandler struct {
	Deps
	log *logger.Logger
}

func SetupRouter(d Deps) *gin.Engine {
	if d.BaseContext == nil {
		d.BaseContext = context.Background()
	}
	if d.Reports == nil {
		d.Reports = db.NewMemoryStore(1000)
	}
	log := logger.OrNop(d.Logger).WithComponent("api")
	h := &APIHandler{Deps: d, log: log}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log), httpMetrics(d.Metrics), cors(d.Server.AllowedOrigins))

	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	api := r.Group("/api/v1")
	api.GET("/health", h.handleHealth)
	if d.Hub != nil {
		api.GET("/stream", gin.WrapF(d.Hub.ServeWS))
	}

	limiter := NewRateLimiter(d.BaseContext, d.Server.RatePerMinute, d.Server.RateBurst)
	protected := api.Group("", AuthMiddleware(d.Server.AuthToken, d.Server.Mode, log), limiter.Middleware())
	{
		// Investigation graphs
		protected.GET("/graphs", h.handleListGraphs)
		protected.POST("/graphs", h.handleCreateGraph)
		protected.GET("/graphs/:id", h.handleGetGraph)
		protected.DELETE("/graphs/:id", h.handleDeleteGraph)
		protected.POST("/graphs/:id/transfers", h.handleAddTransfers)
		protected.POST("/graphs/:id/labels", h.handleAddLabels)
		protected.POST("/graphs/:id/routes", h.handleAddRoutes)
		protected.GET("/graphs/:id/paths", h.handleFindPaths)
		protected.GET("/graphs/:id/cycles", h.handleFindCycles)
		protected.GET("/graphs/:id/centrality", h.handleCentrality)
		protected.GET("/graphs/:id/communities", h.handleCommunities)
		protected.GET("/graphs/:id/topologies", h.handleTopologies)
		protected.GET("/graphs/:id/exfiltration", h.handleExfiltration)

		// Classification and scoring
		protected.POST("/classify", h.handleClassify)
		protected.POST("/risk/address", h.handleRiskAddress)
		protected.POST("/risk/token", h.handleRiskToken)
		protected.POST("/risk/transaction", h.handleRiskTransaction)

		// Behavioural patterns
		protected.POST("/patterns/laundering", h.handleLaundering)
		protected.POST("/patterns/dusting", h.handleDusting)
		protected.POST("/patterns/related", h.handleRelated)
		protected.POST("/incidents/analyze", h.handleIncident)
		protected.POST("/entropy", h.handleEntropy)
		protected.POST("/sequences", h.handleSequences)

		// Batch screening and archive
		protected.POST("/batch/screen", h.handleBatchScreen)
		protected.GET("/batch/:id", h.handleBatchStatus)
		protected.GET("/reports", h.handleListReports)
		protected.GET("/reports/:id", h.handleGetReport)
		protected.GET("/alerts", h.handleRecentAlerts)
		protected.GET("/entities", h.handleListEntities)
	}

	return r
}

// cors answers preflight requests and echoes allowed origins. An empty
// list or "*" allows every origin.
func cors(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowAll {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if _, ok := allowed[origin]; ok {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request served",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client", c.ClientIP()))
	}
}

// httpMetrics labels requests by route template, so ids in paths do not
// explode label cardinality.
func httpMetrics(reg *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		reg.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// handleHealth returns engine status and capabilities for service discovery
func (h *APIHandler) handleHealth(c *gin.Context) {
	policy := h.Analyzer.Policy()
	clients := 0
	if h.Hub != nil {
		clients = h.Hub.Clients()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "operational",
		"engine":        "Solana Guard forensics engine",
		"policyVersion": policy.Version,
		"capabilities": gin.H{
			"flow_graphs":       true,
			"louvain":           policy.LouvainEnabled,
			"batch_screening":   h.Batch != nil,
			"alert_stream":      h.Hub != nil,
			"entity_registry":   h.Analyzer.Registry() != nil,
			"partition_metrics": true,
		},
		"sessions":     len(h.Sessions.List()),
		"wsClients":    clients,
		"dbConnected":  h.DBConnected,
		"alertsRaised": len(h.Alerts.Recent(0)),
	})
}

// handleBatchScreen screens many addresses. With "async": true the run
// continues in the background and can be polled at /batch/:id.
func (h *APIHandler) handleBatchScreen(c *gin.Context) {
	var req struct {
		Jobs  []batch.Job `json:"jobs" binding:"required"`
		Async bool        `json:"async"`
	}
	if !bindJSON(c, &req) {
		return
	}

	if req.Async {
		id, err := h.Batch.Start(h.BaseContext, req.Jobs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "started", "id": id, "total": len(req.Jobs)})
		return
	}

	results, err := h.Batch.Screen(c.Request.Context(), req.Jobs)
	switch {
	case errors.Is(err, batch.ErrNoJobs), errors.Is(err, batch.ErrTooManyJobs):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "batch interrupted", "details": err.Error(), "results": results})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "total": len(results)})
}

func (h *APIHandler) handleBatchStatus(c *gin.Context) {
	st, err := h.Batch.Status(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Batch run not found"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *APIHandler) handleGetReport(c *gin.Context) {
	r, err := h.Reports.GetReport(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrReportNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load report", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r)
}

// handleListReports lists archived reports, newest first.
// GET /api/v1/reports?entity=<address>&limit=50
func (h *APIHandler) handleListReports(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	reports, err := h.Reports.ListReports(c.Request.Context(), c.Query("entity"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list reports", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": reports, "total": len(reports)})
}

func (h *APIHandler) handleRecentAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	var list []alerts.Alert
	if sev := c.Query("severity"); sev != "" {
		list = h.Alerts.BySeverity(sev)
		if limit > 0 && len(list) > limit {
			list = list[:limit]
		}
	} else {
		list = h.Alerts.Recent(limit)
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": len(list)})
}

func (h *APIHandler) handleListEntities(c *gin.Context) {
	reg := h.Analyzer.Registry()
	if reg == nil {
		c.JSON(http.StatusOK, gin.H{"data": []heuristics.KnownEntity{}, "total": 0})
		return
	}
	list := reg.List()
	c.JSON(http.StatusOK, gin.H{"data": list, "total": len(list)})
}

// bindJSON binds the body and answers 400 on failure.
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return false
	}
	return true
}

// validAddress answers 400 when addr is not a Solana address.
func validAddress(c *gin.Context, field, addr string) bool {
	if err := solana.ValidateAddress(addr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + field, "details": err.Error()})
		return false
	}
	return true
}

// archive stores payload as a report and returns its id, or "" when the
// archive failed. Failures never fail the request.
func (h *APIHandler) archive(ctx context.Context, kind, entityID string, risk *models.RiskScoreResult, payload any) string {
	report, err := db.NewReport(kind, entityID, payload)
	if err != nil {
		h.log.Warn("failed to build report", zap.String("kind", kind), zap.Error(err))
		return ""
	}
	report.Policy = h.Analyzer.Policy().Version
	if risk != nil {
		score := risk.RiskScore
		report.RiskScore = &score
		report.RiskLevel = risk.RiskLevel
	}
	if err := h.Reports.SaveReport(ctx, report); err != nil {
		h.log.Warn("failed to archive report", zap.String("kind", kind), zap.String("entity", entityID), zap.Error(err))
		return ""
	}
	return report.ID
}

// publishRisk records the score and raises an alert once it reaches the
// policy alert score.
func (h *APIHandler) publishRisk(ctx context.Context, res models.RiskScoreResult) bool {
	h.Metrics.RecordRiskScore(res.EntityType, res.RiskScore)
	if res.RiskScore < h.Analyzer.Policy().AlertScore {
		return false
	}
	return h.Alerts.EmitFromRisk(ctx, res)
}
