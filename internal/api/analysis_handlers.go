package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cipherzeroprotocol/solana-guard/internal/alerts"
	"github.com/cipherzeroprotocol/solana-guard/internal/db"
	"github.com/cipherzeroprotocol/solana-guard/internal/heuristics"
	"github.com/cipherzeroprotocol/solana-guard/pkg/models"
)

// POST /api/v1/classify
func (h *APIHandler) handleClassify(c *gin.Context) {
	var req struct {
		Address      string               `json:"address" binding:"required"`
		Transactions []models.Transaction `json:"transactions"`
		Transfers    []models.Transfer    `json:"transfers"`
		External     *models.ExternalRisk `json:"external,omitempty"`
	}
	if !bindJSON(c, &req) || !validAddress(c, "address", req.Address) {
		return
	}

	res := h.Analyzer.ClassifyAddress(req.Address, req.Transactions, req.Transfers, req.External)
	h.Metrics.RecordAnalysis(db.KindClassification)
	reportID := h.archive(c.Request.Context(), db.KindClassification, req.Address, nil, res)

	c.JSON(http.StatusOK, gin.H{"classification": res, "reportId": reportID})
}

// POST /api/v1/risk/address
func (h *APIHandler) handleRiskAddress(c *gin.Context) {
	var req heuristics.AddressRiskInput
	if !bindJSON(c, &req) || !validAddress(c, "address", req.Address) {
		return
	}
	res := h.Analyzer.ScoreAddress(req)
	h.respondRisk(c, db.KindRiskAddress, res)
}

// POST /api/v1/risk/token
func (h *APIHandler) handleRiskToken(c *gin.Context) {
	var req heuristics.TokenRiskInput
	if !bindJSON(c, &req) || !validAddress(c, "metadata.mint", req.Metadata.Mint) {
		return
	}
	res := h.Analyzer.ScoreToken(req)
	h.respondRisk(c, db.KindRiskToken, res)
}

// POST /api/v1/risk/transaction
func (h *APIHandler) handleRiskTransaction(c *gin.Context) {
	var req heuristics.TransactionRiskInput
	if !bindJSON(c, &req) {
		return
	}
	if req.Transaction.Signature == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transaction.signature is required"})
		return
	}
	res := h.Analyzer.ScoreTransaction(req)
	h.respondRisk(c, db.KindRiskTransaction, res)
}

func (h *APIHandler) respondRisk(c *gin.Context, kind string, res models.RiskScoreResult) {
	ctx := c.Request.Context()
	h.Metrics.RecordAnalysis(kind)
	alerted := h.publishRisk(ctx, res)
	reportID := h.archive(ctx, kind, res.EntityID, &res, res)
	c.JSON(http.StatusOK, gin.H{"result": res, "alerted": alerted, "reportId": reportID})
}

// POST /api/v1/patterns/laundering
func (h *APIHandler) handleLaundering(c *gin.Context) {
	var req heuristics.LaunderingInput
	if !bindJSON(c, &req) || !validAddress(c, "address", req.Address) {
		return
	}
	ctx := c.Request.Context()
	report := h.Analyzer.DetectMoneyLaundering(req)
	h.Metrics.RecordAnalysis(db.KindLaundering)

	alerted := false
	if report.IsSuspicious {
		signals := make([]string, 0, len(report.Patterns))
		for _, p := range report.Patterns {
			signals = append(signals, p.Type)
		}
		alerted = h.Alerts.Emit(ctx, alerts.Alert{
			Severity:    alerts.SeverityForRiskLevel(heuristics.RiskLevel(report.RiskScore)),
			AlertType:   alerts.TypeLaundering,
			Title:       "money laundering indicators for " + req.Address,
			Description: fmt.Sprintf("%d laundering patterns and %d known routes.", len(report.Patterns), len(report.Routes)),
			EntityID:    req.Address,
			EntityType:  models.EntityAddress,
			RiskScore:   report.RiskScore,
			Signals:     signals,
		})
	}
	score := models.RiskScoreResult{RiskScore: report.RiskScore, RiskLevel: heuristics.RiskLevel(report.RiskScore)}
	reportID := h.archive(ctx, db.KindLaundering, req.Address, &score, report)

	c.JSON(http.StatusOK, gin.H{"report": report, "alerted": alerted, "reportId": reportID})
}

type addressTransfers struct {
	Address   string            `json:"address" binding:"required"`
	Transfers []models.Transfer `json:"transfers"`
}

// POST /api/v1/patterns/dusting
func (h *APIHandler) handleDusting(c *gin.Context) {
	var req addressTransfers
	if !bindJSON(c, &req) || !validAddress(c, "address", req.Address) {
		return
	}
	report := h.Analyzer.DetectDustingAndPoisoning(req.Address, req.Transfers)
	h.Metrics.RecordAnalysis(db.KindDusting)
	reportID := h.archive(c.Request.Context(), db.KindDusting, req.Address, nil, report)
	c.JSON(http.StatusOK, gin.H{"report": report, "reportId": reportID})
}

// POST /api/v1/patterns/related
func (h *APIHandler) handleRelated(c *gin.Context) {
	var req addressTransfers
	if !bindJSON(c, &req) || !validAddress(c, "address", req.Address) {
		return
	}
	related := h.Analyzer.IdentifyRelatedAddresses(req.Address, req.Transfers)
	h.Metrics.RecordAnalysis("related")
	c.JSON(http.StatusOK, gin.H{"address": req.Address, "related": related, "total": len(related)})
}

// POST /api/v1/incidents/analyze
func (h *APIHandler) handleIncident(c *gin.Context) {
	var req struct {
		Incident     models.Incident      `json:"incident"`
		Transactions []models.Transaction `json:"transactions"`
		Transfers    []models.Transfer    `json:"transfers"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if len(req.Incident.ExploitAddresses) == 0 || req.Incident.Date.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "incident.date and incident.exploitAddresses are required"})
		return
	}
	for _, addr := range req.Incident.ExploitAddresses {
		if !validAddress(c, "exploit address", addr) {
			return
		}
	}

	report := h.Analyzer.AnalyzeSecurityIncident(req.Incident, req.Transactions, req.Transfers)
	h.Metrics.RecordAnalysis(db.KindIncident)
	reportID := h.archive(c.Request.Context(), db.KindIncident, req.Incident.ExploitAddresses[0], nil, report)
	c.JSON(http.StatusOK, gin.H{"report": report, "reportId": reportID})
}

// POST /api/v1/entropy
// Scores a raw value series and, when transactions are supplied, computes
// windowed entropy with anomalies and the patterns behind them.
func (h *APIHandler) handleEntropy(c *gin.Context) {
	var req struct {
		Values        []float64            `json:"values"`
		Transactions  []models.Transaction `json:"transactions"`
		WindowSeconds int64                `json:"windowSeconds"`
		Threshold     float64              `json:"threshold"`
		Window        int                  `json:"window"`
	}
	if !bindJSON(c, &req) {
		return
	}
	policy := h.Analyzer.Policy()
	if req.WindowSeconds <= 0 {
		req.WindowSeconds = int64(time.Hour / time.Second)
	}
	if req.Threshold <= 0 {
		req.Threshold = policy.EntropyZThreshold
	}
	if req.Window < 2 {
		req.Window = policy.EntropyWindow
	}

	resp := gin.H{
		"entropy":      heuristics.CalculateEntropy(req.Values),
		"distribution": heuristics.ClassifyDistribution(req.Values),
	}
	if len(req.Transactions) > 0 {
		windows := heuristics.CalculateTransactionEntropy(req.Transactions, time.Duration(req.WindowSeconds)*time.Second)
		anomalies := heuristics.DetectEntropyAnomalies(windows, req.Threshold, req.Window)
		resp["windows"] = windows
		resp["anomalies"] = anomalies
		resp["patterns"] = heuristics.IdentifyAnomalousPatterns(req.Transactions, anomalies)
	}
	h.Metrics.RecordAnalysis("entropy")
	c.JSON(http.StatusOK, resp)
}

// POST /api/v1/sequences
// Tokens default to the instruction types of the supplied transactions.
func (h *APIHandler) handleSequences(c *gin.Context) {
	var req struct {
		Tokens         []string             `json:"tokens"`
		Transactions   []models.Transaction `json:"transactions"`
		MinLength      int                  `json:"minLength"`
		MinOccurrences int                  `json:"minOccurrences"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if len(req.Tokens) == 0 {
		for _, tx := range req.Transactions {
			if tx.InstructionType != "" {
				req.Tokens = append(req.Tokens, tx.InstructionType)
			}
		}
	}
	if req.MinLength < 1 {
		req.MinLength = 2
	}
	if req.MinOccurrences < 1 {
		req.MinOccurrences = 2
	}

	seqs := heuristics.FindRepeatedSequences(req.Tokens, req.MinLength, req.MinOccurrences)
	if seqs == nil {
		seqs = []heuristics.RepeatedSequence{}
	}
	h.Metrics.RecordAnalysis("sequences")
	c.JSON(http.StatusOK, gin.H{"sequences": seqs, "total": len(seqs)})
}
