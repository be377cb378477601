package models

// Risk levels shared by every scoring surface.
const (
	RiskVeryLow  = "very_low"
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskVeryHigh = "very_high"
)

// Entity types carried by risk results.
const (
	EntityAddress     = "address"
	EntityToken       = "token"
	EntityTransaction = "transaction"
)

// FeatureVector is the behavioral summary of one address.
type FeatureVector struct {
	TxCount           int     `json:"txCount"`
	ActiveDays        float64 `json:"activeDays"`
	TxPerDay          float64 `json:"txPerDay"`
	SentCount         int     `json:"sentCount"`
	ReceivedCount     int     `json:"receivedCount"`
	TokenCount        int     `json:"tokenCount"`
	UniqueRecipients  int     `json:"uniqueRecipients"`
	UniqueSenders     int     `json:"uniqueSenders"`
	ExternalRiskScore float64 `json:"externalRiskScore"`
	InOutRatio        float64 `json:"inOutRatio"`
}

// RiskFactor is one contributing signal of a risk score.
type RiskFactor struct {
	Category    string  `json:"category"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Severity    string  `json:"severity"`
	Score       float64 `json:"score"`
}

// RiskScoreResult is the output of every scoring surface.
type RiskScoreResult struct {
	EntityID       string             `json:"entityId"`
	EntityType     string             `json:"entityType"`
	RiskScore      float64            `json:"riskScore"`
	RiskLevel      string             `json:"riskLevel"`
	RiskFactors    []RiskFactor       `json:"riskFactors"`
	CategoryScores map[string]float64 `json:"categoryScores"`
	PolicyVersion  string             `json:"policyVersion"`
	Timestamp      int64              `json:"timestamp"`
}

// ClassificationResult is the output of the address classifier.
type ClassificationResult struct {
	Address       string        `json:"address"`
	Type          string        `json:"type"`
	Confidence    float64       `json:"confidence"`
	RiskLevel     string        `json:"riskLevel"`
	ActivityLevel string        `json:"activityLevel"`
	Features      FeatureVector `json:"features"`
}

// RouteHop is one edge of an exfiltration route.
type RouteHop struct {
	From      string   `json:"from"`
	To        string   `json:"to"`
	Volume    float64  `json:"volume"`
	Transfers int      `json:"transfers"`
	RiskScore float64  `json:"riskScore"`
	FlowType  string   `json:"flowType,omitempty"`
	TxHashes  []string `json:"txHashes,omitempty"`
}

// ExfiltrationRoute is a path from a compromised source to a high-risk sink.
type ExfiltrationRoute struct {
	Source          string     `json:"source"`
	Target          string     `json:"target"`
	Path            []string   `json:"path"`
	PathLength      int        `json:"pathLength"`
	Intermediate    []string   `json:"intermediate"`
	Hops            []RouteHop `json:"hops"`
	TotalVolume     float64    `json:"totalVolume"`
	RiskScore       float64    `json:"riskScore"`
	TargetType      string     `json:"targetType,omitempty"`
	TargetRiskScore *float64   `json:"targetRiskScore,omitempty"`
}
