package heuristics

import "github.com/cipherzeroprotocol/solana-guard/pkg/models"

// VulnerabilityDetails describes the weakness class behind an attack vector.
type VulnerabilityDetails struct {
	Category            string   `json:"category"`
	CWEID               string   `json:"cweId"`
	Description         string   `json:"description"`
	Severity            string   `json:"severity"`
	Mitigation          string   `json:"mitigation"`
	AttackVector        string   `json:"attackVector"`
	VulnerableContracts []string `json:"vulnerableContracts"`
}

// Recommendation is one remediation step.
type Recommendation struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

var vulnerabilityCatalog = map[string]VulnerabilityDetails{
	"signature_verification_bypass": {
		Category:    "Authentication",
		CWEID:       "CWE-347",
		Description: "Improper verification of cryptographic signature",
		Severity:    "critical",
		Mitigation:  "Implement rigorous signature verification with proper error checking",
	},
	"oracle_manipulation": {
		Category:    "Data Integrity",
		CWEID:       "CWE-400",
		Description: "Manipulation of price oracle data leading to incorrect financial calculations",
		Severity:    "critical",
		Mitigation:  "Use time-weighted average prices, multiple oracle sources and circuit breakers",
	},
	"verification_bypass": {
		Category:    "Access Control",
		CWEID:       "CWE-602",
		Description: "Client-side enforcement of server-side security",
		Severity:    "critical",
		Mitigation:  "Implement proper verification on program side, not relying on client inputs",
	},
	"flash_loan": {
		Category:    "Timing/Financial",
		CWEID:       "CWE-667",
		Description: "Improper locking or synchronization allowing economic manipulation",
		Severity:    "high",
		Mitigation:  "Implement circuit breakers, rate limiting and proper price controls",
	},
	"reentrancy": {
		Category:    "Control Flow",
		CWEID:       "CWE-841",
		Description: "Improper handling of program control allowing repeat execution",
		Severity:    "critical",
		Mitigation:  "Use checks-effects-interactions pattern and reentrancy guards",
	},
}

// IdentifyVulnerabilityDetails maps the incident's attack vector onto the
// vulnerability catalog. Unknown vectors yield an "Unknown" entry.
func IdentifyVulnerabilityDetails(incident models.Incident) VulnerabilityDetails {
	v, ok := vulnerabilityCatalog[incident.AttackVector]
	if !ok {
		v = VulnerabilityDetails{
			Category:    "Unknown",
			CWEID:       "Unknown",
			Description: "Vulnerability details not available",
			Severity:    "unknown",
			Mitigation:  "Unknown",
		}
	}
	v.AttackVector = incident.AttackVector
	v.VulnerableContracts = append([]string{}, incident.VulnerableContracts...)
	return v
}

var baseRecommendations = []Recommendation{
	{"Regular Security Audits", "Conduct regular third-party security audits of all smart contract code", "high"},
	{"Incident Response Plan", "Develop and maintain an incident response plan for security breaches", "high"},
	{"Monitoring System", "Implement 24/7 monitoring for suspicious activities on-chain", "medium"},
}

var vectorRecommendations = map[string][]Recommendation{
	"signature_verification_bypass": {
		{"Enhanced Signature Verification", "Implement rigorous signature verification with proper error checking and rejection of invalid signatures", "critical"},
		{"Multiple Signature Requirements", "Consider requiring multiple signatures for critical operations", "high"},
	},
	"oracle_manipulation": {
		{"Multiple Oracle Sources", "Use multiple independent price oracle sources and implement a median or weighted average", "critical"},
		{"Time-Weighted Average Prices", "Implement TWAP (Time-Weighted Average Price) to mitigate short-term price manipulation", "high"},
		{"Circuit Breakers", "Implement circuit breakers that pause operations when suspicious price movements are detected", "high"},
	},
	"verification_bypass": {
		{"Server-Side Verification", "Ensure all security checks are performed on the program side, not relying on client inputs", "critical"},
		{"Access Control Lists", "Implement explicit access control lists for privileged operations", "high"},
	},
	"flash_loan": {
		{"Price Impact Limits", "Implement maximum price impact limits for trades", "high"},
		{"Transaction Ordering Protection", "Design systems resistant to transaction ordering manipulation", "medium"},
	},
	"reentrancy": {
		{"Checks-Effects-Interactions Pattern", "Follow the checks-effects-interactions pattern in all functions", "critical"},
		{"Reentrancy Guards", "Implement reentrancy guards in functions that perform external calls", "high"},
	},
}

// SecurityRecommendations returns the base recommendations followed by the
// ones specific to attackVector.
func SecurityRecommendations(attackVector string) []Recommendation {
	recs := make([]Recommendation, 0, len(baseRecommendations)+3)
	recs = append(recs, baseRecommendations...)
	return append(recs, vectorRecommendations[attackVector]...)
}
