package models

import "time"

// Direction of a token transfer relative to its owner.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Transfer is a token transfer record as delivered by the data collaborators.
// Owner is the wallet whose history the record came from; TokenAccount is the
// counterparty account.
type Transfer struct {
	Owner        string    `json:"owner"`
	TokenAccount string    `json:"tokenAccount"`
	Direction    Direction `json:"direction"`
	Mint         string    `json:"mint"`
	Amount       float64   `json:"amount"`               // absolute amount change, UI units
	BlockTime    int64     `json:"blockTime"`            // unix seconds
	Signature    string    `json:"signature,omitempty"` // transaction id
}

// Endpoints resolves the direction into a (from, to) pair. ok is false when
// the direction is unknown.
func (t Transfer) Endpoints() (from, to string, ok bool) {
	switch t.Direction {
	case DirectionSent:
		return t.Owner, t.TokenAccount, true
	case DirectionReceived:
		return t.TokenAccount, t.Owner, true
	}
	return "", "", false
}

// Counterparty returns the account on the other side of the transfer.
func (t Transfer) Counterparty() string { return t.TokenAccount }

// Time returns BlockTime as a UTC time.
func (t Transfer) Time() time.Time { return time.Unix(t.BlockTime, 0).UTC() }

// TokenBalanceChange is one pre/post token balance pair of a transaction.
type TokenBalanceChange struct {
	Account string  `json:"account"`
	Mint    string  `json:"mint"`
	Pre     float64 `json:"pre"`
	Post    float64 `json:"post"`
}

// Transaction is a parsed Solana transaction as seen from one address history.
type Transaction struct {
	Signature        string               `json:"signature"`
	Address          string               `json:"address"`
	Signer           string               `json:"signer"`
	BlockTime        int64                `json:"blockTime"`
	InstructionType  string               `json:"instructionType,omitempty"`
	Amount           float64              `json:"amount"`
	Success          bool                 `json:"success"`
	InstructionCount int                  `json:"instructionCount"` // top-level plus inner instructions
	Programs         []string             `json:"programs,omitempty"`
	Accounts         []string             `json:"accounts,omitempty"`
	BalanceChanges   []TokenBalanceChange `json:"balanceChanges,omitempty"`
	Fee              float64              `json:"fee"`
	AccountType      string               `json:"accountType,omitempty"` // program | token | user
}

// Time returns BlockTime as a UTC time.
func (t Transaction) Time() time.Time { return time.Unix(t.BlockTime, 0).UTC() }

// ExternalRisk is a risk assessment supplied by an outside provider.
type ExternalRisk struct {
	RiskScore   float64  `json:"riskScore"`
	RiskFactors []string `json:"riskFactors,omitempty"`
}

// ContractRiskFactor is one named finding of a contract audit provider.
type ContractRiskFactor struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// ContractRisk is a contract-level risk report (RugCheck-style).
type ContractRisk struct {
	NormalizedScore float64              `json:"normalizedScore"`
	Factors         []ContractRiskFactor `json:"factors,omitempty"`
}

// Market is one liquidity pool of a token.
type Market struct {
	Address    string  `json:"address,omitempty"`
	LiquidityA float64 `json:"liquidityA"`
	LiquidityB float64 `json:"liquidityB"`
}

// Holder is one entry of a token holder list.
type Holder struct {
	Address    string  `json:"address"`
	Percentage float64 `json:"percentage"`
}

// TokenMetadata describes a token mint and its market structure.
type TokenMetadata struct {
	Mint            string   `json:"mint"`
	Name            string   `json:"name,omitempty"`
	Symbol          string   `json:"symbol,omitempty"`
	Creator         string   `json:"creator,omitempty"`
	CreatorTokens   []string `json:"creatorTokens,omitempty"`
	MintAuthority   string   `json:"mintAuthority,omitempty"`
	FreezeAuthority string   `json:"freezeAuthority,omitempty"`
	Markets         []Market `json:"markets,omitempty"`
	Holders         []Holder `json:"holders,omitempty"`
}

// RouteRecord is a previously identified laundering route segment.
type RouteRecord struct {
	SourceAddress   string   `json:"sourceAddress"`
	TargetAddress   string   `json:"targetAddress"`
	TransactionHash string   `json:"transactionHash,omitempty"`
	FlowType        string   `json:"flowType,omitempty"`
	AmountUSD       float64  `json:"amountUsd"`
	RiskScore       *float64 `json:"riskScore,omitempty"`
	Intermediate    []string `json:"intermediate,omitempty"`
}

// EntityLabel attaches known-entity information to an address.
type EntityLabel struct {
	Address   string   `json:"address"`
	Label     string   `json:"label,omitempty"`
	Type      string   `json:"type,omitempty"`
	RiskScore *float64 `json:"riskScore,omitempty"`
	FlowType  string   `json:"flowType,omitempty"`
}

// Incident describes a known security incident.
type Incident struct {
	Name                string    `json:"name"`
	Date                time.Time `json:"date"`
	Type                string    `json:"type,omitempty"`
	LossUSD             float64   `json:"lossUsd"`
	Description         string    `json:"description,omitempty"`
	ExploitAddresses    []string  `json:"exploitAddresses"`
	VulnerableContracts []string  `json:"vulnerableContracts,omitempty"`
	AttackVector        string    `json:"attackVector,omitempty"`
	References          []string  `json:"references,omitempty"`
}
