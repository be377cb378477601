// Package solana holds chain-level helpers: address validation and the
// registry of programs that carry inherent risk.
package solana

import (
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// PublicKeyLength is the decoded size of an ed25519 account address.
const PublicKeyLength = 32

// ErrInvalidAddress is returned for strings that are not Solana addresses.
var ErrInvalidAddress = errors.New("invalid solana address")

// ValidateAddress checks that s is base58 and decodes to a 32 byte key.
func ValidateAddress(s string) error {
	if len(s) < 32 || len(s) > 44 {
		return fmt.Errorf("%w: length %d", ErrInvalidAddress, len(s))
	}
	raw := base58.Decode(s)
	if len(raw) != PublicKeyLength {
		return fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidAddress, s, len(raw))
	}
	return nil
}

// IsAddress reports whether s is a well-formed address.
func IsAddress(s string) bool {
	return ValidateAddress(s) == nil
}

// ProgramInfo describes a program with a baseline risk.
type ProgramInfo struct {
	ID        string  `json:"programId"`
	Name      string  `json:"name"`
	RiskScore float64 `json:"riskScore"`
}

var riskyPrograms = map[string]ProgramInfo{
	"worm2ZoG2kUd4vFXhvjh93UUH596ayRfgQ2MgjNMTth": {
		ID: "worm2ZoG2kUd4vFXhvjh93UUH596ayRfgQ2MgjNMTth", Name: "Wormhole Token Bridge", RiskScore: 60,
	},
	"3u8hJUVTA4jH1wYAyUur7FFZVQ8H635K3tSHHF4ssjQ5": {
		ID: "3u8hJUVTA4jH1wYAyUur7FFZVQ8H635K3tSHHF4ssjQ5", Name: "Wormhole Portal", RiskScore: 70,
	},
	"tor1xzb2Zyy1cUxXmyJfR8aNXuWnwHG8AwgaG7UGD4K": {
		ID: "tor1xzb2Zyy1cUxXmyJfR8aNXuWnwHG8AwgaG7UGD4K", Name: "Tornado Cash Solana (suspected)", RiskScore: 90,
	},
}

// LookupProgram returns the registry entry for a program id.
func LookupProgram(id string) (ProgramInfo, bool) {
	p, ok := riskyPrograms[id]
	return p, ok
}

// RiskyPrograms returns every registered program.
func RiskyPrograms() []ProgramInfo {
	out := make([]ProgramInfo, 0, len(riskyPrograms))
	for _, p := range riskyPrograms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
