package heuristics

import (
	"sort"
	"strings"
)

// Repeated Instruction Sequence Detection
//
// Exploits are usually scripted: the attacker's program replays the same
// instruction sequence (deposit → borrow → swap → withdraw …) many times in a
// short window. Counting non-overlapping repeats of short contiguous
// subsequences surfaces these loops without any knowledge of the program.
//
// Pattern length is capped at 10 so the scan stays O(n²) in the sequence
// length.

const maxSequenceLength = 10

// RepeatedSequence is a contiguous token subsequence that repeats without
// overlapping itself.
type RepeatedSequence struct {
	Sequence    []string `json:"sequence"`
	Length      int      `json:"length"`
	Occurrences int      `json:"occurrences"`
	Positions   []int    `json:"positions"`
}

// FindRepeatedSequences returns subsequences of length in
// [minLength, min(n/2+1, 10)) that occur at least minOccurrences times
// without overlap. Occurrences are chosen greedily from the left. Results
// are ordered by occurrences then length, both descending, then by first
// position.
func FindRepeatedSequences(tokens []string, minLength, minOccurrences int) []RepeatedSequence {
	n := len(tokens)
	if minLength < 1 {
		minLength = 1
	}
	if minOccurrences < 1 {
		minOccurrences = 1
	}
	if n == 0 || n < minLength*minOccurrences {
		return nil
	}

	upper := n/2 + 1
	if upper > maxSequenceLength {
		upper = maxSequenceLength
	}

	type candidate struct {
		tokens    []string
		positions []int
	}
	seen := make(map[string]*candidate)
	var order []string

	for length := minLength; length < upper; length++ {
		for i := 0; i+length <= n; i++ {
			// Unit separator keeps distinct token splits from colliding.
			key := strings.Join(tokens[i:i+length], "\x1f")
			c, ok := seen[key]
			if !ok {
				c = &candidate{tokens: tokens[i : i+length]}
				seen[key] = c
				order = append(order, key)
			}
			c.positions = append(c.positions, i)
		}
	}

	var out []RepeatedSequence
	for _, key := range order {
		c := seen[key]
		if len(c.positions) < minOccurrences {
			continue
		}
		length := len(c.tokens)
		var accepted []int
		end := -1
		for _, pos := range c.positions {
			if pos >= end {
				accepted = append(accepted, pos)
				end = pos + length
			}
		}
		if len(accepted) < minOccurrences {
			continue
		}
		out = append(out, RepeatedSequence{
			Sequence:    append([]string(nil), c.tokens...),
			Length:      length,
			Occurrences: len(accepted),
			Positions:   accepted,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		if out[i].Length != out[j].Length {
			return out[i].Length > out[j].Length
		}
		return out[i].Positions[0] < out[j].Positions[0]
	})
	return out
}
