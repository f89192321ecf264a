package fingerprint

import (
	"math/bits"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// stopWords is a closed set of common short function words that receive a
// reduced SimHash weight.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "to": true, "of": true, "in": true, "on": true, "at": true,
	"for": true, "and": true, "or": true, "but": true, "it": true, "this": true,
	"that": true, "be": true, "as": true, "by": true, "with": true, "from": true,
	"do": true, "if": true, "so": true, "up": true, "we": true,
	"i": true, "he": true, "she": true, "you": true, "me": true, "my": true,
}

var digitOrJoinChar = regexp.MustCompile(`[0-9_\-]`)

var simhashWhitespace = regexp.MustCompile(`\s+`)

func normalizeForSimHash(text string) string {
	return strings.TrimSpace(simhashWhitespace.ReplaceAllString(strings.ToLower(text), " "))
}

func tokenWeight(token string) float64 {
	weight := 10.0
	if stopWords[token] {
		weight = 2.0
	}
	if len(token) > 8 {
		weight += 5.0
	}
	if digitOrJoinChar.MatchString(token) {
		weight += 3.0
	}
	return weight
}

// SimHash computes a 64-bit SimHash over text using whitespace-separated
// tokens (length >= 2) plus all character trigrams of the normalized text.
func SimHash(text string) uint64 {
	normalized := normalizeForSimHash(text)

	var acc [64]float64
	add := func(tok string, weight float64) {
		h := xxhash.Sum64String(tok)
		for i := 0; i < 64; i++ {
			if h&(uint64(1)<<uint(i)) != 0 {
				acc[i] += weight
			} else {
				acc[i] -= weight
			}
		}
	}

	for _, tok := range strings.Fields(normalized) {
		if len(tok) < 2 {
			continue
		}
		add(tok, tokenWeight(tok))
	}
	for i := 0; i+3 <= len(normalized); i++ {
		add(normalized[i:i+3], 1.0)
	}

	var fp uint64
	for i := 0; i < 64; i++ {
		if acc[i] > 0 {
			fp |= uint64(1) << uint(i)
		}
	}
	return fp
}

// HammingDistance returns the popcount of the XOR of two SimHash fingerprints.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
