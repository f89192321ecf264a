package replay

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/rand"
	"strings"
)

// SeedFromKey derives a stable int64 seed from a cache key, per the
// determinism requirement: replays of the same key must chunk and delay
// identically every time.
func SeedFromKey(key string) int64 {
	sum := sha256.Sum256([]byte(key))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

const (
	wordCountMean  = 15.0
	wordCountSigma = 5.0

	delayMeanMissMs = 50.0
	delaySigmaMs    = 20.0
)

// chunkWords splits words into groups whose target size is drawn from a
// Gaussian(wordCountMean, wordCountSigma) clamped to at least one word.
func chunkWords(rng *rand.Rand, words []string) [][]string {
	var chunks [][]string
	for i := 0; i < len(words); {
		size := int(math.Round(rng.NormFloat64()*wordCountSigma + wordCountMean))
		if size < 1 {
			size = 1
		}
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, words[i:end])
		i = end
	}
	return chunks
}

// interChunkDelayMs draws a Gaussian(mean, delaySigmaMs) delay in
// milliseconds, clamped to at least zero. mean is halved by the caller for
// hit replays relative to the passthrough default.
func interChunkDelayMs(rng *rand.Rand, mean float64) float64 {
	d := rng.NormFloat64()*delaySigmaMs + mean
	if d < 0 {
		d = 0
	}
	return d
}

// joinWords rebuilds displayable text from a word group; exact original
// whitespace is not preserved, only word boundaries.
func joinWords(words []string) string {
	return strings.Join(words, " ")
}
