package scorer

import (
	"time"

	"github.com/vllm-project/semantic-cache-proxy/pkg/store"
)

// Scored pairs a candidate entry with its computed score.
type Scored struct {
	Entry *store.Entry
	Score Score
}

// SelectBest filters candidates by guardrails and admission threshold, then
// returns the single best-scoring survivor per the tie-break rule (higher
// recency, then higher hit_count). It returns ok=false when no candidate
// survives.
func SelectBest(in GuardrailInput, w Weights, threshold float64, candidates []*store.Entry, now time.Time) (Scored, bool) {
	var best Scored
	found := false

	for _, c := range candidates {
		ok, _ := CheckGuardrails(in, c, now.Unix())
		if !ok {
			continue
		}
		s := Compute(w, in.Fingerprint, c, now)
		if s.Composite < threshold {
			continue
		}
		if !found || better(s, c, best.Score, best.Entry) {
			best = Scored{Entry: c, Score: s}
			found = true
		}
	}
	return best, found
}

// better reports whether (s, e) should replace (bestScore, bestEntry) as
// the leading candidate: higher composite wins; ties break on higher
// recency, then higher hit_count.
func better(s Score, e *store.Entry, bestScore Score, bestEntry *store.Entry) bool {
	if s.Composite != bestScore.Composite {
		return s.Composite > bestScore.Composite
	}
	if s.Recency != bestScore.Recency {
		return s.Recency > bestScore.Recency
	}
	return e.HitCount > bestEntry.HitCount
}
