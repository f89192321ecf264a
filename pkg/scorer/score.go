package scorer

import (
	"math"
	"time"

	"github.com/vllm-project/semantic-cache-proxy/pkg/fingerprint"
	"github.com/vllm-project/semantic-cache-proxy/pkg/store"
)

// Weights are the composite score's contribution factors. They sum to 1.0
// under the default configuration but are exposed so operators can retune
// the semantic-vs-structural balance.
type Weights struct {
	Semantic   float64
	Structural float64
	Param      float64
	Recency    float64
}

// DefaultWeights matches the composite formula's documented default.
var DefaultWeights = Weights{Semantic: 0.6, Structural: 0.2, Param: 0.1, Recency: 0.1}

// DropSemantic renormalizes w with the semantic term removed, so the
// composite score falls back to structural+param+recency only when the
// embedder dependency is down (consts.DegradationTemplateWithoutSemantic or
// consts.DegradationFullWithoutSemantic). If the remaining weights sum to
// zero, they are split evenly.
func DropSemantic(w Weights) Weights {
	rest := w.Structural + w.Param + w.Recency
	if rest <= 0 {
		return Weights{Structural: 1.0 / 3, Param: 1.0 / 3, Recency: 1.0 / 3}
	}
	return Weights{
		Structural: w.Structural / rest,
		Param:      w.Param / rest,
		Recency:    w.Recency / rest,
	}
}

// Score is the breakdown of a candidate's composite similarity score.
type Score struct {
	Structural float64
	Semantic   float64
	Param      float64
	Recency    float64
	Composite  float64
}

// recencyHalfLifeHours is the time constant of the recency term's
// exponential decay (~1 week): recency falls to 1/e, not 1/2, after this
// many hours.
const recencyHalfLifeHours = 168.0

// Compute scores a candidate entry against the request fingerprint.
func Compute(w Weights, req *fingerprint.Fingerprint, cand *store.Entry, now time.Time) Score {
	structural := 1.0 - float64(fingerprint.HammingDistance(req.SimHash, cand.SimHash))/64.0
	semantic := (fingerprint.CosineSimilarity(req.Embedding, cand.Embedding) + 1.0) / 2.0
	param := (temperatureCloseness(req.TemperatureBucket, cand.TemperatureBucket) + topPCloseness(req.TopP, cand.TopP)) / 2.0

	ageHours := now.Sub(cand.CreatedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	recency := math.Exp(-ageHours / recencyHalfLifeHours)

	composite := w.Semantic*semantic + w.Structural*structural + w.Param*param + w.Recency*recency
	return Score{Structural: structural, Semantic: semantic, Param: param, Recency: recency, Composite: composite}
}

func temperatureCloseness(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if fingerprint.BucketDistance(a, b) == 1 {
		return 0.5
	}
	return 0.0
}

const topPTolerance = 1e-2

func topPCloseness(a, b *float64) float64 {
	av, aDefault := effectiveTopP(a)
	bv, bDefault := effectiveTopP(b)
	if aDefault && bDefault {
		return 1.0
	}
	if math.Abs(av-bv) <= topPTolerance {
		return 1.0
	}
	return 0.8
}

// effectiveTopP treats an absent top_p as the canonical default of 1.0.
func effectiveTopP(p *float64) (value float64, isDefault bool) {
	if p == nil {
		return 1.0, true
	}
	return *p, math.Abs(*p-1.0) < 1e-9
}
