// Package engine orchestrates the canonicalizer, fingerprinter, two-tier
// store, scorer, resilience breakers, and stream replayer into the cache
// lookup and write-through algorithm described by the cache proxy's core
// specification. It is the seam grounded on pkg/extproc_ref's
// handleCaching: parse the request, try cache, on hit stamp provenance and
// return, on miss forward upstream and write through.
package engine

import (
	"github.com/vllm-project/semantic-cache-proxy/pkg/consts"
	"github.com/vllm-project/semantic-cache-proxy/pkg/store"
	"github.com/vllm-project/semantic-cache-proxy/pkg/upstream"
)

// Overrides carries the per-request behavior toggles read from the
// x-cache-* request headers (see pkg/headers). Callers (the HTTP layer)
// parse headers into Overrides; the engine itself never touches net/http.
type Overrides struct {
	// CacheBypass skips lookup and forces a miss, per x-cache-bypass. The
	// response is still eligible for write-through unless CacheStore is
	// also false.
	CacheBypass bool
	// CacheStore controls whether a fresh upstream response is written
	// through, per x-cache-store. Defaults to true.
	CacheStore bool
	// CacheMode restricts which tiers a lookup may consult, per
	// x-cache-mode: consts.ModeAuto, ModeExact, or ModeTemplate.
	CacheMode string
	// ModelCompat overrides the configured model compatibility policy for
	// this request, per x-model-compat. Empty means use the configured
	// default.
	ModelCompat string
	// Experiment holds the x-cache-experiment label. The engine does not
	// read it; no log event or header carries it.
	Experiment string
}

// DefaultOverrides returns the overrides in effect when no x-cache-*
// headers are present on the request.
func DefaultOverrides() Overrides {
	return Overrides{CacheStore: true, CacheMode: consts.ModeAuto}
}

// Outcome is the result of a single lookup, sufficient to both serve the
// response and stamp the provenance headers described in spec §6.
type Outcome struct {
	Hit            bool
	Match          string // consts.MatchExact, consts.MatchTemplate, or "" on a miss
	Score          float64
	EntryID        string
	SourceModel    string // set only when it differs from the request's model
	AgeSeconds     int64
	Degraded       bool
	DegradedReason string
	Response       *upstream.Response

	// entry is the serving cache entry on a hit, kept so the streaming path
	// can seed the deterministic replay from its exact key.
	entry *store.Entry
}
