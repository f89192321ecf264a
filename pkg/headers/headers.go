// Package headers provides constants for all custom HTTP headers used by the
// caching proxy. All custom headers follow the "x-" prefix convention for
// non-standard HTTP headers.
package headers

// Request Headers
// These headers are read from incoming chat-completion requests and steer
// cache lookup and write-through behavior for that single request.
const (
	// RequestID is the unique identifier for tracking a request through the system.
	// This header is case-insensitive when read from incoming requests.
	RequestID = "x-request-id"

	// CacheBypass, when "true", skips cache lookup entirely and forwards the
	// request straight to the upstream provider. The response is still
	// eligible for write-through unless CacheStore is also set to "false".
	CacheBypass = "x-cache-bypass"

	// CacheStore controls whether a fresh upstream response is written back
	// into the cache. Value: "true" or "false". Defaults to "true" when absent.
	CacheStore = "x-cache-store"

	// CacheMode forces the lookup tier the engine is allowed to use.
	// Values: "exact", "template", "auto" (default).
	CacheMode = "x-cache-mode"

	// ModelCompat overrides the configured model compatibility policy for a
	// single request. Values: "strict", "family", "any".
	ModelCompat = "x-model-compat"

	// CacheExperiment carries an opaque experiment label supplied by the
	// caller. The engine neither interprets it nor writes it to any log
	// event.
	CacheExperiment = "x-cache-experiment"
)

// Response Headers
// These headers are added to responses to expose cache decision-making
// information to the caller for debugging and monitoring.
const (
	// CacheHit indicates that the response was served from cache.
	// Values: "true" or "false".
	CacheHit = "x-cache-hit"

	// CacheMatch reports which tier produced the hit.
	// Values: "exact", "template", or "none" on a miss.
	CacheMatch = "x-cache-match"

	// CacheScore carries the composite similarity score of a hit, formatted
	// as a decimal string (e.g. "0.913"; an exact hit always reports
	// "1.000"). Absent on a miss.
	CacheScore = "x-cache-score"

	// CacheProvenance carries the entry ID of the cache entry that served
	// a hit. It is not set on a miss.
	CacheProvenance = "x-cache-provenance"

	// CacheSourceModel reports the model that originally produced a
	// template-hit response, when it differs from the requested model.
	CacheSourceModel = "x-cache-source-model"

	// CacheAge reports the number of seconds since the serving entry was
	// created, formatted as an integer string.
	CacheAge = "x-cache-age"

	// CacheDegraded indicates the engine served this request under a
	// degraded resilience mode. Set to "true" only when degraded; absent
	// otherwise.
	CacheDegraded = "x-cache-degraded"

	// CacheDegradedReason names the active degradation mode when
	// CacheDegraded is "true".
	// Values: "exact_only", "template_only", "full_without_semantic",
	// "template_without_semantic", "passthrough".
	CacheDegradedReason = "x-cache-degraded-reason"
)
