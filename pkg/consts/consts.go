// Package consts holds small shared string constants used across the cache
// engine's packages, kept in one place to avoid magic-string drift.
package consts

// UnknownLabel is a canonical fallback label value used across the codebase
// when a more specific value (e.g., model, category, reason) is not available.
const UnknownLabel = "unknown"

// Cache lookup tiers, used as the CacheMatch header value and as metric labels.
const (
	MatchExact    = "exact"
	MatchTemplate = "template"
	MatchNone     = "none"
)

// Cache modes, controlling which tiers a lookup may consult.
const (
	ModeAuto     = "auto"
	ModeExact    = "exact"
	ModeTemplate = "template"
)

// Model compatibility policies for template-hit admission.
const (
	ModelCompatStrict = "strict"
	ModelCompatFamily = "family"
	ModelCompatAny    = "any"
)

// Degradation modes reported when a dependency's circuit breaker is open.
const (
	DegradationNone                    = "full"
	DegradationExactOnly               = "exact_only"
	DegradationTemplateOnly            = "template_only"
	DegradationFullWithoutSemantic     = "full_without_semantic"
	DegradationTemplateWithoutSemantic = "template_without_semantic"
	DegradationPassthrough             = "passthrough"
)

// Named dependencies tracked by the resilience layer's circuit breakers.
const (
	DependencyHotStore     = "hot_store"
	DependencyIndexedStore = "indexed_store"
	DependencyEmbedder     = "embedder"
	DependencyUpstream     = "upstream"
)
