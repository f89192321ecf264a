package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vllm-project/semantic-cache-proxy/pkg/breaker"
	"github.com/vllm-project/semantic-cache-proxy/pkg/canonical"
	"github.com/vllm-project/semantic-cache-proxy/pkg/consts"
	"github.com/vllm-project/semantic-cache-proxy/pkg/fingerprint"
	"github.com/vllm-project/semantic-cache-proxy/pkg/observability/logging"
	"github.com/vllm-project/semantic-cache-proxy/pkg/observability/metrics"
	"github.com/vllm-project/semantic-cache-proxy/pkg/observability/tracing"
	"github.com/vllm-project/semantic-cache-proxy/pkg/scorer"
	"github.com/vllm-project/semantic-cache-proxy/pkg/store"
	"github.com/vllm-project/semantic-cache-proxy/pkg/upstream"
)

// prepared holds the request-derived facts shared by the exact and template
// lookup paths and by write-through, so they are computed exactly once per
// request.
type prepared struct {
	req         *canonical.Request
	canon       *canonical.Result
	fp          *fingerprint.Fingerprint
	degradation breaker.Degradation
	weights     scorer.Weights
	modelCompat string
}

// prepare parses, canonicalizes, and fingerprints rawBody, adjusting the
// composite weights for the current degradation mode. It is the shared
// first half of both Lookup and LookupStream, run unconditionally even
// under x-cache-bypass so write-through can still record the request's
// identity.
func (e *Engine) prepare(ctx context.Context, rawBody []byte, ov Overrides) (*prepared, error) {
	req, err := canonical.ParseRequest(rawBody)
	if err != nil {
		return nil, err
	}
	canon, err := canonical.Canonicalize(rawBody, e.hmacSecret)
	if err != nil {
		return nil, err
	}

	cfg := e.config()
	degradation := e.breakers.Classify(cfg.Cache.AdmissionThreshold)
	metrics.SetDegradationMode(degradation.Mode)

	weights := scorer.Weights{
		Semantic:   cfg.Cache.Weights.Semantic,
		Structural: cfg.Cache.Weights.Structural,
		Param:      cfg.Cache.Weights.Param,
		Recency:    cfg.Cache.Weights.Recency,
	}

	embedder := e.embedder
	if degradation.Mode == consts.DegradationTemplateWithoutSemantic || degradation.Mode == consts.DegradationFullWithoutSemantic {
		embedder = nil
		weights = scorer.DropSemantic(weights)
	}

	fp, err := fingerprint.Compute(ctx, req, canon, embedder)
	if err != nil {
		logging.Warnf("fingerprint computation degraded: %v", err)
		fp, err = fingerprint.Compute(ctx, req, canon, nil)
		if err != nil {
			return nil, err
		}
		weights = scorer.DropSemantic(weights)
	}

	return &prepared{
		req:         req,
		canon:       canon,
		fp:          fp,
		degradation: degradation,
		weights:     weights,
		modelCompat: effectiveModelCompat(ov, cfg),
	}, nil
}

// allowExact and allowTemplate gate which tiers a lookup may consult, per
// the request's cache mode override and the current degradation mode.
func allowExact(mode string, degradation string) bool {
	if mode == consts.ModeTemplate {
		return false
	}
	switch degradation {
	case consts.DegradationNone, consts.DegradationExactOnly, consts.DegradationFullWithoutSemantic:
		return true
	default:
		return false
	}
}

func allowTemplate(mode string, degradation string) bool {
	if mode == consts.ModeExact {
		return false
	}
	switch degradation {
	case consts.DegradationNone, consts.DegradationTemplateOnly, consts.DegradationTemplateWithoutSemantic, consts.DegradationFullWithoutSemantic:
		return true
	default:
		return false
	}
}

// tryLookup runs lookup steps 3-6: exact hot-tier match, else template
// indexed-tier candidate fetch, guardrail check, and composite scoring. It
// returns nil, nil on a clean miss.
func (e *Engine) tryLookup(ctx context.Context, tenant string, p *prepared, ov Overrides) (*Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, tracing.SpanCacheLookup)
	defer span.End()
	tracing.SetSpanAttributes(span, attribute.String(tracing.AttrTenant, tenant), attribute.String(tracing.AttrModelName, p.req.Model))

	mode := ov.CacheMode
	if mode == "" {
		mode = consts.ModeAuto
	}
	now := e.now()

	if allowExact(mode, p.degradation.Mode) {
		exactCtx, exactSpan := tracing.StartSpan(ctx, tracing.SpanCacheExactLookup)
		entry, err := breaker.ExecuteContext(exactCtx, e.breakers.Get(consts.DependencyHotStore), func(ctx context.Context) (*store.Entry, error) {
			ent, found, gerr := e.hot.Get(ctx, tenant, p.canon.ExactKey)
			if gerr != nil {
				return nil, gerr
			}
			if !found {
				return nil, nil
			}
			return ent, nil
		})
		hit := err == nil && entry != nil && !entry.Expired(now)
		tracing.SetSpanAttributes(exactSpan, attribute.String(tracing.AttrCacheKey, p.canon.ExactKey), attribute.Bool(tracing.AttrCacheHit, hit))
		switch {
		case err != nil:
			logging.Warnf("hot tier lookup failed for tenant %s: %v", tenant, err)
			tracing.RecordError(exactSpan, err)
			exactSpan.End()
		case hit:
			outcome := e.hitOutcome(consts.MatchExact, entry, 1.0, p, now)
			go e.asyncUpdateHitStats(tenant, entry.ID)
			exactSpan.End()
			tracing.SetSpanAttributes(span, attribute.Bool(tracing.AttrCacheHit, true), attribute.String(tracing.AttrCacheMatch, consts.MatchExact))
			return outcome, nil
		default:
			exactSpan.End()
		}
	}

	if !allowTemplate(mode, p.degradation.Mode) {
		return nil, nil
	}

	templateCtx, templateSpan := tracing.StartSpan(ctx, tracing.SpanCacheTemplate)
	defer templateSpan.End()

	candidates, err := breaker.ExecuteContext(templateCtx, e.breakers.Get(consts.DependencyIndexedStore), func(ctx context.Context) ([]*store.Entry, error) {
		return e.indexed.CandidateFetch(ctx, store.CandidateQuery{
			Tenant:     tenant,
			Mode:       p.fp.Mode,
			Model:      candidateModelFilter(p.modelCompat, p.req.Model),
			SimHash:    p.fp.SimHash,
			MaxHamming: e.config().Cache.SimhashMaxDistance,
			Limit:      e.config().Cache.CandidateLimit,
		})
	})
	if err != nil {
		logging.Warnf("indexed tier candidate fetch failed for tenant %s: %v", tenant, err)
		tracing.RecordError(templateSpan, err)
		return nil, nil
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	in := scorer.GuardrailInput{
		Fingerprint:       p.fp,
		RequestModel:      p.req.Model,
		ModelCompatPolicy: p.modelCompat,
		JSONSchema:        schemaFromRequest(p.req),
	}
	best, ok := scorer.SelectBest(in, p.weights, p.degradation.AdmissionThreshold, candidates, now)
	if !ok {
		tracing.SetSpanAttributes(templateSpan, attribute.Bool(tracing.AttrCacheHit, false), attribute.Int("cache.candidates", len(candidates)))
		return nil, nil
	}

	metrics.RecordCompositeScore(best.Score.Composite)
	tracing.SetSpanAttributes(templateSpan,
		attribute.Bool(tracing.AttrCacheHit, true),
		attribute.String(tracing.AttrCacheMatch, consts.MatchTemplate),
		attribute.Float64(tracing.AttrCacheScore, best.Score.Composite))
	outcome := e.hitOutcome(consts.MatchTemplate, best.Entry, best.Score.Composite, p, now)
	go e.asyncUpdateHitStats(tenant, best.Entry.ID)
	tracing.SetSpanAttributes(span, attribute.Bool(tracing.AttrCacheHit, true), attribute.String(tracing.AttrCacheMatch, consts.MatchTemplate))
	return outcome, nil
}

// candidateModelFilter narrows the candidate fetch to an exact model match
// only under the strict policy; family and any policies fetch broadly and
// let CheckGuardrails apply the real compatibility test per candidate.
func candidateModelFilter(policy, model string) string {
	if policy == consts.ModelCompatStrict {
		return model
	}
	return ""
}

func (e *Engine) hitOutcome(match string, entry *store.Entry, score float64, p *prepared, now time.Time) *Outcome {
	metrics.RecordCacheHit(match)
	e.hitCount.Add(1)
	logging.CacheHit(map[string]interface{}{
		"match":    match,
		"score":    score,
		"entry_id": entry.ID,
		"model":    p.req.Model,
	})
	sourceModel := ""
	if entry.Model != p.req.Model {
		sourceModel = entry.Model
	}
	return &Outcome{
		Hit:            true,
		Match:          match,
		Score:          score,
		EntryID:        entry.ID,
		SourceModel:    sourceModel,
		AgeSeconds:     entry.AgeSeconds(now),
		Degraded:       p.degradation.Mode != consts.DegradationNone,
		DegradedReason: degradedReason(p.degradation.Mode),
		entry:          entry,
	}
}

// asyncUpdateHitStats implements step 6's fire-and-forget hit accounting.
func (e *Engine) asyncUpdateHitStats(tenant, entryID string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeThroughTimeout)
	defer cancel()
	if _, err := breaker.ExecuteContext(ctx, e.breakers.Get(consts.DependencyIndexedStore), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.indexed.UpdateHitStats(ctx, tenant, entryID)
	}); err != nil {
		logging.Warnf("failed to update hit stats for entry %s: %v", entryID, err)
	}
}

// Lookup runs the non-streaming 8-step lookup algorithm: on a hit it
// returns immediately with provenance headers set; on a miss (or an
// x-cache-bypass request) it forwards to upstream and triggers
// write-through.
func (e *Engine) Lookup(ctx context.Context, tenant string, rawBody []byte, ov Overrides) (*Outcome, error) {
	p, err := e.prepare(ctx, rawBody, ov)
	if err != nil {
		return nil, err
	}

	if !ov.CacheBypass {
		outcome, err := e.tryLookup(ctx, tenant, p, ov)
		if err != nil {
			return nil, err
		}
		if outcome != nil {
			return outcome, nil
		}
	}

	metrics.RecordCacheMiss()
	e.missCount.Add(1)
	logging.CacheMiss(map[string]interface{}{"tenant": tenant, "model": p.req.Model})

	forwardCtx, forwardSpan := tracing.StartSpan(ctx, tracing.SpanUpstreamForward)
	tracing.SetSpanAttributes(forwardSpan, attribute.String(tracing.AttrModelName, p.req.Model))
	provider := e.providers.For(p.req.Model)
	resp, err := breaker.ExecuteContext(forwardCtx, e.breakers.Get(consts.DependencyUpstream), func(ctx context.Context) (*upstream.Response, error) {
		return provider.Forward(ctx, p.req, rawBody)
	})
	if err != nil {
		tracing.RecordError(forwardSpan, err)
		forwardSpan.End()
		return nil, err
	}
	forwardSpan.End()

	e.writeThrough(tenant, p, resp, ov)

	return &Outcome{
		Hit:            false,
		Degraded:       p.degradation.Mode != consts.DegradationNone,
		DegradedReason: degradedReason(p.degradation.Mode),
		Response:       resp,
	}, nil
}
