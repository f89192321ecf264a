package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vllm-project/semantic-cache-proxy/pkg/breaker"
	"github.com/vllm-project/semantic-cache-proxy/pkg/consts"
	"github.com/vllm-project/semantic-cache-proxy/pkg/observability/logging"
	"github.com/vllm-project/semantic-cache-proxy/pkg/observability/metrics"
	"github.com/vllm-project/semantic-cache-proxy/pkg/observability/tracing"
	"github.com/vllm-project/semantic-cache-proxy/pkg/store"
	"github.com/vllm-project/semantic-cache-proxy/pkg/upstream"
)

// writeThrough implements step 8's write-through: it schedules the
// detached, best-effort insert into both tiers described by spec §4.3.1
// and returns immediately, so the client response is never delayed by a
// store round-trip. A false x-cache-store override skips the write
// entirely.
func (e *Engine) writeThrough(tenant string, p *prepared, resp *upstream.Response, ov Overrides) {
	if !ov.CacheStore {
		return
	}
	entry := e.buildEntry(tenant, p, resp)
	go e.asyncWriteThrough(entry)
}

// buildEntry assembles the cache entry for a fresh upstream response. The
// embedding and simhash are always taken from the already-computed
// fingerprint (raw-prompt embedding, masked-prompt simhash, per spec §3
// invariant 2); ResponseBlob holds the assistant content verbatim so the
// scorer's JSON_SCHEMA guardrail can validate it directly against a
// candidate request's schema without unwrapping an envelope.
func (e *Engine) buildEntry(tenant string, p *prepared, resp *upstream.Response) *store.Entry {
	now := e.now()
	entry := &store.Entry{
		ID:                uuid.NewString(),
		Tenant:            tenant,
		ExactKey:          p.canon.ExactKey,
		SimHash:           p.fp.SimHash,
		Embedding:         p.fp.Embedding,
		CanonicalPrompt:   p.canon.MaskedPrompt,
		RawPromptHMAC:     p.canon.RawHMAC,
		RequestBlob:       p.canon.CanonicalJSON,
		ResponseBlob:      []byte(resp.Content),
		Model:             resp.Model,
		ModelFamily:       p.fp.ModelFamily,
		TemperatureBucket: p.fp.TemperatureBucket,
		TopP:              p.fp.TopP,
		Mode:              p.fp.Mode,
		ToolSchemaHash:    p.fp.ToolSchemaHash,
		PIIPresent:        p.canon.PIIPresent,
		CreatedAt:         now,
	}
	if ttlSec := e.config().TTLForModelFamily(p.fp.ModelFamily); ttlSec > 0 {
		exp := now.Add(time.Duration(ttlSec) * time.Second)
		entry.ExpiresAt = &exp
	}
	return entry
}

// asyncWriteThrough runs the two tier inserts on a detached context so a
// client disconnect cannot cancel a write already in flight, per spec §5's
// "a cancelled miss stream must not produce a cache entry" (enforced by the
// caller never reaching this point on cancellation) versus "both inserts
// run asynchronously ... the client must not wait on them" (this function).
func (e *Engine) asyncWriteThrough(entry *store.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeThroughTimeout)
	defer cancel()

	ctx, span := tracing.StartSpan(ctx, tracing.SpanCacheWriteThrough)
	defer span.End()
	tracing.SetSpanAttributes(span, attribute.String(tracing.AttrTenant, entry.Tenant), attribute.String(tracing.AttrCacheKey, entry.ExactKey))

	start := e.now()
	_, err := breaker.ExecuteContext(ctx, e.breakers.Get(consts.DependencyIndexedStore), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.indexed.Insert(ctx, entry)
	})
	status := "ok"
	if err != nil {
		status = "error"
		logging.Warnf("indexed tier write-through failed for entry %s: %v", entry.ID, err)
		tracing.RecordError(span, err)
	}
	metrics.RecordCacheOperation(consts.DependencyIndexedStore, "insert", status, e.now().Sub(start).Seconds())
	logging.CacheWriteThrough(map[string]interface{}{
		"tier":     consts.DependencyIndexedStore,
		"entry_id": entry.ID,
		"tenant":   entry.Tenant,
		"status":   status,
	})

	ttl := time.Duration(0)
	if entry.ExpiresAt != nil {
		ttl = entry.ExpiresAt.Sub(entry.CreatedAt)
	}
	start = e.now()
	_, err = breaker.ExecuteContext(ctx, e.breakers.Get(consts.DependencyHotStore), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.hot.Set(ctx, entry, ttl)
	})
	status = "ok"
	if err != nil {
		status = "error"
		logging.Warnf("hot tier write-through failed for entry %s: %v", entry.ID, err)
		tracing.RecordError(span, err)
	}
	metrics.RecordCacheOperation(consts.DependencyHotStore, "set", status, e.now().Sub(start).Seconds())
	logging.CacheWriteThrough(map[string]interface{}{
		"tier":     consts.DependencyHotStore,
		"entry_id": entry.ID,
		"tenant":   entry.Tenant,
		"status":   status,
	})
}
