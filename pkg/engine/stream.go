package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vllm-project/semantic-cache-proxy/pkg/breaker"
	"github.com/vllm-project/semantic-cache-proxy/pkg/consts"
	"github.com/vllm-project/semantic-cache-proxy/pkg/observability/logging"
	"github.com/vllm-project/semantic-cache-proxy/pkg/observability/metrics"
	"github.com/vllm-project/semantic-cache-proxy/pkg/observability/tracing"
	"github.com/vllm-project/semantic-cache-proxy/pkg/replay"
	"github.com/vllm-project/semantic-cache-proxy/pkg/upstream"
)

// LookupStream runs the streaming counterpart of Lookup per spec §4.5. On a
// hit, it deterministically replays the cached response as a sequence of
// SSE chunks via emit, seeded from the serving entry's exact key so repeat
// replays of the same entry have identical chunk boundaries, content and
// delays; only each chunk's created timestamp, taken from the engine clock
// at replay time, can differ. On a miss, it forwards the
// live upstream stream through emit, reassembling it for write-through; a
// stream that never reaches its terminal marker (client disconnect,
// upstream error, or ctx cancellation) is never written through.
func (e *Engine) LookupStream(ctx context.Context, tenant string, rawBody []byte, ov Overrides, emit func(replay.Chunk) error) (*Outcome, error) {
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
			if err := e.replayHit(ctx, outcome, p, emit); err != nil {
				return nil, err
			}
			return outcome, nil
		}
	}

	metrics.RecordCacheMiss()
	e.missCount.Add(1)
	logging.CacheMiss(map[string]interface{}{"tenant": tenant, "model": p.req.Model, "stream": true})
	return e.streamMiss(ctx, tenant, p, rawBody, ov, emit)
}

// replayHit deterministically re-emits outcome's cached content, seeded
// from its serving entry's exact key per spec §4.5 step 1.
func (e *Engine) replayHit(ctx context.Context, outcome *Outcome, p *prepared, emit func(replay.Chunk) error) error {
	ctx, span := tracing.StartSpan(ctx, tracing.SpanStreamReplay)
	defer span.End()
	tracing.SetSpanAttributes(span, attribute.String(tracing.AttrCacheKey, outcome.entry.ExactKey), attribute.String(tracing.AttrCacheMatch, outcome.Match))

	entry := outcome.entry
	params := replay.Params{
		CacheKey:     entry.ExactKey,
		Content:      string(entry.ResponseBlob),
		ID:           entry.ID,
		Model:        p.req.Model,
		CreatedUnix:  e.now().Unix(),
		FinishReason: "stop",
		Hit:          true,
	}
	return replay.Replay(ctx, params, func(c replay.Chunk) error {
		metrics.RecordReplayChunk()
		return emit(c)
	}, e.sleeper)
}

// streamMiss forwards the live upstream stream through emit, reassembling
// it for write-through per spec §4.5's miss-passthrough paragraph.
// Cancellation or an incomplete reassembly (no terminal marker observed)
// skips write-through entirely.
func (e *Engine) streamMiss(ctx context.Context, tenant string, p *prepared, rawBody []byte, ov Overrides, emit func(replay.Chunk) error) (*Outcome, error) {
	var buf replay.ReassemblyBuffer

	forwardCtx, forwardSpan := tracing.StartSpan(ctx, tracing.SpanUpstreamForward)
	tracing.SetSpanAttributes(forwardSpan, attribute.String(tracing.AttrModelName, p.req.Model))
	provider := e.providers.For(p.req.Model)
	resp, err := breaker.ExecuteContext(forwardCtx, e.breakers.Get(consts.DependencyUpstream), func(ctx context.Context) (*upstream.Response, error) {
		return provider.ForwardStream(ctx, p.req, rawBody, func(c replay.Chunk) error {
			for _, choice := range c.Choices {
				buf.Append(choice.Delta)
				if choice.FinishReason != nil {
					buf.MarkComplete()
				}
			}
			return emit(c)
		})
	})
	if err != nil {
		tracing.RecordError(forwardSpan, err)
		forwardSpan.End()
		return nil, err
	}
	forwardSpan.End()

	if buf.Complete() && ctx.Err() == nil {
		reassembled := &upstream.Response{
			ID:           resp.ID,
			Model:        resp.Model,
			Content:      buf.Content(),
			Role:         buf.Role(),
			FinishReason: resp.FinishReason,
			CreatedUnix:  resp.CreatedUnix,
		}
		e.writeThrough(tenant, p, reassembled, ov)
	}

	return &Outcome{
		Hit:            false,
		Degraded:       p.degradation.Mode != consts.DegradationNone,
		DegradedReason: degradedReason(p.degradation.Mode),
		Response:       resp,
	}, nil
}
