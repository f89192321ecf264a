package engine

import (
	"context"
	"time"

	"github.com/vllm-project/semantic-cache-proxy/pkg/breaker"
	"github.com/vllm-project/semantic-cache-proxy/pkg/consts"
	"github.com/vllm-project/semantic-cache-proxy/pkg/observability/metrics"
)

// Stats is the payload served by GET /v1/cache/stats, adopted from the
// teacher's CacheBackend.GetStats shape (SPEC_FULL §C.3): a snapshot of
// entry count and hit/miss counters rather than the per-dependency health
// reported by GET /health.
type Stats struct {
	TotalEntries    int        `json:"total_entries"`
	HitCount        int64      `json:"hit_count"`
	MissCount       int64      `json:"miss_count"`
	HitRatio        float64    `json:"hit_ratio"`
	LastCleanupTime *time.Time `json:"last_cleanup_time,omitempty"`
}

// Stats reports the current cache statistics for tenant. TotalEntries is
// read from the indexed tier, the system of record for cache entries; the
// hot tier is a derived view of the same writes.
func (e *Engine) Stats(ctx context.Context, tenant string) (Stats, error) {
	hits := e.hitCount.Load()
	misses := e.missCount.Load()

	total, err := breaker.ExecuteContext(ctx, e.breakers.Get(consts.DependencyIndexedStore), func(ctx context.Context) (int, error) {
		return e.indexed.Count(ctx, tenant)
	})
	if err != nil {
		return Stats{}, err
	}

	ratio := 0.0
	if hits+misses > 0 {
		ratio = float64(hits) / float64(hits+misses)
	}

	return Stats{
		TotalEntries: total,
		HitCount:     hits,
		MissCount:    misses,
		HitRatio:     ratio,
	}, nil
}

// Clear removes every cache entry for tenant from both tiers, per
// POST /v1/cache/clear. It does not reset the hit/miss counters, which are
// process lifetime statistics rather than per-tenant state.
func (e *Engine) Clear(ctx context.Context, tenant string) error {
	if err := e.hot.Clear(ctx, tenant); err != nil {
		return err
	}
	if err := e.indexed.Clear(ctx, tenant); err != nil {
		return err
	}
	metrics.UpdateCacheEntries(consts.DependencyHotStore, 0)
	metrics.UpdateCacheEntries(consts.DependencyIndexedStore, 0)
	return nil
}

// PromoteToGolden pins the entry identified by (tenant, exactKey) so it is
// exempt from TTL eviction per spec §3 invariant 3 (is_golden entries carry
// a nil expires_at). This is the operation the base spec's is_golden field
// implies but never defines (SPEC_FULL §C.1).
func (e *Engine) PromoteToGolden(ctx context.Context, tenant, exactKey string) error {
	_, err := breaker.ExecuteContext(ctx, e.breakers.Get(consts.DependencyIndexedStore), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.indexed.PromoteToGolden(ctx, tenant, exactKey)
	})
	return err
}
