package store

import (
	"context"
	"time"
)

// HotStore is the exact-key hot tier: a key/value mapping of
// (tenant, exact_key) -> Entry, with per-model TTL and compressed values.
type HotStore interface {
	// Get returns the entry for (tenant, exactKey), or ok=false on a miss
	// or an expired entry.
	Get(ctx context.Context, tenant, exactKey string) (entry *Entry, ok bool, err error)
	// Set stores entry under (tenant, entry.ExactKey) with the given TTL.
	// A zero TTL means no expiration (golden entries).
	Set(ctx context.Context, entry *Entry, ttl time.Duration) error
	// Delete removes the entry for (tenant, exactKey), if present.
	Delete(ctx context.Context, tenant, exactKey string) error
	// Clear removes every entry for tenant.
	Clear(ctx context.Context, tenant string) error
	// Count returns the number of live entries for tenant.
	Count(ctx context.Context, tenant string) (int, error)
	// Close releases resources held by the store.
	Close() error
}

// CandidateQuery describes a template-tier candidate fetch.
type CandidateQuery struct {
	Tenant     string
	Mode       string
	Model      string // already resolved via the model compatibility policy's filter
	SimHash    uint64
	MaxHamming int
	Limit      int
}

// IndexedStore is the template tier: a persistent, queryable table of
// entries supporting SimHash-radius candidate fetch.
type IndexedStore interface {
	// Insert adds entry under a best-effort contract: a duplicate ExactKey
	// for the same tenant is ignored silently, not treated as an error.
	Insert(ctx context.Context, entry *Entry) error
	// CandidateFetch returns up to q.Limit non-expired entries within
	// Hamming distance q.MaxHamming of q.SimHash, ordered by Hamming
	// distance ascending then hit_count descending.
	CandidateFetch(ctx context.Context, q CandidateQuery) ([]*Entry, error)
	// UpdateHitStats increments hit_count and sets last_hit_at = now for
	// the given entry. Callers invoke this fire-and-forget; failures are
	// logged, not surfaced.
	UpdateHitStats(ctx context.Context, tenant, id string) error
	// PromoteToGolden marks the entry as golden, exempting it from TTL
	// eviction, and clears its expires_at.
	PromoteToGolden(ctx context.Context, tenant, exactKey string) error
	// Delete removes the entry with the given exact key for tenant.
	Delete(ctx context.Context, tenant, exactKey string) error
	// Clear removes every entry for tenant.
	Clear(ctx context.Context, tenant string) error
	// Count returns the number of live entries for tenant.
	Count(ctx context.Context, tenant string) (int, error)
	// Close releases resources held by the store.
	Close() error
}
