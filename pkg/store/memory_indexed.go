package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vllm-project/semantic-cache-proxy/pkg/fingerprint"
)

// MemoryIndexedStore is an in-process IndexedStore backed by a per-tenant
// slice, with linear-scan candidate fetch. It is the default backend for
// local development and tests; production deployments should prefer
// PostgresIndexedStore.
type MemoryIndexedStore struct {
	mu       sync.RWMutex
	byTenant map[string][]*Entry
}

// NewMemoryIndexedStore builds an empty MemoryIndexedStore.
func NewMemoryIndexedStore() *MemoryIndexedStore {
	return &MemoryIndexedStore{byTenant: make(map[string][]*Entry)}
}

func (m *MemoryIndexedStore) Insert(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.byTenant[entry.Tenant] {
		if e.ExactKey == entry.ExactKey {
			return nil // best-effort: duplicate exact key is ignored
		}
	}
	cp := *entry
	m.byTenant[entry.Tenant] = append(m.byTenant[entry.Tenant], &cp)
	return nil
}

func (m *MemoryIndexedStore) CandidateFetch(ctx context.Context, q CandidateQuery) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	type scored struct {
		entry    *Entry
		hamming  int
		hitCount int64
	}
	var candidates []scored
	for _, e := range m.byTenant[q.Tenant] {
		if e.Expired(now) {
			continue
		}
		if q.Mode != "" && e.Mode != q.Mode {
			continue
		}
		if q.Model != "" && e.Model != q.Model {
			continue
		}
		d := fingerprint.HammingDistance(e.SimHash, q.SimHash)
		if d > q.MaxHamming {
			continue
		}
		candidates = append(candidates, scored{entry: e, hamming: d, hitCount: e.HitCount})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].hamming != candidates[j].hamming {
			return candidates[i].hamming < candidates[j].hamming
		}
		return candidates[i].hitCount > candidates[j].hitCount
	})

	limit := q.Limit
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	out := make([]*Entry, 0, limit)
	for i := 0; i < limit; i++ {
		cp := *candidates[i].entry
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryIndexedStore) UpdateHitStats(ctx context.Context, tenant, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.byTenant[tenant] {
		if e.ID == id {
			e.HitCount++
			e.LastHitAt = time.Now()
			return nil
		}
	}
	return nil
}

func (m *MemoryIndexedStore) PromoteToGolden(ctx context.Context, tenant, exactKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.byTenant[tenant] {
		if e.ExactKey == exactKey {
			e.IsGolden = true
			e.ExpiresAt = nil
			return nil
		}
	}
	return nil
}

func (m *MemoryIndexedStore) Delete(ctx context.Context, tenant, exactKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.byTenant[tenant]
	for i, e := range list {
		if e.ExactKey == exactKey {
			m.byTenant[tenant] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryIndexedStore) Clear(ctx context.Context, tenant string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byTenant, tenant)
	return nil
}

func (m *MemoryIndexedStore) Count(ctx context.Context, tenant string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	n := 0
	for _, e := range m.byTenant[tenant] {
		if !e.Expired(now) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryIndexedStore) Close() error {
	return nil
}
