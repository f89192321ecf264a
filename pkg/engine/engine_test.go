package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vllm-project/semantic-cache-proxy/pkg/breaker"
	"github.com/vllm-project/semantic-cache-proxy/pkg/canonical"
	"github.com/vllm-project/semantic-cache-proxy/pkg/config"
	"github.com/vllm-project/semantic-cache-proxy/pkg/replay"
	"github.com/vllm-project/semantic-cache-proxy/pkg/store"
	"github.com/vllm-project/semantic-cache-proxy/pkg/upstream"
)

// fakeProvider answers every Forward call with a canned response keyed by
// the request's prompt, so tests can assert on exactly what the engine
// wrote through without a real upstream.
type fakeProvider struct {
	calls     int
	responses map[string]string
	fallback  string
}

func (f *fakeProvider) Forward(ctx context.Context, req *canonical.Request, rawBody []byte) (*upstream.Response, error) {
	f.calls++
	content := f.fallback
	if req != nil && len(req.Messages) > 0 {
		if r, ok := f.responses[req.Messages[len(req.Messages)-1].Content]; ok {
			content = r
		}
	}
	return &upstream.Response{ID: fmt.Sprintf("chatcmpl-%d", f.calls), Model: req.Model, Content: content, Role: "assistant", FinishReason: "stop", CreatedUnix: 1700000000}, nil
}

func (f *fakeProvider) ForwardStream(ctx context.Context, req *canonical.Request, rawBody []byte, emit func(replay.Chunk) error) (*upstream.Response, error) {
	resp, err := f.Forward(ctx, req, rawBody)
	if err != nil {
		return nil, err
	}
	first := true
	for _, w := range splitWords(resp.Content) {
		delta := replay.Delta{Content: w}
		if first {
			delta.Role = resp.Role
			first = false
		}
		c := replay.Chunk{ID: resp.ID, Model: resp.Model, Choices: []replay.ChunkChoice{{Index: 0, Delta: delta}}}
		if err := emit(c); err != nil {
			return nil, err
		}
	}
	finish := resp.FinishReason
	if err := emit(replay.Chunk{ID: resp.ID, Model: resp.Model, Choices: []replay.ChunkChoice{{Index: 0, FinishReason: &finish}}}); err != nil {
		return nil, err
	}
	return resp, nil
}

func splitWords(s string) []string {
	var out []string
	word := ""
	for _, r := range s {
		if r == ' ' {
			if word != "" {
				out = append(out, word+" ")
				word = ""
			}
			continue
		}
		word += string(r)
	}
	if word != "" {
		out = append(out, word)
	}
	return out
}

// fakeEmbedder returns the vector a test registered for the exact prompt
// text (or {1, 0, 0} for unregistered text), so template-hit tests control
// how close two prompts are without a real embedding model.
type fakeEmbedder struct {
	vectors map[string][]float32
	dim     int
	ready   bool
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: make(map[string][]float32), dim: 3, ready: true}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return append([]float32{}, v...), nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) Dim() int    { return f.dim }
func (f *fakeEmbedder) Ready() bool { return f.ready }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Cache.TTLSecondsByModelFamily = map[string]int{"*": 3600}
	return cfg
}

type testHarness struct {
	engine   *Engine
	provider *fakeProvider
	embedder *fakeEmbedder
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	cfg := testConfig()
	provider := &fakeProvider{responses: map[string]string{}}
	embedder := newFakeEmbedder()
	registry := upstream.NewRegistry(provider)

	e := New(Options{
		Config:    cfg,
		Hot:       store.NewMemoryHotStore(0, nil),
		Indexed:   store.NewMemoryIndexedStore(),
		Embedder:  embedder,
		Providers: registry,
		Breakers:  breaker.NewManager(*cfg),
		Sleeper:   noopSleeper{},
	})
	return &testHarness{engine: e, provider: provider, embedder: embedder}
}

type noopSleeper struct{}

func (noopSleeper) Sleep(ctx context.Context, d time.Duration) error { return nil }

func chatBody(model, prompt string) []byte {
	b, _ := json.Marshal(map[string]any{
		"model":    model,
		"messages": []map[string]string{{"role": "user", "content": prompt}},
	})
	return b
}

// S1 — exact replay: the same request twice must miss then hit with
// score 1.000 and match "exact".
func TestLookupExactReplay(t *testing.T) {
	h := newHarness(t)
	h.provider.responses["What is 2+2?"] = "4"
	body := chatBody("gpt-4", "What is 2+2?")

	first, err := h.engine.Lookup(context.Background(), "tenant-a", body, DefaultOverrides())
	require.NoError(t, err)
	assert.False(t, first.Hit)

	waitForAsync()

	second, err := h.engine.Lookup(context.Background(), "tenant-a", body, DefaultOverrides())
	require.NoError(t, err)
	require.True(t, second.Hit)
	assert.Equal(t, "exact", second.Match)
	assert.Equal(t, 1.0, second.Score)
}

// S2 — URL variance: two prompts that mask to the identical template
// ("user: Summarize {URL}", since the URL masking pattern swallows the
// whole URL) but whose fake embeddings are orthogonal must not
// template-hit: the structural term is 1.0 (same simhash) but the
// semantic term collapses to 0.5, pulling the composite below threshold.
func TestLookupURLVarianceMisses(t *testing.T) {
	h := newHarness(t)
	h.embedder.vectors["user: Summarize https://example.com/article-123"] = []float32{1, 0, 0}
	h.embedder.vectors["user: Summarize https://example.com/article-456"] = []float32{0, 1, 0}

	bodyA := chatBody("gpt-4", "Summarize https://example.com/article-123")
	bodyB := chatBody("gpt-4", "Summarize https://example.com/article-456")

	_, err := h.engine.Lookup(context.Background(), "tenant-a", bodyA, DefaultOverrides())
	require.NoError(t, err)
	waitForAsync()

	second, err := h.engine.Lookup(context.Background(), "tenant-a", bodyB, DefaultOverrides())
	require.NoError(t, err)
	assert.False(t, second.Hit)
}

// S3 — paraphrase hit: two differently-worded prompts that mask to the
// identical template ("user: Order {NUM} status", since a 5-digit order
// number masks to {NUM} regardless of its value) and whose embeddings are
// near-collinear must template-hit: structural is exactly 1.0 (identical
// simhash) and semantic is close to 1.0, well above the default threshold.
func TestLookupParaphraseTemplateHit(t *testing.T) {
	h := newHarness(t)
	h.provider.responses["Order 12345 status"] = "Shipped"
	h.embedder.vectors["user: Order 12345 status"] = []float32{1, 0, 0}
	h.embedder.vectors["user: Order 98765 status"] = []float32{0.99, 0.1, 0}

	bodyA := chatBody("gpt-4", "Order 12345 status")
	_, err := h.engine.Lookup(context.Background(), "tenant-a", bodyA, DefaultOverrides())
	require.NoError(t, err)
	waitForAsync()

	bodyB := chatBody("gpt-4", "Order 98765 status")
	second, err := h.engine.Lookup(context.Background(), "tenant-a", bodyB, DefaultOverrides())
	require.NoError(t, err)
	require.True(t, second.Hit, "expected a template hit for a near-identical masked prompt")
	assert.Equal(t, "template", second.Match)
	assert.GreaterOrEqual(t, second.Score, h.engine.config().Cache.AdmissionThreshold)
}

// S4 — mode guard: caching a TEXT request then issuing an identical
// JSON_OBJECT request must miss.
func TestLookupModeGuardMisses(t *testing.T) {
	h := newHarness(t)
	prompt := "Return the user list"
	h.provider.responses[prompt] = "[]"

	textBody := chatBody("gpt-4", prompt)
	_, err := h.engine.Lookup(context.Background(), "tenant-a", textBody, DefaultOverrides())
	require.NoError(t, err)
	waitForAsync()

	jsonBody, _ := json.Marshal(map[string]any{
		"model":          "gpt-4",
		"messages":       []map[string]string{{"role": "user", "content": prompt}},
		"response_format": map[string]string{"type": "json_object"},
	})
	second, err := h.engine.Lookup(context.Background(), "tenant-a", jsonBody, DefaultOverrides())
	require.NoError(t, err)
	assert.False(t, second.Hit)
}

// x-cache-bypass must force a miss even against an exact-key match.
func TestLookupCacheBypassForcesMiss(t *testing.T) {
	h := newHarness(t)
	body := chatBody("gpt-4", "hello")
	_, err := h.engine.Lookup(context.Background(), "tenant-a", body, DefaultOverrides())
	require.NoError(t, err)
	waitForAsync()

	ov := DefaultOverrides()
	ov.CacheBypass = true
	second, err := h.engine.Lookup(context.Background(), "tenant-a", body, ov)
	require.NoError(t, err)
	assert.False(t, second.Hit)
	assert.Equal(t, 2, h.provider.calls)
}

// x-cache-store=false must skip write-through on that response, so a
// later identical request still misses.
func TestLookupCacheStoreFalseSkipsWriteThrough(t *testing.T) {
	h := newHarness(t)
	body := chatBody("gpt-4", "hello")

	ov := DefaultOverrides()
	ov.CacheStore = false
	_, err := h.engine.Lookup(context.Background(), "tenant-a", body, ov)
	require.NoError(t, err)
	waitForAsync()

	second, err := h.engine.Lookup(context.Background(), "tenant-a", body, DefaultOverrides())
	require.NoError(t, err)
	assert.False(t, second.Hit)
}

// TTL enforcement: an expired entry must never be served even though it
// is still indexed.
func TestLookupExpiredEntryNotServed(t *testing.T) {
	h := newHarness(t)
	h.engine.now = func() time.Time { return time.Unix(1000, 0) }
	body := chatBody("gpt-4", "hello")

	_, err := h.engine.Lookup(context.Background(), "tenant-a", body, DefaultOverrides())
	require.NoError(t, err)
	waitForAsync()

	h.engine.now = func() time.Time { return time.Unix(1000, 0).Add(2 * time.Hour) }
	second, err := h.engine.Lookup(context.Background(), "tenant-a", body, DefaultOverrides())
	require.NoError(t, err)
	assert.False(t, second.Hit)
}

func TestStatsReflectsHitsAndMisses(t *testing.T) {
	h := newHarness(t)
	body := chatBody("gpt-4", "hello")

	_, err := h.engine.Lookup(context.Background(), "tenant-a", body, DefaultOverrides())
	require.NoError(t, err)
	waitForAsync()
	_, err = h.engine.Lookup(context.Background(), "tenant-a", body, DefaultOverrides())
	require.NoError(t, err)

	stats, err := h.engine.Stats(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.HitCount)
	assert.Equal(t, int64(1), stats.MissCount)
	assert.Equal(t, 1, stats.TotalEntries)
	assert.InDelta(t, 0.5, stats.HitRatio, 1e-9)
}

func TestClearRemovesEntries(t *testing.T) {
	h := newHarness(t)
	body := chatBody("gpt-4", "hello")
	_, err := h.engine.Lookup(context.Background(), "tenant-a", body, DefaultOverrides())
	require.NoError(t, err)
	waitForAsync()

	require.NoError(t, h.engine.Clear(context.Background(), "tenant-a"))

	second, err := h.engine.Lookup(context.Background(), "tenant-a", body, DefaultOverrides())
	require.NoError(t, err)
	assert.False(t, second.Hit)
}

func TestPromoteToGoldenExemptsFromTTL(t *testing.T) {
	h := newHarness(t)
	h.engine.now = func() time.Time { return time.Unix(1000, 0) }
	body := chatBody("gpt-4", "hello")
	_, err := h.engine.Lookup(context.Background(), "tenant-a", body, DefaultOverrides())
	require.NoError(t, err)
	waitForAsync()

	canon, err := canonical.Canonicalize(body, nil)
	require.NoError(t, err)
	require.NoError(t, h.engine.PromoteToGolden(context.Background(), "tenant-a", canon.ExactKey))

	h.engine.now = func() time.Time { return time.Unix(1000, 0).Add(2 * time.Hour) }
	second, err := h.engine.Lookup(context.Background(), "tenant-a", body, DefaultOverrides())
	require.NoError(t, err)
	assert.True(t, second.Hit, "a golden entry must still be served after its TTL has passed")
}

// TestReloadConfigTakesEffectForSubsequentLookups exercises the atomic
// config swap a pkg/config.Watch reload would trigger in production.
func TestReloadConfigTakesEffectForSubsequentLookups(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 0.87, h.engine.config().Cache.AdmissionThreshold)

	stricter := testConfig()
	stricter.Cache.AdmissionThreshold = 0.99
	h.engine.ReloadConfig(stricter)

	assert.Equal(t, 0.99, h.engine.config().Cache.AdmissionThreshold)
}

// waitForAsync gives the fire-and-forget write-through goroutine a chance
// to run before the test asserts on its effect. The in-memory stores used
// in these tests complete synchronously once scheduled, so a short sleep
// (about 100ms in total) is sufficient.
func waitForAsync() {
	for i := 0; i < 100; i++ {
		time.Sleep(time.Millisecond)
	}
}
