package engine

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/vllm-project/semantic-cache-proxy/pkg/breaker"
	"github.com/vllm-project/semantic-cache-proxy/pkg/canonical"
	"github.com/vllm-project/semantic-cache-proxy/pkg/config"
	"github.com/vllm-project/semantic-cache-proxy/pkg/consts"
	"github.com/vllm-project/semantic-cache-proxy/pkg/fingerprint"
	"github.com/vllm-project/semantic-cache-proxy/pkg/replay"
	"github.com/vllm-project/semantic-cache-proxy/pkg/store"
	"github.com/vllm-project/semantic-cache-proxy/pkg/upstream"
)

// writeThroughTimeout bounds the detached context used for asynchronous
// write-through, so a stalled store cannot leak goroutines indefinitely.
const writeThroughTimeout = 15 * time.Second

// Engine ties the canonicalizer, fingerprinter, two-tier store, scorer,
// breakers, and stream replayer together into the lookup and write-through
// algorithm. All of Engine's dependencies are injected external
// collaborators with their own lifecycle, per spec §9's "avoid ambient
// singletons" guidance.
type Engine struct {
	cfg        atomic.Pointer[config.Config]
	hot        store.HotStore
	indexed    store.IndexedStore
	embedder   fingerprint.Embedder // wrapped by the embedder breaker, may be nil
	providers  *upstream.Registry
	breakers   *breaker.Manager
	sleeper    replay.Sleeper
	hmacSecret []byte
	now        func() time.Time

	hitCount  atomic.Int64
	missCount atomic.Int64
}

// Options configures a new Engine. Store, breakers, and Providers are
// required; Embedder, Sleeper, HMACSecret, and Now have documented
// defaults.
type Options struct {
	Config     *config.Config
	Hot        store.HotStore
	Indexed    store.IndexedStore
	Embedder   fingerprint.Embedder
	Providers  *upstream.Registry
	Breakers   *breaker.Manager
	Sleeper    replay.Sleeper
	HMACSecret []byte
	Now        func() time.Time
}

// New builds an Engine from opts, wrapping the embedder (if any) in the
// embedder circuit breaker.
func New(opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = replay.RealSleeper{}
	}

	var embedder fingerprint.Embedder
	if opts.Embedder != nil {
		embedder = &breakerEmbedder{inner: opts.Embedder, b: opts.Breakers.Get(consts.DependencyEmbedder)}
	}

	e := &Engine{
		hot:        opts.Hot,
		indexed:    opts.Indexed,
		embedder:   embedder,
		providers:  opts.Providers,
		breakers:   opts.Breakers,
		sleeper:    sleeper,
		hmacSecret: opts.HMACSecret,
		now:        now,
	}
	e.cfg.Store(opts.Config)
	return e
}

// config returns the engine's current configuration. Reads are lock-free
// via atomic.Pointer, so ReloadConfig can swap the whole Config in place
// while lookups are in flight without either side blocking.
func (e *Engine) config() *config.Config {
	return e.cfg.Load()
}

// ReloadConfig atomically replaces the engine's configuration, for use by a
// config file watcher (pkg/config.Watch). It takes effect for the next
// lookup or write-through; in-flight calls keep using the config snapshot
// they already read.
func (e *Engine) ReloadConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

// Close releases the underlying stores.
func (e *Engine) Close() error {
	if err := e.hot.Close(); err != nil {
		return err
	}
	return e.indexed.Close()
}

// breakerEmbedder wraps a fingerprint.Embedder so every call is subject to
// the embedder dependency's circuit breaker, matching the treatment given
// to the hot and indexed tiers.
type breakerEmbedder struct {
	inner fingerprint.Embedder
	b     *breaker.Breaker
}

func (e *breakerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return breaker.ExecuteContext(ctx, e.b, func(ctx context.Context) ([]float32, error) {
		return e.inner.Embed(ctx, text)
	})
}

func (e *breakerEmbedder) Dim() int    { return e.inner.Dim() }
func (e *breakerEmbedder) Ready() bool { return e.inner.Ready() && e.b.Up() }

func degradedReason(mode string) string {
	if mode == consts.DegradationNone {
		return ""
	}
	return mode
}

func effectiveModelCompat(ov Overrides, cfg *config.Config) string {
	if ov.ModelCompat != "" {
		return ov.ModelCompat
	}
	return cfg.Cache.ModelCompatPolicy
}

func schemaFromRequest(req *canonical.Request) json.RawMessage {
	if req.ResponseFormat == nil || req.ResponseFormat.JSONSchema == nil {
		return nil
	}
	return req.ResponseFormat.JSONSchema.Schema
}
