// Package config loads and validates the caching proxy's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level configuration for the cache proxy.
type Config struct {
	// Server configuration for the HTTP listener.
	Server struct {
		ListenAddr      string `yaml:"listen_addr"`
		MetricsAddr     string `yaml:"metrics_addr"`
		ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
		WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	} `yaml:"server"`

	// Cache tunes the scoring, admission, and fingerprinting behavior shared
	// across tenants.
	Cache struct {
		// Composite admission threshold τ (0.0-1.0).
		AdmissionThreshold float64 `yaml:"admission_threshold"`

		// Weights of the composite score. Must sum to 1.0.
		Weights struct {
			Semantic   float64 `yaml:"semantic"`
			Structural float64 `yaml:"structural"`
			Param      float64 `yaml:"param"`
			Recency    float64 `yaml:"recency"`
		} `yaml:"weights"`

		// Maximum Hamming distance between SimHash fingerprints for two
		// requests to be considered candidates.
		SimhashMaxDistance int `yaml:"simhash_max_distance"`

		// Maximum number of candidates fetched from the indexed tier per lookup.
		CandidateLimit int `yaml:"candidate_limit"`

		// Default cache-entry TTL by model family; "*" is the fallback.
		TTLSecondsByModelFamily map[string]int `yaml:"ttl_seconds_by_model_family"`

		// Model compatibility policy for template hits: strict, family, or any.
		ModelCompatPolicy string `yaml:"model_compat_policy"`

		// Eviction policy for the hot tier under memory pressure.
		EvictionPolicy string `yaml:"eviction_policy,omitempty"`

		// MaxHotEntries bounds the in-memory hot tier when it is backed by
		// the in-process store rather than Redis.
		MaxHotEntries int `yaml:"max_hot_entries,omitempty"`
	} `yaml:"cache"`

	// HotStore configures the exact-key hot tier.
	HotStore struct {
		Backend string      `yaml:"backend"` // "memory" or "redis"
		Redis   RedisConfig `yaml:"redis,omitempty"`
	} `yaml:"hot_store"`

	// IndexedStore configures the template/semantic tier.
	IndexedStore struct {
		Backend  string         `yaml:"backend"` // "memory" or "postgres"
		Postgres PostgresConfig `yaml:"postgres,omitempty"`
	} `yaml:"indexed_store"`

	// Resilience configures per-dependency circuit breakers.
	Resilience struct {
		Hot      BreakerConfig `yaml:"hot"`
		Indexed  BreakerConfig `yaml:"indexed"`
		Embedder BreakerConfig `yaml:"embedder"`
		Upstream BreakerConfig `yaml:"upstream"`
	} `yaml:"resilience"`

	// Embedder configures the external embedding collaborator.
	Embedder struct {
		Enabled     bool   `yaml:"enabled"`
		Endpoint    string `yaml:"endpoint,omitempty"`
		Dimensions  int    `yaml:"dimensions,omitempty"`
		TimeoutMs   int    `yaml:"timeout_ms,omitempty"`
	} `yaml:"embedder"`

	// Upstream configures the default OpenAI-compatible provider a cache
	// miss forwards to when no per-model route is registered.
	Upstream struct {
		BaseURL   string `yaml:"base_url"`
		APIKey    string `yaml:"api_key,omitempty"`
		TimeoutMs int    `yaml:"timeout_ms,omitempty"`
	} `yaml:"upstream"`

	// Masking configures prompt canonicalization for fingerprinting.
	// MaskCodeSpans is parsed but not read by canonical.MaskPrompt, which
	// always masks identifiers inside code spans.
	Masking struct {
		MaskCodeSpans bool `yaml:"mask_code_spans"`
	} `yaml:"masking"`

	// Logging configures the zap-backed structured logger.
	Logging struct {
		Level       string `yaml:"level"`
		Encoding    string `yaml:"encoding"`
		Development bool   `yaml:"development"`
		AddCaller   bool   `yaml:"add_caller"`
	} `yaml:"logging"`

	// Tracing configures the OpenTelemetry exporter.
	Tracing struct {
		Enabled          bool    `yaml:"enabled"`
		ExporterType     string  `yaml:"exporter_type,omitempty"`
		ExporterEndpoint string  `yaml:"exporter_endpoint,omitempty"`
		ExporterInsecure bool    `yaml:"exporter_insecure,omitempty"`
		SamplingType     string  `yaml:"sampling_type,omitempty"`
		SamplingRate     float64 `yaml:"sampling_rate,omitempty"`
	} `yaml:"tracing"`
}

// RedisConfig holds connection parameters for the Redis-backed hot tier.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	PoolSize int    `yaml:"pool_size,omitempty"`
}

// PostgresConfig holds connection parameters for the Postgres-backed indexed tier.
type PostgresConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int    `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_sec,omitempty"`
}

// BreakerConfig holds the circuit breaker thresholds for one dependency.
type BreakerConfig struct {
	FailureRateThreshold float64 `yaml:"failure_rate_threshold"`
	SlowCallThreshold    float64 `yaml:"slow_call_threshold"`
	SlowCallDurationMs   int     `yaml:"slow_call_duration_ms"`
	MinSampledCalls      int     `yaml:"min_sampled_calls"`
	WaitIntervalSec      int     `yaml:"wait_interval_sec"`
	HalfOpenTrialCalls   int     `yaml:"half_open_trial_calls"`
}

var (
	current  *Config
	loadOnce sync.Once
	loadErr  error
	mu       sync.RWMutex
)

// Load reads and validates the YAML config at path, applying defaults for
// unset fields, and caches it globally for Get.
func Load(path string) (*Config, error) {
	loadOnce.Do(func() {
		cfg, err := Parse(path)
		if err != nil {
			loadErr = err
			return
		}
		mu.Lock()
		current = cfg
		mu.Unlock()
	})
	if loadErr != nil {
		return nil, loadErr
	}
	mu.RLock()
	defer mu.RUnlock()
	return current, nil
}

// Parse reads and validates the YAML config at path without touching the
// global cache. Useful for tests that need multiple independent configs.
func Parse(path string) (*Config, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = path
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Get returns the currently loaded configuration, or nil if Load has not
// been called.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Replace swaps the globally cached configuration returned by Get, for use
// by Watch after a successful reload. It does not affect an Engine's own
// configuration snapshot; callers that need the reload to take effect on a
// running Engine must also call Engine.ReloadConfig.
func Replace(cfg *Config) {
	mu.Lock()
	current = cfg
	mu.Unlock()
}

// Default returns a Config populated with the documented defaults, prior to
// any YAML override.
func Default() *Config {
	cfg := &Config{}

	cfg.Server.ListenAddr = ":8080"
	cfg.Server.MetricsAddr = ":9090"
	cfg.Server.ReadTimeoutSec = 30
	cfg.Server.WriteTimeoutSec = 60

	cfg.Cache.AdmissionThreshold = 0.87
	cfg.Cache.Weights.Semantic = 0.6
	cfg.Cache.Weights.Structural = 0.2
	cfg.Cache.Weights.Param = 0.1
	cfg.Cache.Weights.Recency = 0.1
	cfg.Cache.SimhashMaxDistance = 6
	cfg.Cache.CandidateLimit = 100
	cfg.Cache.ModelCompatPolicy = "family"
	cfg.Cache.EvictionPolicy = "lfu"
	cfg.Cache.MaxHotEntries = 100000
	cfg.Cache.TTLSecondsByModelFamily = map[string]int{"*": 3600}

	cfg.HotStore.Backend = "memory"
	cfg.IndexedStore.Backend = "memory"

	cfg.Resilience.Hot = BreakerConfig{FailureRateThreshold: 0.5, SlowCallThreshold: 0.5, SlowCallDurationMs: 2000, MinSampledCalls: 10, WaitIntervalSec: 10, HalfOpenTrialCalls: 5}
	cfg.Resilience.Indexed = BreakerConfig{FailureRateThreshold: 0.5, SlowCallThreshold: 0.5, SlowCallDurationMs: 2000, MinSampledCalls: 10, WaitIntervalSec: 30, HalfOpenTrialCalls: 5}
	cfg.Resilience.Embedder = BreakerConfig{FailureRateThreshold: 0.5, SlowCallThreshold: 0.5, SlowCallDurationMs: 2000, MinSampledCalls: 10, WaitIntervalSec: 30, HalfOpenTrialCalls: 5}
	cfg.Resilience.Upstream = BreakerConfig{FailureRateThreshold: 0.8, SlowCallThreshold: 0.5, SlowCallDurationMs: 2000, MinSampledCalls: 10, WaitIntervalSec: 60, HalfOpenTrialCalls: 5}

	cfg.Upstream.BaseURL = "https://api.openai.com"
	cfg.Upstream.TimeoutMs = 30000

	cfg.Masking.MaskCodeSpans = true

	cfg.Logging.Level = "info"
	cfg.Logging.Encoding = "json"
	cfg.Logging.AddCaller = true

	cfg.Tracing.ExporterType = "stdout"
	cfg.Tracing.SamplingType = "always_on"

	return cfg
}

func validate(cfg *Config) error {
	sum := cfg.Cache.Weights.Semantic + cfg.Cache.Weights.Structural + cfg.Cache.Weights.Param + cfg.Cache.Weights.Recency
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("cache.weights must sum to 1.0, got %.4f", sum)
	}
	if cfg.Cache.AdmissionThreshold <= 0 || cfg.Cache.AdmissionThreshold > 1 {
		return fmt.Errorf("cache.admission_threshold must be in (0,1], got %.4f", cfg.Cache.AdmissionThreshold)
	}
	if cfg.Cache.SimhashMaxDistance < 0 || cfg.Cache.SimhashMaxDistance > 64 {
		return fmt.Errorf("cache.simhash_max_distance must be in [0,64], got %d", cfg.Cache.SimhashMaxDistance)
	}
	switch cfg.Cache.ModelCompatPolicy {
	case "strict", "family", "any":
	default:
		return fmt.Errorf("cache.model_compat_policy must be strict, family, or any, got %q", cfg.Cache.ModelCompatPolicy)
	}
	switch cfg.HotStore.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("hot_store.backend must be memory or redis, got %q", cfg.HotStore.Backend)
	}
	switch cfg.IndexedStore.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("indexed_store.backend must be memory or postgres, got %q", cfg.IndexedStore.Backend)
	}
	return nil
}

// TTLForModelFamily returns the configured TTL for a model family, falling
// back to the "*" entry, and finally to one hour if neither is configured.
func (c *Config) TTLForModelFamily(family string) int {
	if ttl, ok := c.Cache.TTLSecondsByModelFamily[family]; ok {
		return ttl
	}
	if ttl, ok := c.Cache.TTLSecondsByModelFamily["*"]; ok {
		return ttl
	}
	return 3600
}
