package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/vllm-project/semantic-cache-proxy/pkg/canonical"
)

// Request cache modes, ordered by mode-detection priority (highest first).
const (
	ModeJSONSchema = "JSON_SCHEMA"
	ModeJSONObject = "JSON_OBJECT"
	ModeTools      = "TOOLS"
	ModeFunction   = "FUNCTION"
	ModeText       = "TEXT"
)

// Temperature buckets, in ascending order.
const (
	BucketZero     = "zero"
	BucketLow      = "low"
	BucketMedium   = "medium"
	BucketHigh     = "high"
	BucketDefault  = "default"
	BucketVeryHigh = "very_high"
)

// NoToolSchema is the sentinel tool-schema hash for requests carrying no
// tools or legacy functions.
const NoToolSchema = "none"

// Fingerprint is the derived, never-persisted-alone identity of a request
// used to drive cache lookup.
type Fingerprint struct {
	SimHash           uint64
	Embedding         []float32
	ToolSchemaHash    string
	Mode              string
	TemperatureBucket string
	ModelFamily       string
	TopP              *float64
}

// Compute derives the full fingerprint for req, given its canonicalization
// result and an embedder. The embedding is always computed over the raw
// prompt text, never the masked template.
func Compute(ctx context.Context, req *canonical.Request, canon *canonical.Result, embedder Embedder) (*Fingerprint, error) {
	toolHash, err := ToolSchemaHash(req.Tools, req.Functions)
	if err != nil {
		return nil, fmt.Errorf("failed to hash tool schema: %w", err)
	}

	var embedding []float32
	if embedder != nil {
		vec, err := embedder.Embed(ctx, canon.PromptText)
		if err != nil {
			return nil, fmt.Errorf("embedder failed: %w", err)
		}
		embedding = Normalize(vec)
	}

	return &Fingerprint{
		SimHash:           SimHash(canon.MaskedPrompt),
		Embedding:         embedding,
		ToolSchemaHash:    toolHash,
		Mode:              DetectMode(req),
		TemperatureBucket: TemperatureBucket(req.Temperature),
		ModelFamily:       ModelFamily(req.Model),
		TopP:              req.TopP,
	}, nil
}

// DetectMode classifies a request by priority: JSON_SCHEMA > JSON_OBJECT >
// TOOLS > FUNCTION > TEXT.
func DetectMode(req *canonical.Request) string {
	if req.ResponseFormat != nil {
		switch req.ResponseFormat.Type {
		case "json_schema":
			if req.ResponseFormat.JSONSchema != nil {
				return ModeJSONSchema
			}
		case "json_object":
			return ModeJSONObject
		}
	}
	if len(req.Tools) > 0 {
		return ModeTools
	}
	if len(req.Functions) > 0 {
		return ModeFunction
	}
	return ModeText
}

// ToolSchemaHash serializes tools (or, absent tools, legacy functions) to
// canonical JSON sorted by name and hashes the result with SHA-256. Absent
// tools and functions hash to the sentinel "none".
func ToolSchemaHash(tools []canonical.Tool, functions []canonical.FunctionDef) (string, error) {
	type named struct {
		name string
		json string
	}

	var items []named
	switch {
	case len(tools) > 0:
		for _, t := range tools {
			b, err := canonical.CanonicalizeValue(t.Function)
			if err != nil {
				return "", err
			}
			items = append(items, named{t.Function.Name, string(b)})
		}
	case len(functions) > 0:
		for _, f := range functions {
			b, err := canonical.CanonicalizeValue(f)
			if err != nil {
				return "", err
			}
			items = append(items, named{f.Name, string(b)})
		}
	default:
		return NoToolSchema, nil
	}

	sort.Slice(items, func(i, j int) bool { return items[i].name < items[j].name })

	var buf strings.Builder
	for _, it := range items {
		buf.WriteString(it.json)
	}
	sum := sha256.Sum256([]byte(buf.String()))
	return hex.EncodeToString(sum[:]), nil
}

// TemperatureBucket classifies a request temperature. A nil temperature is
// treated as the OpenAI default of 1.0.
func TemperatureBucket(temperature *float64) string {
	t := 1.0
	if temperature != nil {
		t = *temperature
	}
	switch {
	case t < 0.01:
		return BucketZero
	case t < 0.3:
		return BucketLow
	case t < 0.7:
		return BucketMedium
	case t < 0.9:
		return BucketHigh
	case math.Abs(t-1.0) < 0.01:
		return BucketDefault
	default:
		return BucketVeryHigh
	}
}

// temperatureBucketOrder gives the adjacency ordering used by the scorer's
// temperature_closeness rule.
var temperatureBucketOrder = []string{BucketZero, BucketLow, BucketMedium, BucketHigh, BucketDefault, BucketVeryHigh}

// BucketDistance returns the index distance between two temperature
// buckets in their natural ordering, or -1 if either is unrecognized.
func BucketDistance(a, b string) int {
	ia, ib := -1, -1
	for i, name := range temperatureBucketOrder {
		if name == a {
			ia = i
		}
		if name == b {
			ib = i
		}
	}
	if ia == -1 || ib == -1 {
		return -1
	}
	d := ia - ib
	if d < 0 {
		d = -d
	}
	return d
}

var (
	trailingDateSuffix    = regexp.MustCompile(`-\d{4}(-\d{2}(-\d{2})?)?$`)
	trailingVersionSuffix = regexp.MustCompile(`-v\d+(\.\d+)*$`)
)

// ModelFamily strips a trailing date suffix (-YYYY, -YYYY-MM, -YYYY-MM-DD)
// and a trailing "v"-prefixed version suffix (-v2, -v1.5) from a model
// name. A bare trailing number, such as the "-4" in "gpt-4", is kept as
// part of the family name.
func ModelFamily(model string) string {
	m := trailingDateSuffix.ReplaceAllString(model, "")
	m = trailingVersionSuffix.ReplaceAllString(m, "")
	return m
}
