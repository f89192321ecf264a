package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireEntry is the on-disk/on-wire shape of Entry for the hot tier, where
// values are stored compressed as opaque blobs.
type wireEntry struct {
	ID                string     `json:"id"`
	Tenant            string     `json:"tenant"`
	ExactKey          string     `json:"exact_key"`
	SimHash           uint64     `json:"simhash"`
	Embedding         []float32  `json:"embedding,omitempty"`
	CanonicalPrompt   string     `json:"canonical_prompt"`
	RawPromptHMAC     string     `json:"raw_prompt_hmac"`
	RequestBlob       []byte     `json:"request_blob"`
	ResponseBlob      []byte     `json:"response_blob"`
	Model             string     `json:"model"`
	ModelFamily       string     `json:"model_family"`
	TemperatureBucket string     `json:"temperature_bucket"`
	TopP              *float64   `json:"top_p,omitempty"`
	Mode              string     `json:"mode"`
	ToolSchemaHash    string     `json:"tool_schema_hash"`
	HitCount          int64      `json:"hit_count"`
	LastHitAt         time.Time  `json:"last_hit_at"`
	IsGolden          bool       `json:"is_golden"`
	PIIPresent        bool       `json:"pii_present"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
}

func toWire(e *Entry) wireEntry {
	return wireEntry{
		ID: e.ID, Tenant: e.Tenant, ExactKey: e.ExactKey, SimHash: e.SimHash,
		Embedding: e.Embedding, CanonicalPrompt: e.CanonicalPrompt, RawPromptHMAC: e.RawPromptHMAC,
		RequestBlob: e.RequestBlob, ResponseBlob: e.ResponseBlob, Model: e.Model,
		ModelFamily: e.ModelFamily, TemperatureBucket: e.TemperatureBucket, TopP: e.TopP,
		Mode: e.Mode, ToolSchemaHash: e.ToolSchemaHash, HitCount: e.HitCount,
		LastHitAt: e.LastHitAt, IsGolden: e.IsGolden, PIIPresent: e.PIIPresent,
		CreatedAt: e.CreatedAt, ExpiresAt: e.ExpiresAt,
	}
}

func fromWire(w wireEntry) *Entry {
	return &Entry{
		ID: w.ID, Tenant: w.Tenant, ExactKey: w.ExactKey, SimHash: w.SimHash,
		Embedding: w.Embedding, CanonicalPrompt: w.CanonicalPrompt, RawPromptHMAC: w.RawPromptHMAC,
		RequestBlob: w.RequestBlob, ResponseBlob: w.ResponseBlob, Model: w.Model,
		ModelFamily: w.ModelFamily, TemperatureBucket: w.TemperatureBucket, TopP: w.TopP,
		Mode: w.Mode, ToolSchemaHash: w.ToolSchemaHash, HitCount: w.HitCount,
		LastHitAt: w.LastHitAt, IsGolden: w.IsGolden, PIIPresent: w.PIIPresent,
		CreatedAt: w.CreatedAt, ExpiresAt: w.ExpiresAt,
	}
}

// EncodeEntry serializes and gzip-compresses e for hot-tier storage.
func EncodeEntry(e *Entry) ([]byte, error) {
	raw, err := json.Marshal(toWire(e))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry: %w", err)
	}
	return compressBlob(raw)
}

// DecodeEntry reverses EncodeEntry.
func DecodeEntry(blob []byte) (*Entry, error) {
	raw, err := decompressBlob(blob)
	if err != nil {
		return nil, err
	}
	var w wireEntry
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return fromWire(w), nil
}
