// Package store defines the hot (exact-key) and indexed (template/semantic)
// tier abstractions the cache engine looks up and writes through to.
package store

import "time"

// Entry is a persisted cache entry, mirroring the data model's cache entry
// columns exactly.
type Entry struct {
	ID                string
	Tenant            string
	ExactKey          string
	SimHash           uint64
	Embedding         []float32
	CanonicalPrompt   string // masked text
	RawPromptHMAC     string
	RequestBlob       []byte
	ResponseBlob      []byte
	Model             string
	ModelFamily       string
	TemperatureBucket string
	TopP              *float64
	Mode              string
	ToolSchemaHash    string
	HitCount          int64
	LastHitAt         time.Time
	IsGolden          bool
	PIIPresent        bool
	CreatedAt         time.Time
	ExpiresAt         *time.Time // nil means never expires (golden entries)
}

// Expired reports whether e is past its TTL as of now. Golden entries
// (ExpiresAt == nil) are never expired.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// AgeSeconds returns the number of whole seconds since e was created.
func (e *Entry) AgeSeconds(now time.Time) int64 {
	return int64(now.Sub(e.CreatedAt).Seconds())
}
