package engine

import (
	"fmt"

	"github.com/vllm-project/semantic-cache-proxy/pkg/consts"
	"github.com/vllm-project/semantic-cache-proxy/pkg/headers"
)

// Headers renders o as the response headers described in spec §6. The
// caller (HTTP layer) is responsible for actually setting them on the
// response writer.
func (o *Outcome) Headers() map[string]string {
	match := o.Match
	if match == "" {
		match = consts.MatchNone
	}
	h := map[string]string{
		headers.CacheHit:   fmt.Sprintf("%t", o.Hit),
		headers.CacheMatch: match,
	}
	if o.Hit {
		h[headers.CacheScore] = fmt.Sprintf("%.3f", o.Score)
		h[headers.CacheProvenance] = o.EntryID
		h[headers.CacheAge] = fmt.Sprintf("%d", o.AgeSeconds)
		if o.SourceModel != "" {
			h[headers.CacheSourceModel] = o.SourceModel
		}
	}
	if o.Degraded {
		h[headers.CacheDegraded] = "true"
		h[headers.CacheDegradedReason] = o.DegradedReason
	}
	return h
}
