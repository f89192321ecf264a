package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vllm-project/semantic-cache-proxy/pkg/consts"
	"github.com/vllm-project/semantic-cache-proxy/pkg/headers"
)

func TestHeadersMissReportsMatchNone(t *testing.T) {
	o := &Outcome{Hit: false}
	h := o.Headers()
	assert.Equal(t, "false", h[headers.CacheHit])
	assert.Equal(t, consts.MatchNone, h[headers.CacheMatch])
	assert.NotContains(t, h, headers.CacheScore)
}

func TestHeadersExactHitReportsFullScore(t *testing.T) {
	o := &Outcome{Hit: true, Match: consts.MatchExact, Score: 1.0, EntryID: "entry-1", AgeSeconds: 5}
	h := o.Headers()
	assert.Equal(t, consts.MatchExact, h[headers.CacheMatch])
	assert.Equal(t, "1.000", h[headers.CacheScore])
	assert.Equal(t, "entry-1", h[headers.CacheProvenance])
}

func TestHeadersTemplateHitReportsCompositeScore(t *testing.T) {
	o := &Outcome{Hit: true, Match: consts.MatchTemplate, Score: 0.913, EntryID: "entry-2", SourceModel: "gpt-4-0613"}
	h := o.Headers()
	assert.Equal(t, consts.MatchTemplate, h[headers.CacheMatch])
	assert.Equal(t, "0.913", h[headers.CacheScore])
	assert.Equal(t, "gpt-4-0613", h[headers.CacheSourceModel])
}

func TestHeadersDegradedMissStillReportsMatchNone(t *testing.T) {
	o := &Outcome{Hit: false, Degraded: true, DegradedReason: consts.DegradationPassthrough}
	h := o.Headers()
	assert.Equal(t, consts.MatchNone, h[headers.CacheMatch])
	assert.Equal(t, "true", h[headers.CacheDegraded])
	assert.Equal(t, consts.DegradationPassthrough, h[headers.CacheDegradedReason])
}
