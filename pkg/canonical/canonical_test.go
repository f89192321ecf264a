package canonical

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeIdempotent(t *testing.T) {
	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi  there"}],"temperature":0.5}`)

	r1, err := Canonicalize(body, nil)
	require.NoError(t, err)

	r2, err := Canonicalize(r1.CanonicalJSON, nil)
	require.NoError(t, err)

	assert.Equal(t, r1.ExactKey, r2.ExactKey)
	assert.JSONEq(t, string(r1.CanonicalJSON), string(r2.CanonicalJSON))
}

func TestCanonicalizeKeyOrderIrrelevant(t *testing.T) {
	a := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hello"}],"temperature":0.3}`)
	b := []byte(`{"temperature":0.3,"messages":[{"content":"hello","role":"user"}],"model":"gpt-4"}`)

	ra, err := Canonicalize(a, nil)
	require.NoError(t, err)
	rb, err := Canonicalize(b, nil)
	require.NoError(t, err)

	assert.Equal(t, ra.ExactKey, rb.ExactKey)
}

func TestCanonicalizeStripsDocumentedDefaults(t *testing.T) {
	withDefaults := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}],"temperature":1.0,"top_p":1.0,"n":1,"stream":false,"presence_penalty":0.0,"frequency_penalty":0.0}`)
	withoutDefaults := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)

	rw, err := Canonicalize(withDefaults, nil)
	require.NoError(t, err)
	ro, err := Canonicalize(withoutDefaults, nil)
	require.NoError(t, err)

	assert.Equal(t, ro.ExactKey, rw.ExactKey)
}

func TestCanonicalizeNullAndAbsentCollapse(t *testing.T) {
	withNull := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}],"max_tokens":null}`)
	absent := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)

	rn, err := Canonicalize(withNull, nil)
	require.NoError(t, err)
	ra, err := Canonicalize(absent, nil)
	require.NoError(t, err)

	assert.Equal(t, ra.ExactKey, rn.ExactKey)
}

func TestCanonicalizeRoundsFloatsAndNormalizesStrings(t *testing.T) {
	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"  hi   there  "}],"temperature":0.126}`)
	r, err := Canonicalize(body, nil)
	require.NoError(t, err)

	var tree map[string]interface{}
	require.NoError(t, json.Unmarshal(r.CanonicalJSON, &tree))
	assert.InDelta(t, 0.13, tree["temperature"], 1e-9)

	msgs := tree["messages"].([]interface{})
	msg := msgs[0].(map[string]interface{})
	assert.Equal(t, "hi there", msg["content"])
}

func TestCanonicalizeRejectsMissingFields(t *testing.T) {
	_, err := Canonicalize([]byte(`{"messages":[{"role":"user","content":"hi"}]}`), nil)
	assert.Error(t, err)

	_, err = Canonicalize([]byte(`{"model":"gpt-4","messages":[]}`), nil)
	assert.Error(t, err)
}

func TestExtractPromptTextPreservesOrderAndSystem(t *testing.T) {
	msgs := []Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	}
	got := ExtractPromptText(msgs)
	assert.Equal(t, "system: be terse\nuser: hello\nassistant: hi", got)
}

func TestCanonicalizeDigestChangesWithSecret(t *testing.T) {
	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)

	plain, err := Canonicalize(body, nil)
	require.NoError(t, err)
	keyed, err := Canonicalize(body, []byte("secret"))
	require.NoError(t, err)

	assert.NotEqual(t, plain.RawHMAC, keyed.RawHMAC)
	// The exact key is derived from the canonical JSON, not the HMAC secret.
	assert.Equal(t, plain.ExactKey, keyed.ExactKey)
}
