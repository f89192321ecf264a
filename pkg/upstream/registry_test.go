package upstream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vllm-project/semantic-cache-proxy/pkg/canonical"
	"github.com/vllm-project/semantic-cache-proxy/pkg/replay"
)

type stubProvider struct{ name string }

func (s *stubProvider) Forward(ctx context.Context, req *canonical.Request, rawBody []byte) (*Response, error) {
	return &Response{Content: s.name}, nil
}

func (s *stubProvider) ForwardStream(ctx context.Context, req *canonical.Request, rawBody []byte, emit func(replay.Chunk) error) (*Response, error) {
	return &Response{Content: s.name}, nil
}

func TestRegistryDispatchesByLongestPrefix(t *testing.T) {
	openai := &stubProvider{name: "openai"}
	gpt4 := &stubProvider{name: "gpt4-specific"}
	fallback := &stubProvider{name: "fallback"}

	r := NewRegistry(fallback)
	r.Register("gpt-", openai)
	r.Register("gpt-4o", gpt4)

	assert.Same(t, gpt4, r.For("gpt-4o-2024-08-06"))
	assert.Same(t, openai, r.For("gpt-3.5-turbo"))
	assert.Same(t, fallback, r.For("claude-3-opus"))
}

func TestRegistryFallsBackWhenNoRoutesRegistered(t *testing.T) {
	fallback := &stubProvider{name: "fallback"}
	r := NewRegistry(fallback)
	assert.Same(t, fallback, r.For("anything"))
}

func TestRegistryPrefixesSorted(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("claude-", &stubProvider{})
	r.Register("gpt-", &stubProvider{})
	assert.Equal(t, []string{"claude-", "gpt-"}, r.Prefixes())
}
