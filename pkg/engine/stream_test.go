package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vllm-project/semantic-cache-proxy/pkg/replay"
)

// collectChunks drains a LookupStream call into a flat slice of Chunks, in
// emission order.
func collectChunks(t *testing.T, h *testHarness, body []byte, ov Overrides) (*Outcome, []replay.Chunk) {
	t.Helper()
	var chunks []replay.Chunk
	outcome, err := h.engine.LookupStream(context.Background(), "tenant-a", body, ov, func(c replay.Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	return outcome, chunks
}

// S6 — deterministic replay: streaming the same cached prompt twice must
// produce the same chunk deltas and finish reasons, since the chunking is
// seeded from the serving entry's exact key rather than wall-clock or
// process state.
func TestLookupStreamReplayIsDeterministic(t *testing.T) {
	h := newHarness(t)
	h.provider.responses["Tell me a story"] = "Once upon a time there was a cache"
	body := chatBody("gpt-4", "Tell me a story")

	miss, chunks := collectChunks(t, h, body, DefaultOverrides())
	require.False(t, miss.Hit)
	require.NotEmpty(t, chunks)
	waitForAsync()

	first, firstChunks := collectChunks(t, h, body, DefaultOverrides())
	require.True(t, first.Hit)
	require.NotEmpty(t, firstChunks)

	second, secondChunks := collectChunks(t, h, body, DefaultOverrides())
	require.True(t, second.Hit)

	require.Equal(t, len(firstChunks), len(secondChunks))
	for i := range firstChunks {
		assert.Equal(t, firstChunks[i].Choices[0].Delta, secondChunks[i].Choices[0].Delta)
		assert.Equal(t, firstChunks[i].Choices[0].FinishReason, secondChunks[i].Choices[0].FinishReason)
	}

	last := firstChunks[len(firstChunks)-1]
	require.NotNil(t, last.Choices[0].FinishReason)
	assert.Equal(t, "stop", *last.Choices[0].FinishReason)
}

// A streaming miss must reassemble the forwarded deltas and write through,
// so a subsequent non-streaming request against the same prompt hits.
func TestLookupStreamMissWritesThrough(t *testing.T) {
	h := newHarness(t)
	h.provider.responses["What is the weather"] = "It is sunny today"
	body := chatBody("gpt-4", "What is the weather")

	outcome, chunks := collectChunks(t, h, body, DefaultOverrides())
	require.False(t, outcome.Hit)
	require.NotEmpty(t, chunks)
	waitForAsync()

	second, err := h.engine.Lookup(context.Background(), "tenant-a", body, DefaultOverrides())
	require.NoError(t, err)
	require.True(t, second.Hit)
	assert.Equal(t, "exact", second.Match)
}

// A miss stream cancelled before the terminal chunk must never produce a
// cache entry: the reassembly buffer never observes MarkComplete, so
// write-through is skipped.
func TestLookupStreamCancellationSkipsWriteThrough(t *testing.T) {
	h := newHarness(t)
	h.provider.responses["Long answer please"] = "This is a very long answer indeed"
	body := chatBody("gpt-4", "Long answer please")

	ctx, cancel := context.WithCancel(context.Background())
	seen := 0
	_, _ = h.engine.LookupStream(ctx, "tenant-a", body, DefaultOverrides(), func(c replay.Chunk) error {
		seen++
		if seen == 1 {
			cancel()
		}
		return ctx.Err()
	})
	waitForAsync()

	second, err := h.engine.Lookup(context.Background(), "tenant-a", body, DefaultOverrides())
	require.NoError(t, err)
	assert.False(t, second.Hit, "a cancelled miss stream must not have been written through")
}
