// Package upstream defines the external collaborator boundary the cache
// engine forwards misses to. Upstream provider wire conversions (OpenAI,
// Anthropic, Bedrock, ...) are explicitly out of scope for the cache core;
// this package only defines the interface the engine calls against and a
// minimal OpenAI-compatible implementation for wiring and tests.
package upstream

import (
	"context"

	"github.com/vllm-project/semantic-cache-proxy/pkg/canonical"
	"github.com/vllm-project/semantic-cache-proxy/pkg/replay"
)

// Response is the reassembled result of a completed upstream call, in
// either the streaming or non-streaming path, sufficient to drive
// write-through.
type Response struct {
	ID           string
	Model        string
	Content      string
	Role         string
	FinishReason string
	CreatedUnix  int64
}

// Provider is the external collaborator wrapped by the upstream circuit
// breaker. Implementations own their own wire format conversion; the cache
// engine only ever sees canonical.Request in and Response/replay.Chunk out.
type Provider interface {
	// Forward sends req to the provider and returns the complete response.
	Forward(ctx context.Context, req *canonical.Request, rawBody []byte) (*Response, error)

	// ForwardStream sends req to the provider and invokes emit for each
	// streaming chunk as it arrives, translated into the engine's SSE
	// envelope shape. It returns the reassembled Response once the stream
	// reaches its terminal marker. A client-side cancellation of ctx must
	// stop forwarding and return ctx.Err() without a Response, so the
	// engine's cancellation caller never mistakes it for a completed hit
	// and never writes it through.
	ForwardStream(ctx context.Context, req *canonical.Request, rawBody []byte, emit func(replay.Chunk) error) (*Response, error)
}
