package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/vllm-project/semantic-cache-proxy/pkg/replay"
)

func TestHTTPProviderForwardDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"gpt-4o",
			"choices":[{"index":0,"message":{"role":"assistant","content":"hello there"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "test-key", 5*time.Second)
	resp, err := p.Forward(context.Background(), nil, []byte(`{"model":"gpt-4o"}`))
	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "gpt-4o", resp.Model)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, "assistant", resp.Role)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestHTTPProviderForwardPropagatesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", 5*time.Second)
	_, err := p.Forward(context.Background(), nil, []byte(`{}`))
	assert.Error(t, err)
}

func TestHTTPProviderForwardStreamEmitsChunksAndReassembles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"id\":\"chatcmpl-2\",\"object\":\"chat.completion.chunk\",\"created\":1700000001,\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"Hi\"},\"finish_reason\":null}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"id\":\"chatcmpl-2\",\"object\":\"chat.completion.chunk\",\"created\":1700000001,\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\" there\"},\"finish_reason\":null}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"id\":\"chatcmpl-2\",\"object\":\"chat.completion.chunk\",\"created\":1700000001,\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", 5*time.Second)
	var chunks []replay.Chunk
	resp, err := p.ForwardStream(context.Background(), nil, []byte(`{"model":"gpt-4o","stream":true}`), func(c replay.Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, chunks, 3)
	assert.Equal(t, "Hi there", resp.Content)
	assert.Equal(t, "assistant", resp.Role)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, "chatcmpl-2", resp.ID)
}

func TestHTTPProviderForwardStreamErrorsWithoutTerminalMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"id\":\"chatcmpl-3\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"partial\"},\"finish_reason\":null}]}\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", 5*time.Second)
	_, err := p.ForwardStream(context.Background(), nil, []byte(`{}`), func(c replay.Chunk) error { return nil })
	assert.Error(t, err)
}

func TestHTTPProviderForwardStreamPropagatesEmitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"id\":\"chatcmpl-4\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"x\"},\"finish_reason\":null}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	boom := fmt.Errorf("client disconnected")
	p := NewHTTPProvider(srv.URL, "", 5*time.Second)
	_, err := p.ForwardStream(context.Background(), nil, []byte(`{}`), func(c replay.Chunk) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestHTTPProviderForwardInjectsTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	var gotTraceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceparent = r.Header.Get("traceparent")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-5","object":"chat.completion","created":1700000000,"model":"gpt-4o",
			"choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	ctx, span := tp.Tracer("test").Start(context.Background(), "forward")
	defer span.End()

	p := NewHTTPProvider(srv.URL, "", 5*time.Second)
	_, err := p.Forward(ctx, nil, []byte(`{"model":"gpt-4o"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, gotTraceparent)
	assert.Contains(t, gotTraceparent, span.SpanContext().TraceID().String())
}
