package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vllm-project/semantic-cache-proxy/pkg/canonical"
	"github.com/vllm-project/semantic-cache-proxy/pkg/observability/tracing"
	"github.com/vllm-project/semantic-cache-proxy/pkg/replay"
)

// HTTPProvider forwards requests verbatim to an OpenAI-compatible HTTP
// endpoint. Grounded on pario-ai-pario's pkg/proxy doUpstreamRequest /
// doUpstreamStreamRequest / streamSSEResponse: a plain net/http client,
// forwarding the caller's own request bytes, and line-scanning the SSE
// response for streaming.
type HTTPProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPProvider builds an HTTPProvider with the given request timeout.
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
	}
}

type openAIChoice struct {
	Index        int    `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
}

// newRequest builds the outbound upstream request and injects the caller's
// trace context into its headers, so a span started around Forward or
// ForwardStream (pkg/engine's SpanUpstreamForward) is continued by whatever
// the upstream endpoint does with the W3C traceparent/baggage headers.
func (p *HTTPProvider) newRequest(ctx context.Context, rawBody []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v1/chat/completions", bytes.NewReader(rawBody))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	carrier := make(map[string]string)
	tracing.InjectTraceContext(ctx, carrier)
	for k, v := range carrier {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Forward implements Provider.
func (p *HTTPProvider) Forward(ctx context.Context, _ *canonical.Request, rawBody []byte) (*Response, error) {
	httpReq, err := p.newRequest(ctx, rawBody)
	if err != nil {
		return nil, err
	}

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	var wire openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("upstream response has no choices")
	}

	return &Response{
		ID:           wire.ID,
		Model:        wire.Model,
		Content:      wire.Choices[0].Message.Content,
		Role:         wire.Choices[0].Message.Role,
		FinishReason: wire.Choices[0].FinishReason,
		CreatedUnix:  wire.Created,
	}, nil
}

// ForwardStream implements Provider.
func (p *HTTPProvider) ForwardStream(ctx context.Context, _ *canonical.Request, rawBody []byte, emit func(replay.Chunk) error) (*Response, error) {
	httpReq, err := p.newRequest(ctx, rawBody)
	if err != nil {
		return nil, err
	}

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	var buf replay.ReassemblyBuffer
	var id, model, finishReason string
	var created int64

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == replay.Done {
			buf.MarkComplete()
			break
		}

		var chunk replay.Chunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.ID != "" {
			id = chunk.ID
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Created != 0 {
			created = chunk.Created
		}
		if len(chunk.Choices) > 0 {
			buf.Append(chunk.Choices[0].Delta)
			if chunk.Choices[0].FinishReason != nil {
				finishReason = *chunk.Choices[0].FinishReason
			}
		}
		if err := emit(chunk); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading upstream stream: %w", err)
	}

	if !buf.Complete() {
		return nil, fmt.Errorf("upstream stream ended without a terminal marker")
	}

	return &Response{
		ID:           id,
		Model:        model,
		Content:      buf.Content(),
		Role:         buf.Role(),
		FinishReason: finishReason,
		CreatedUnix:  created,
	}, nil
}
