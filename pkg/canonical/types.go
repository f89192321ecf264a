// Package canonical turns an OpenAI-compatible chat completion request into
// a stable canonical form: a deterministic JSON serialization keyed by
// SHA-256, the extracted prompt text, and its masked template form.
package canonical

import (
	"encoding/json"
	"fmt"
)

// Message is one entry of the OpenAI-compatible "messages" array.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolFunction is the function payload of a tool definition.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Tool is an OpenAI-compatible tool definition.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// FunctionDef is a legacy (pre-tools) function definition.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// JSONSchemaSpec is the schema payload of a json_schema response format.
type JSONSchemaSpec struct {
	Name   string          `json:"name,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Strict *bool           `json:"strict,omitempty"`
}

// ResponseFormat mirrors OpenAI's response_format field.
type ResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *JSONSchemaSpec `json:"json_schema,omitempty"`
}

// Request is the subset of an OpenAI-compatible chat completion request the
// cache engine reasons about.
type Request struct {
	Model            string          `json:"model"`
	Messages         []Message       `json:"messages"`
	Stream           bool            `json:"stream,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	N                *int            `json:"n,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	Tools            []Tool          `json:"tools,omitempty"`
	ToolChoice       interface{}     `json:"tool_choice,omitempty"`
	Functions        []FunctionDef   `json:"functions,omitempty"`
	ResponseFormat   *ResponseFormat `json:"response_format,omitempty"`
}

// ParseRequest unmarshals and minimally validates an incoming request body.
func ParseRequest(body []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if req.Model == "" {
		return nil, fmt.Errorf("request is missing required field \"model\"")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("request is missing required field \"messages\"")
	}
	return &req, nil
}
