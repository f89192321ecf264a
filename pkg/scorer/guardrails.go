// Package scorer implements the guardrail checks and composite similarity
// scoring that decide whether a template-tier candidate is close enough to
// serve as a cache hit for a given request.
package scorer

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/vllm-project/semantic-cache-proxy/pkg/consts"
	"github.com/vllm-project/semantic-cache-proxy/pkg/fingerprint"
	"github.com/vllm-project/semantic-cache-proxy/pkg/store"
)

// SchemaValidator validates candidate response content against a JSON
// schema. The concrete implementation is an external collaborator; a
// gojsonschema-backed default is provided below.
type SchemaValidator interface {
	Validate(schema, content json.RawMessage) (bool, error)
}

// GoJSONSchemaValidator implements SchemaValidator on xeipuuv/gojsonschema.
type GoJSONSchemaValidator struct{}

func (GoJSONSchemaValidator) Validate(schema, content json.RawMessage) (bool, error) {
	schemaLoader := gojsonschema.NewBytesLoader(schema)
	docLoader := gojsonschema.NewBytesLoader(content)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return false, fmt.Errorf("schema validation error: %w", err)
	}
	return result.Valid(), nil
}

// GuardrailInput carries the request-side facts guardrails compare against
// each candidate.
type GuardrailInput struct {
	Fingerprint       *fingerprint.Fingerprint
	RequestModel      string // raw model string, for STRICT policy comparison
	ModelCompatPolicy string // consts.ModelCompatStrict|Family|Any
	JSONSchema        json.RawMessage
	Validator         SchemaValidator
}

// CheckGuardrails reports why a candidate would be dropped, or ok=true if
// it survives every guardrail. All guardrails must pass; the first failure
// is returned as reason for observability.
func CheckGuardrails(in GuardrailInput, c *store.Entry, nowUnix int64) (ok bool, reason string) {
	if in.Fingerprint.Mode != c.Mode {
		return false, "mode_mismatch"
	}
	if !toolSchemaEqual(in.Fingerprint.ToolSchemaHash, c.ToolSchemaHash) {
		return false, "tool_schema_mismatch"
	}
	if !modelCompatible(in.ModelCompatPolicy, in.RequestModel, in.Fingerprint.ModelFamily, c.Model, c.ModelFamily) {
		return false, "model_incompatible"
	}
	if in.Fingerprint.Mode == fingerprint.ModeJSONSchema {
		if len(in.JSONSchema) == 0 {
			return false, "missing_json_schema"
		}
		validator := in.Validator
		if validator == nil {
			validator = GoJSONSchemaValidator{}
		}
		valid, err := validator.Validate(in.JSONSchema, c.ResponseBlob)
		if err != nil || !valid {
			return false, "json_schema_validation_failed"
		}
	}
	if c.ExpiresAt != nil && c.ExpiresAt.Unix() < nowUnix {
		return false, "expired"
	}
	return true, ""
}

func toolSchemaEqual(reqHash, candHash string) bool {
	reqNone := reqHash == "" || reqHash == fingerprint.NoToolSchema
	candNone := candHash == "" || candHash == fingerprint.NoToolSchema
	if reqNone && candNone {
		return true
	}
	return reqHash == candHash
}

func modelCompatible(policy, reqModel, reqFamily, candModel, candFamily string) bool {
	switch policy {
	case consts.ModelCompatAny:
		return true
	case consts.ModelCompatFamily:
		return reqFamily == candFamily
	default: // consts.ModelCompatStrict
		return reqModel == candModel
	}
}
