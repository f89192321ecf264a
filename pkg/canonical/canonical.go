package canonical

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Result is the output of Canonicalize.
type Result struct {
	// CanonicalJSON is the deterministic serialization used to compute ExactKey.
	CanonicalJSON []byte
	// ExactKey is the lowercase hex SHA-256 of CanonicalJSON.
	ExactKey string
	// PromptText is the concatenated "<role>: <content>" prompt, unmasked.
	PromptText string
	// MaskedPrompt is PromptText with identifying substrings replaced by tokens.
	MaskedPrompt string
	// RawHMAC is a digest of PromptText, computed with a keyed HMAC when a
	// secret is configured, otherwise a plain SHA-256 digest.
	RawHMAC string
	// PIIPresent is true if masking matched an EMAIL, PHONE, or CARD pattern.
	PIIPresent bool
}

// matchesDefault reports whether val is the documented default value for
// key, so the property can be stripped from the canonical form. Values are compared using
// the type produced by encoding/json's generic unmarshal (float64 for all
// JSON numbers).
func matchesDefault(key string, val interface{}) bool {
	switch key {
	case "temperature", "top_p":
		f, ok := val.(float64)
		return ok && math.Abs(f-1.0) < 1e-9
	case "presence_penalty", "frequency_penalty":
		f, ok := val.(float64)
		return ok && math.Abs(f) < 1e-9
	case "n":
		f, ok := val.(float64)
		return ok && f == 1
	case "stream":
		b, ok := val.(bool)
		return ok && !b
	default:
		return false
	}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func normalizeString(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// cleanNode recursively applies the canonical form rules to a JSON tree
// produced by json.Unmarshal into interface{}: default-value stripping,
// null/absent collapsing, float rounding, and string normalization. Key
// sorting is handled by encoding/json itself, which always marshals
// map[string]interface{} keys in sorted order.
func cleanNode(node interface{}) interface{} {
	switch v := node.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			if val == nil {
				continue
			}
			if matchesDefault(k, val) {
				continue
			}
			out[k] = cleanNode(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			out = append(out, cleanNode(item))
		}
		return out
	case float64:
		return round2(v)
	case string:
		return normalizeString(v)
	default:
		return v
	}
}

// marshalCanonical serializes a cleaned tree with no insignificant
// whitespace and no HTML escaping, escaping only what JSON requires
// (quotes, backslashes, and control characters).
func marshalCanonical(node interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(node); err != nil {
		return nil, fmt.Errorf("failed to encode canonical json: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ExtractPromptText concatenates messages as "<role>: <content>" joined by
// newlines, preserving order and including system messages.
func ExtractPromptText(messages []Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, m.Role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

func digest(text string, secret []byte) string {
	if len(secret) > 0 {
		mac := hmac.New(sha256.New, secret)
		mac.Write([]byte(text))
		return hex.EncodeToString(mac.Sum(nil))
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// CanonicalizeValue applies the same default-stripping, null-collapsing,
// key-sorting, float-rounding, and string-normalization rules to an
// arbitrary Go value (via a JSON round-trip) and returns its deterministic
// serialization. Used by the fingerprinter to build the tool-schema hash
// from the same canonical form the exact key is derived from.
func CanonicalizeValue(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return marshalCanonical(cleanNode(tree))
}

// Canonicalize parses body, computes its canonical JSON form and exact key,
// and derives the prompt text, masked template, and dedup digest.
// hmacSecret may be nil; a nil secret falls back to a plain SHA-256 digest.
func Canonicalize(body []byte, hmacSecret []byte) (*Result, error) {
	req, err := ParseRequest(body)
	if err != nil {
		return nil, err
	}

	var tree interface{}
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}

	cleaned := cleanNode(tree)
	canonicalJSON, err := marshalCanonical(cleaned)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(canonicalJSON)

	promptText := ExtractPromptText(req.Messages)
	maskedPrompt, pii := MaskPrompt(promptText)

	return &Result{
		CanonicalJSON: canonicalJSON,
		ExactKey:      hex.EncodeToString(sum[:]),
		PromptText:    promptText,
		MaskedPrompt:  maskedPrompt,
		RawHMAC:       digest(promptText, hmacSecret),
		PIIPresent:    pii,
	}, nil
}
