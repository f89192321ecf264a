package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPromptSubstitutesKnownPatterns(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
		pii   bool
	}{
		{"uuid", "id 550e8400-e29b-41d4-a716-446655440000 done", "id {UUID} done", false},
		{"url", "see https://example.com/article-123 now", "see {URL} now", false},
		{"email", "contact me at a.b@example.com please", "contact me at {EMAIL} please", true},
		{"iso date", "on 2024-01-15 it happened", "on {DATE} it happened", false},
		{"ipv4", "server 192.168.1.10 down", "server {IP} down", false},
		{"decimal", "value is 3.14 exactly", "value is {NUM} exactly", false},
		{"long integer", "order 123456 shipped", "order {NUM} shipped", false},
		{"hash", "sha aabbccddeeff00112233445566778899 matches", "sha {HASH} matches", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, pii := MaskPrompt(tc.input)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.pii, pii)
		})
	}
}

func TestMaskPromptIsDeterministicAndIdempotent(t *testing.T) {
	input := "Summarize https://x.test/a for user a.b@example.com on 2024-01-15"

	first, _ := MaskPrompt(input)
	second, _ := MaskPrompt(input)
	assert.Equal(t, first, second)

	reMasked, _ := MaskPrompt(first)
	assert.Equal(t, first, reMasked)
}

func TestMaskPromptCollapsesDistinctURLsToOneTemplate(t *testing.T) {
	a, _ := MaskPrompt("Summarize https://x.test/a")
	b, _ := MaskPrompt("Summarize https://x.test/b")
	// Both collapse to the same template; distinguishing them is the job of
	// the raw-prompt embedding, not the masked SimHash template.
	assert.Equal(t, a, b)
}

func TestMaskPromptCodeSpanIdentifiers(t *testing.T) {
	input := "explain this: ```def process(userToken): return userToken.strip()```"
	got, _ := MaskPrompt(input)
	assert.Contains(t, got, "{VAR}")
	assert.Contains(t, got, "def") // reserved keyword preserved
	assert.NotContains(t, got, "userToken")
}

func TestMaskPromptFirstMatchWinsOnOverlap(t *testing.T) {
	// The UUID pattern is evaluated before the 4+ digit integer pattern, so
	// a UUID must never be partially re-masked as a {NUM}.
	got, _ := MaskPrompt("id 550e8400-e29b-41d4-a716-446655440000")
	assert.Equal(t, "id {UUID}", got)
}
