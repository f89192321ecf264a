package canonical

import (
	"regexp"
	"sort"
	"strings"
)

// maskPattern is one substitution rule in priority order. piiFlag marks
// patterns whose match sets the PII flag.
type maskPattern struct {
	re      *regexp.Regexp
	token   string
	piiFlag bool
}

// Order matters: earlier patterns claim their matched byte ranges first, so
// a later pattern can never re-mask a range an earlier one already covered.
var maskPatterns = []maskPattern{
	{regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`), "{UUID}", false},
	{regexp.MustCompile(`(?i)https?://[^\s"'<>]+`), "{URL}", false},
	{regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), "{EMAIL}", true},
	{regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`), "{DATE}", false},
	{regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`), "{DATE}", false},
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "{IP}", false},
	{regexp.MustCompile(`\b\d+\.\d+\b`), "{NUM}", false},
	{regexp.MustCompile(`\b\d{4,}\b`), "{NUM}", false},
	{regexp.MustCompile(`(?:\+?\d{1,3}[\s.\-]?)?\(?\d{3}\)?[\s.\-]\d{3}[\s.\-]\d{4}\b`), "{PHONE}", true},
	{regexp.MustCompile(`\b(?:\d{4}[\s\-]){3}\d{4}\b`), "{CARD}", true},
	{regexp.MustCompile(`(?i)\b[0-9a-f]{32,}\b`), "{HASH}", false},
	{regexp.MustCompile(`(?:/[\w.\-]+){2,}`), "{PATH}", false},
}

var (
	fencedCodeSpan = regexp.MustCompile("(?s)```.*?```")
	inlineCodeSpan = regexp.MustCompile("`[^`\n]+`")
	identifierWord = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*\b`)
)

// reservedWords are common programming keywords and literals preserved
// verbatim inside code spans instead of being replaced with {VAR}.
var reservedWords = map[string]bool{
	"if": true, "else": true, "elif": true, "for": true, "while": true, "do": true,
	"return": true, "function": true, "func": true, "def": true, "class": true,
	"import": true, "from": true, "package": true, "const": true, "let": true,
	"var": true, "true": true, "false": true, "null": true, "nil": true, "none": true,
	"break": true, "continue": true, "switch": true, "case": true, "default": true,
	"try": true, "catch": true, "except": true, "finally": true, "throw": true,
	"raise": true, "new": true, "this": true, "self": true, "public": true,
	"private": true, "protected": true, "static": true, "void": true, "int": true,
	"string": true, "bool": true, "boolean": true, "float": true, "double": true,
	"struct": true, "interface": true, "type": true, "map": true, "chan": true,
	"select": true, "range": true, "go": true, "async": true, "await": true,
	"yield": true, "with": true, "as": true, "in": true, "is": true, "not": true,
	"and": true, "or": true, "lambda": true, "print": true, "console": true, "log": true,
}

type span struct {
	start, end int
	token      string
}

// MaskPrompt replaces identifying substrings in text with stable tokens.
// Substitutions run in a fixed priority order; the first pattern to claim a
// byte range wins, so later patterns never re-mask an already-claimed span.
// Within fenced or inline code spans, non-keyword identifiers of length >= 3
// are additionally replaced with {VAR}. The second return value reports
// whether an EMAIL, PHONE, or CARD pattern matched anywhere in text.
func MaskPrompt(text string) (string, bool) {
	claimed := make([]bool, len(text))
	var spans []span
	pii := false

	for _, p := range maskPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			start, end := loc[0], loc[1]
			if rangeClaimed(claimed, start, end) {
				continue
			}
			claim(claimed, start, end)
			spans = append(spans, span{start, end, p.token})
			if p.piiFlag {
				pii = true
			}
		}
	}

	for _, codeLoc := range codeSpanRanges(text) {
		for _, loc := range identifierWord.FindAllStringIndex(text[codeLoc[0]:codeLoc[1]], -1) {
			start, end := codeLoc[0]+loc[0], codeLoc[0]+loc[1]
			word := text[start:end]
			if len(word) < 3 || reservedWords[strings.ToLower(word)] {
				continue
			}
			if rangeClaimed(claimed, start, end) {
				continue
			}
			claim(claimed, start, end)
			spans = append(spans, span{start, end, "{VAR}"})
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var out strings.Builder
	pos := 0
	for _, s := range spans {
		out.WriteString(text[pos:s.start])
		out.WriteString(s.token)
		pos = s.end
	}
	out.WriteString(text[pos:])
	return out.String(), pii
}

func codeSpanRanges(text string) [][2]int {
	var ranges [][2]int
	for _, loc := range fencedCodeSpan.FindAllStringIndex(text, -1) {
		ranges = append(ranges, [2]int{loc[0], loc[1]})
	}
	for _, loc := range inlineCodeSpan.FindAllStringIndex(text, -1) {
		if !withinAny(ranges, loc[0], loc[1]) {
			ranges = append(ranges, [2]int{loc[0], loc[1]})
		}
	}
	return ranges
}

func withinAny(ranges [][2]int, start, end int) bool {
	for _, r := range ranges {
		if start >= r[0] && end <= r[1] {
			return true
		}
	}
	return false
}

func rangeClaimed(claimed []bool, start, end int) bool {
	for i := start; i < end; i++ {
		if claimed[i] {
			return true
		}
	}
	return false
}

func claim(claimed []bool, start, end int) {
	for i := start; i < end; i++ {
		claimed[i] = true
	}
}
