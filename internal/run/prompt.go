package run

import (
	"encoding/json"
	"regexp"
	"strings"
)

// realAndWords are English words legitimately ending in "and"; without the
// blocklist the typo repair below would mangle URLs ending in them.
var realAndWords = map[string]struct{}{
	"command": {}, "demand": {}, "expand": {}, "understand": {}, "withstand": {},
	"contraband": {}, "headband": {}, "armband": {}, "remand": {}, "reprimand": {},
	"mainland": {}, "farmland": {}, "highland": {}, "lowland": {}, "island": {},
	"strand": {}, "brand": {}, "grand": {}, "stand": {}, "sand": {}, "hand": {},
	"land": {}, "band": {}, "wand": {}, "bland": {}, "gland": {}, "planned": {},
	"scanned": {}, "fanned": {}, "manned": {}, "spanned": {}, "banned": {},
	"canned": {}, "tanned": {}, "panned": {},
}

var (
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	andTailPattern = regexp.MustCompile(`([a-z]{4,}and)$`)
)

// fixURLTypos repairs prompts where the author forgot a space before "and",
// producing URLs like "example.com/pageand". Words from the blocklist are
// left alone.
func fixURLTypos(text string) string {
	return urlPattern.ReplaceAllStringFunc(text, func(url string) string {
		tail := andTailPattern.FindStringSubmatch(url)
		if tail == nil {
			return url
		}
		if _, ok := realAndWords[strings.ToLower(tail[1])]; ok {
			return url
		}
		return url[:len(url)-3] + " and"
	})
}

var (
	taggedResultPattern = regexp.MustCompile(`(?s)<r>\s*(.*?)\s*</r>`)
	fencedJSONPattern   = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\}|\\[.*?\\])\\s*```")
	bareJSONPatterns    = []*regexp.Regexp{
		regexp.MustCompile(`(?s)(\[\s*\{.*?\}\s*\])`),
		regexp.MustCompile(`(?s)(\{.*?\})`),
		regexp.MustCompile(`(?s)(\[.*?\])`),
	}
)

// cleanResult extracts structured data from the model's final text: fenced
// json blocks, <r> tags, or a bare JSON object/array embedded in prose. When
// JSON is found it is re-rendered with stable indentation; otherwise the
// trimmed text is returned as-is.
func cleanResult(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}

	if m := taggedResultPattern.FindStringSubmatch(text); m != nil {
		if pretty, ok := reindentJSON(m[1]); ok {
			return pretty
		}
		text = strings.TrimSpace(m[1])
	}

	if m := fencedJSONPattern.FindStringSubmatch(text); m != nil {
		if pretty, ok := reindentJSON(m[1]); ok {
			return pretty
		}
	}

	if pretty, ok := reindentJSON(text); ok {
		return pretty
	}

	for _, p := range bareJSONPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			if pretty, ok := reindentJSON(m[1]); ok {
				return pretty
			}
		}
	}

	return text
}

func reindentJSON(s string) (string, bool) {
	var v any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &v); err != nil {
		return "", false
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", false
	}
	return string(out), true
}
