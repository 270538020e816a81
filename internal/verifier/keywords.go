package verifier

import (
	"regexp"
	"strings"
)

// MatchThreshold is the fraction of task keywords that must appear in the page
// content for a match. Inclusive: exactly 30% passes.
const MatchThreshold = 0.30

// Word tokens, or single CJK characters which do not use word boundaries.
var tokenPattern = regexp.MustCompile(`[a-z0-9]+|[\p{Han}\p{Hiragana}\p{Katakana}\p{Hangul}]`)

// Function words in the languages tasks are written in. Anything here carries
// no signal about which video the page shows.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "this": {}, "that": {},
	"you": {}, "your": {}, "are": {}, "was": {}, "from": {}, "have": {},
	"video": {}, "watch": {}, "share": {}, "like": {},
	"的": {}, "了": {}, "是": {}, "在": {}, "我": {}, "和": {},
}

// ExtractKeywords builds the keyword set from a task's title and description.
// Single-letter word tokens and stopwords are dropped; CJK characters stand as
// their own tokens and survive.
func ExtractKeywords(title, description string) []string {
	source := strings.ToLower(title + " " + description)
	tokens := tokenPattern.FindAllString(source, -1)

	seen := map[string]struct{}{}
	var keywords []string
	for _, tok := range tokens {
		if len(tok) == 1 && tok[0] < 0x80 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		keywords = append(keywords, tok)
	}
	return keywords
}

// Match reports whether enough task keywords appear in the page content.
// An empty keyword set auto-passes: a task with no usable metadata cannot
// reject anything.
func Match(keywords []string, content string) bool {
	if len(keywords) == 0 {
		return true
	}
	lowered := strings.ToLower(content)

	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			hits++
		}
	}
	return float64(hits)/float64(len(keywords)) >= MatchThreshold
}
