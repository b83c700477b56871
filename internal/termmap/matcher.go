package termmap

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxPromptTerms caps how many matched terms are injected into one prompt.
const MaxPromptTerms = 20

// Match filters the term map to terms that appear in the given texts as a
// standalone word. Matching is case-sensitive, which suits proper nouns.
func Match(tm TermMap, texts []string) MatchResult {
	matched := make(TermMap)

	for source, target := range tm {
		if source == "" {
			continue
		}
		for _, text := range texts {
			if containsWord(text, source) {
				matched[source] = target
				break
			}
		}
	}

	return MatchResult{Matched: matched}
}

// PromptSection renders matched terms as prompt instructions. Longer terms
// come first so multi-word names win over their parts.
func (r MatchResult) PromptSection() string {
	if len(r.Matched) == 0 {
		return ""
	}

	terms := make([]string, 0, len(r.Matched))
	for source := range r.Matched {
		terms = append(terms, source)
	}
	sort.Slice(terms, func(i, j int) bool {
		if len(terms[i]) != len(terms[j]) {
			return len(terms[i]) > len(terms[j])
		}
		return terms[i] < terms[j]
	})
	if len(terms) > MaxPromptTerms {
		terms = terms[:MaxPromptTerms]
	}

	var b strings.Builder
	b.WriteString("Terminology (MUST use these exact translations):\n")
	for _, source := range terms {
		fmt.Fprintf(&b, "- %s → %s\n", source, r.Matched[source])
	}
	return strings.TrimRight(b.String(), "\n")
}

// containsWord reports whether term occurs in text without being part of a
// longer word. Terms in scripts without spaces match as plain substrings.
func containsWord(text, term string) bool {
	offset := 0
	for {
		i := strings.Index(text[offset:], term)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(term)

		before, _ := utf8.DecodeLastRuneInString(text[:start])
		after, _ := utf8.DecodeRuneInString(text[end:])
		first, _ := utf8.DecodeRuneInString(term)
		last, _ := utf8.DecodeLastRuneInString(term)

		leftOK := start == 0 || !isWordRune(first) || !isWordRune(before)
		rightOK := end == len(text) || !isWordRune(last) || !isWordRune(after)
		if leftOK && rightOK {
			return true
		}
		offset = start + 1
		for offset < len(text) && !utf8.RuneStart(text[offset]) {
			offset++
		}
	}
}

func isWordRune(r rune) bool {
	if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Thai) {
		return false
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
