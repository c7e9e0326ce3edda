package services

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed abbreviations.yaml
var abbreviationsYAML []byte

// clinicalAbbreviations expands shorthand users type into the wording the
// form options use. Keys are lowercase.
var clinicalAbbreviations = mustParseAbbreviations(abbreviationsYAML)

// mustParseAbbreviations panics on a malformed table: the file is compiled
// into the binary, so a bad entry is a build defect.
func mustParseAbbreviations(data []byte) map[string]string {
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		panic(fmt.Sprintf("parse abbreviations.yaml: %v", err))
	}
	table := make(map[string]string, len(raw))
	for k, v := range raw {
		k, v = strings.ToLower(strings.TrimSpace(k)), strings.TrimSpace(v)
		if k == "" || v == "" {
			panic(fmt.Sprintf("abbreviations.yaml: empty entry %q", k))
		}
		table[k] = v
	}
	return table
}

// ExpandAbbreviations replaces known abbreviations token by token. Tokens are
// split on anything that is not a letter or digit; plural forms ("DFUs") are
// expanded too.
func ExpandAbbreviations(s string) string {
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, tok := range tokens {
		lower := strings.ToLower(tok)
		if exp, ok := clinicalAbbreviations[lower]; ok {
			tokens[i] = exp
			continue
		}
		if strings.HasSuffix(lower, "s") {
			if exp, ok := clinicalAbbreviations[strings.TrimSuffix(lower, "s")]; ok {
				tokens[i] = exp
			}
		}
	}
	return strings.Join(tokens, " ")
}

// NormalizeTerm folds a phrase to a comparable form: diacritics stripped,
// lowercased, punctuation removed, whitespace collapsed and each token
// singularized. NormalizeTerm(NormalizeTerm(x)) == NormalizeTerm(x).
func NormalizeTerm(s string) string {
	return strings.Join(normalizedTokens(s), " ")
}

func normalizedTokens(s string) []string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	tokens := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, tok := range tokens {
		tokens[i] = singularize(tok)
	}
	return tokens
}

// singularize is deliberately naive: "-ies" becomes "-y" and a trailing "s"
// is dropped, both only for words longer than three letters. Words ending in
// "ss" are left alone.
func singularize(word string) string {
	if len(word) <= 3 {
		return word
	}
	if strings.HasSuffix(word, "ies") {
		return strings.TrimSuffix(word, "ies") + "y"
	}
	if strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss") {
		return strings.TrimSuffix(word, "s")
	}
	return word
}

// levenshteinDistance calculates the edit distance between two strings in runes.
func levenshteinDistance(s1, s2 string) int {
	a, b := []rune(s1), []rune(s2)
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// similarityRatio is 1 - distance/maxLen, in [0,1]. Two empty strings are identical.
func similarityRatio(a, b string) float64 {
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshteinDistance(a, b))/float64(maxLen)
}
