package phrase

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	defaultMatchThreshold = 0.85
	defaultMinCoverage    = 0.5
	defaultMaxExpansion   = 4
)

// Verifier rejects generated sentences that drift away from the signed
// words. A sentence is faithful when enough of the words reappear in it
// (fuzzy, accent- and case-insensitive) and it is not padded far beyond the
// word count.
//
// The zero value uses a 0.85 Jaro-Winkler threshold, 50% coverage and at
// most four output tokens per input word plus a small allowance for
// connectors.
type Verifier struct {
	// MatchThreshold is the minimum Jaro-Winkler score for a word to count
	// as present in the sentence.
	MatchThreshold float64

	// MinCoverage is the fraction of words that must be present.
	MinCoverage float64

	// MaxExpansion bounds the number of output tokens per input word.
	MaxExpansion int
}

// Faithful reports whether text is an acceptable rendering of words.
func (v Verifier) Faithful(words []string, text string) bool {
	threshold := v.MatchThreshold
	if threshold <= 0 {
		threshold = defaultMatchThreshold
	}
	coverage := v.MinCoverage
	if coverage <= 0 {
		coverage = defaultMinCoverage
	}
	expansion := v.MaxExpansion
	if expansion <= 0 {
		expansion = defaultMaxExpansion
	}

	out := tokens(text)
	if len(out) == 0 {
		return false
	}
	var want []string
	for _, w := range words {
		want = append(want, tokens(w)...)
	}
	if len(want) == 0 {
		return true
	}
	if len(out) > expansion*len(want)+3 {
		return false
	}

	found := 0
	for _, w := range want {
		for _, o := range out {
			if w == o || matchr.JaroWinkler(w, o, false) >= threshold {
				found++
				break
			}
		}
	}
	return float64(found)/float64(len(want)) >= coverage
}

// tokens lowercases s, strips diacritics and splits on anything that is not
// a letter or digit. Labels like "buenos_dias" yield two tokens.
func tokens(s string) []string {
	return strings.FieldsFunc(fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}
