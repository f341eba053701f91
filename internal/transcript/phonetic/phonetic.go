// Package phonetic matches transcribed words against a known vocabulary using
// Double Metaphone phonetic encoding combined with Jaro-Winkler string
// similarity.
//
// Speech-to-text reliably mangles proper nouns and domain jargon ("Zyrtec"
// becomes "sir tech"). The matcher works in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     the input and for each vocabulary term. A term whose codes overlap the
//     input's becomes a candidate.
//
//  2. Jaro-Winkler ranking: among candidates, the term with the highest
//     Jaro-Winkler similarity (case-insensitive, on the original strings)
//     wins, provided its score clears the phonetic threshold.
//
// When no phonetic candidate exists, a fallback pass tests pure Jaro-Winkler
// similarity against all terms with a stricter threshold, catching spelling
// drift that phonetics miss.
//
// Multi-word terms ("Dr. Alvarez") are supported: codes are computed per word
// and the ranking considers the best pairwise score across word pairs.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher ranks vocabulary terms by phonetic similarity to an input word or
// phrase. It is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match finds the vocabulary term most phonetically similar to word. word may
// be a single word or a space-separated phrase.
//
// When matched is false, corrected equals word unchanged and confidence is 0.
func (m *Matcher) Match(word string, terms []string) (corrected string, confidence float64, matched bool) {
	if len(terms) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)
	inputCodes := codesForTokens(wordTokens)

	var (
		bestTerm     string
		bestScore    float64
		bestPhonetic bool
	)

	for _, term := range terms {
		termLower := strings.ToLower(strings.TrimSpace(term))
		if termLower == "" {
			continue
		}
		termTokens := strings.Fields(termLower)

		phoneticMatch := codesOverlap(inputCodes, codesForTokens(termTokens))
		score := bestSimilarity(wordTokens, termTokens, wordLower, termLower)

		switch {
		case phoneticMatch && score >= m.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				bestTerm, bestScore, bestPhonetic = term, score, true
			}
		case !phoneticMatch && !bestPhonetic:
			if score >= m.fuzzyThreshold && score > bestScore {
				bestTerm, bestScore = term, score
			}
		}
	}

	if bestTerm != "" {
		return bestTerm, bestScore, true
	}
	return word, 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity computes the highest Jaro-Winkler similarity between the
// input and a term across three comparisons: the full strings, the
// space-stripped strings ("sir tech" vs "zyrtec"), and, when the token counts
// line up, the average of positionally aligned per-token scores. The aligned
// average keeps a window that merely shares one word with a multi-word term
// from scoring as a match.
func bestSimilarity(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		concatIn := strings.Join(inputTokens, "")
		concatTerm := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(concatIn, concatTerm, false); s > score {
			score = s
		}
	}

	if len(inputTokens) == len(termTokens) && len(inputTokens) > 1 {
		var sum float64
		for i, it := range inputTokens {
			sum += matchr.JaroWinkler(it, termTokens[i], false)
		}
		if avg := sum / float64(len(inputTokens)); avg > score {
			score = avg
		}
	}

	return score
}
