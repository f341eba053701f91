// Package transcript post-processes transcribed utterances before they enter
// the call transcript.
//
// The only stage is vocabulary correction: domain terms from the call
// configuration (names, products, jargon) are aligned against the transcribed
// text phonetically, so "doctor al virus" comes out as "Dr. Alvarez". The
// corrector runs synchronously on the transcription path and therefore stays
// purely in-process.
package transcript

import (
	"strings"

	"github.com/MrWong99/talktome/internal/call"
	"github.com/MrWong99/talktome/internal/transcript/phonetic"
)

// Option configures a [Corrector].
type Option func(*Corrector)

// WithMatcher replaces the default phonetic matcher, e.g. to tune thresholds.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(c *Corrector) {
		if m != nil {
			c.matcher = m
		}
	}
}

// Corrector rewrites transcribed text so that vocabulary terms appear in
// their canonical spelling. It implements [call.TextCorrector] and is
// read-only after construction.
type Corrector struct {
	matcher  *phonetic.Matcher
	terms    []string
	maxWords int
}

var _ call.TextCorrector = (*Corrector)(nil)

// New creates a [Corrector] for the given vocabulary. An empty vocabulary
// yields a corrector that passes text through unchanged.
func New(vocabulary []string, opts ...Option) *Corrector {
	terms := make([]string, 0, len(vocabulary))
	maxWords := 0
	for _, t := range vocabulary {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		terms = append(terms, t)
		if n := len(strings.Fields(t)); n > maxWords {
			maxWords = n
		}
	}

	c := &Corrector{
		matcher:  phonetic.New(),
		terms:    terms,
		maxWords: maxWords,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Correct implements [call.TextCorrector]. The text is tokenised on
// whitespace and, at each position, n-gram windows from the longest
// vocabulary term length down to one word are tested against the vocabulary.
// The longest matching window wins so that multi-word terms take precedence
// over partial single-word matches. Trailing punctuation survives the
// replacement.
func (c *Corrector) Correct(text string) string {
	if len(c.terms) == 0 {
		return text
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text
	}

	var output []string
	i := 0
	for i < len(tokens) {
		maxN := c.maxWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window, suffix := trimWindow(tokens[i : i+n])
			if window == "" {
				continue
			}
			term, _, ok := c.matcher.Match(window, c.terms)
			if !ok {
				continue
			}
			output = append(output, strings.Fields(term+suffix)...)
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " ")
}

// trimWindow joins tokens into a match candidate, splitting off trailing
// punctuation from the last token so "alvarez," still matches "Alvarez". The
// punctuation is returned so the caller can reattach it.
func trimWindow(tokens []string) (window, suffix string) {
	joined := strings.Join(tokens, " ")
	trimmed := strings.TrimRight(joined, ".,!?;:")
	return trimmed, joined[len(trimmed):]
}
