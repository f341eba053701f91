package tts

import (
	"strings"
	"unicode"
)

// Voice describes a TTS voice configuration.
type Voice struct {
	// ID is the provider-specific voice identifier (a model name for Piper,
	// a voice ID for ElevenLabs, a voice name for OpenAI). Empty selects the
	// provider default.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Speed adjusts speaking rate (0.5–2.0, 0 or 1.0 = default).
	Speed float64

	// Metadata holds provider-specific voice attributes (gender, accent, …).
	Metadata map[string]string
}

// SplitSentences splits text into sentences on '.', '!', or '?' followed by
// whitespace or end of input, so abbreviations like "Dr." and decimals like
// "3.14" are not treated as boundaries when followed by a non-space
// character. Trailing text without a terminator forms the last sentence.
// Whitespace-only input yields nil.
func SplitSentences(text string) []string {
	var out []string
	rest := text
	for {
		idx := findSentenceBoundary(rest)
		if idx < 0 {
			break
		}
		if s := strings.TrimSpace(rest[:idx+1]); s != "" {
			out = append(out, s)
		}
		rest = rest[idx+1:]
	}
	if s := strings.TrimSpace(rest); s != "" {
		out = append(out, s)
	}
	return out
}

// findSentenceBoundary returns the index of the first sentence-ending
// character that is either at the end of s or immediately followed by
// whitespace. Returns -1 if no sentence boundary is found.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
