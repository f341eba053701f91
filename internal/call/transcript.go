package call

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Speaker identifies who produced an utterance.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Utterance is a single entry in a call transcript.
type Utterance struct {
	Speaker Speaker
	Text    string
	At      time.Time
}

// Log is the append-only transcript of one call. It is safe for concurrent use.
type Log struct {
	mu        sync.Mutex
	startedAt time.Time
	entries   []Utterance
}

// NewLog creates an empty transcript anchored at startedAt. Utterance
// timestamps are rendered as offsets from this anchor.
func NewLog(startedAt time.Time) *Log {
	return &Log{startedAt: startedAt}
}

// Append records one utterance with the current time. Empty text is ignored.
func (l *Log) Append(speaker Speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Utterance{Speaker: speaker, Text: text, At: time.Now()})
}

// Utterances returns a copy of all entries in order.
func (l *Log) Utterances() []Utterance {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Utterance, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded utterances.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Render formats the transcript as one line per utterance:
//
//	[0:03] assistant: Hello, how can I help?
//	[0:11] user: I'd like to book a table.
//
// Returns an empty string for an empty transcript.
func (l *Log) Render() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sb strings.Builder
	for i, u := range l.entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "[%s] %s: %s", formatOffset(u.At.Sub(l.startedAt)), u.Speaker, u.Text)
	}
	return sb.String()
}

// formatOffset renders a duration as M:SS (minutes unbounded, negative clamped to 0:00).
func formatOffset(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
