// Package summary condenses a finished call into a short natural-language
// summary using an LLM provider.
package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/talktome/internal/call"
	"github.com/MrWong99/talktome/pkg/provider/llm"
)

// defaultPrompt is the system prompt used when the configuration does not
// supply one.
const defaultPrompt = `Summarise the following phone call between an automated assistant and a person.
Preserve: the purpose of the call, commitments made by either side, dates, times,
names, amounts, and whether the goal of the call was achieved.
Be concise; two to four sentences.`

// summaryTemperature keeps the summariser factual rather than creative.
const summaryTemperature = 0.3

// Summariser produces call summaries via an LLM. It implements
// [call.Summariser].
type Summariser struct {
	llm          llm.Provider
	systemPrompt string
	maxTokens    int
}

var _ call.Summariser = (*Summariser)(nil)

// Option configures a [Summariser].
type Option func(*Summariser)

// WithSystemPrompt replaces the default summarisation prompt.
func WithSystemPrompt(prompt string) Option {
	return func(s *Summariser) {
		if prompt != "" {
			s.systemPrompt = prompt
		}
	}
}

// WithMaxTokens caps the length of the generated summary. Zero means no cap.
func WithMaxTokens(n int) Option {
	return func(s *Summariser) { s.maxTokens = n }
}

// New creates a [Summariser] backed by the given provider.
func New(provider llm.Provider, opts ...Option) (*Summariser, error) {
	if provider == nil {
		return nil, fmt.Errorf("summary: llm provider is required")
	}
	s := &Summariser{
		llm:          provider,
		systemPrompt: defaultPrompt,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Summarise formats the transcript into a single user message and asks the
// model for a condensed summary. An empty transcript yields an empty summary
// without touching the provider.
func (s *Summariser) Summarise(ctx context.Context, utterances []call.Utterance) (string, error) {
	if len(utterances) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, u := range utterances {
		fmt.Fprintf(&sb, "[%s]: %s\n", u.Speaker, u.Text)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: s.systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: sb.String()},
		},
		Temperature: summaryTemperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summary: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}
