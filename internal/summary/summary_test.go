package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/talktome/internal/call"
	"github.com/MrWong99/talktome/pkg/provider/llm"
	llmmock "github.com/MrWong99/talktome/pkg/provider/llm/mock"
)

func sampleUtterances() []call.Utterance {
	now := time.Now()
	return []call.Utterance{
		{Speaker: call.SpeakerAssistant, Text: "Hello, I am calling about your dental appointment.", At: now},
		{Speaker: call.SpeakerUser, Text: "Yes, I want to move it to Thursday.", At: now.Add(5 * time.Second)},
	}
}

func TestNew_RequiresProvider(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("New(nil) did not return an error")
	}
}

func TestSummarise_FormatsTranscript(t *testing.T) {
	provider := &llmmock.Provider{
		Result: &llm.CompletionResponse{Content: "Appointment moved to Thursday."},
	}
	s, err := New(provider)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := s.Summarise(context.Background(), sampleUtterances())
	if err != nil {
		t.Fatalf("Summarise: %v", err)
	}
	if got != "Appointment moved to Thursday." {
		t.Errorf("summary = %q", got)
	}

	if len(provider.CompleteCalls) != 1 {
		t.Fatalf("Complete calls = %d, want 1", len(provider.CompleteCalls))
	}
	req := provider.CompleteCalls[0]
	if req.SystemPrompt != defaultPrompt {
		t.Errorf("system prompt = %q, want default", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v, want single user message", req.Messages)
	}
	body := req.Messages[0].Content
	if !strings.Contains(body, "[assistant]: Hello, I am calling about your dental appointment.") {
		t.Errorf("transcript missing assistant line: %q", body)
	}
	if !strings.Contains(body, "[user]: Yes, I want to move it to Thursday.") {
		t.Errorf("transcript missing user line: %q", body)
	}
	if req.Temperature != summaryTemperature {
		t.Errorf("temperature = %v, want %v", req.Temperature, summaryTemperature)
	}
}

func TestSummarise_Options(t *testing.T) {
	provider := &llmmock.Provider{
		Result: &llm.CompletionResponse{Content: "ok"},
	}
	s, err := New(provider, WithSystemPrompt("Summarise in German."), WithMaxTokens(128))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := s.Summarise(context.Background(), sampleUtterances()); err != nil {
		t.Fatalf("Summarise: %v", err)
	}

	req := provider.CompleteCalls[0]
	if req.SystemPrompt != "Summarise in German." {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if req.MaxTokens != 128 {
		t.Errorf("max tokens = %d, want 128", req.MaxTokens)
	}
}

func TestSummarise_EmptyTranscript(t *testing.T) {
	provider := &llmmock.Provider{}
	s, err := New(provider)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := s.Summarise(context.Background(), nil)
	if err != nil {
		t.Fatalf("Summarise: %v", err)
	}
	if got != "" {
		t.Errorf("summary = %q, want empty", got)
	}
	if provider.CallCount() != 0 {
		t.Error("provider called for empty transcript")
	}
}

func TestSummarise_ProviderError(t *testing.T) {
	provider := &llmmock.Provider{Err: errors.New("rate limited")}
	s, err := New(provider)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := s.Summarise(context.Background(), sampleUtterances()); err == nil {
		t.Error("Summarise did not propagate provider error")
	}
}

func TestSummarise_TrimsWhitespace(t *testing.T) {
	provider := &llmmock.Provider{
		Result: &llm.CompletionResponse{Content: "  A short summary.\n"},
	}
	s, err := New(provider)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := s.Summarise(context.Background(), sampleUtterances())
	if err != nil {
		t.Fatalf("Summarise: %v", err)
	}
	if got != "A short summary." {
		t.Errorf("summary = %q, want trimmed", got)
	}
}
