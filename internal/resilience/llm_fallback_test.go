package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/talktome/pkg/provider/llm"
	llmmock "github.com/MrWong99/talktome/pkg/provider/llm/mock"
)

func TestLLMFailover_PrimaryCompletes(t *testing.T) {
	primary := &llmmock.Provider{Result: &llm.CompletionResponse{Content: "from primary"}}
	fallback := &llmmock.Provider{Result: &llm.CompletionResponse{Content: "from fallback"}}
	f := NewLLMFailover("primary", primary, BreakerConfig{})
	f.AddFallback("fallback", fallback)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() = %v, want nil", err)
	}
	if resp.Content != "from primary" {
		t.Fatalf("Complete().Content = %q, want %q", resp.Content, "from primary")
	}
	if fallback.CallCount() != 0 {
		t.Fatalf("fallback CallCount() = %d, want 0", fallback.CallCount())
	}
}

func TestLLMFailover_FallsBackOnError(t *testing.T) {
	primary := &llmmock.Provider{Err: errBackend}
	fallback := &llmmock.Provider{Result: &llm.CompletionResponse{Content: "from fallback"}}
	f := NewLLMFailover("primary", primary, BreakerConfig{})
	f.AddFallback("fallback", fallback)

	req := llm.CompletionRequest{
		Messages:     []llm.Message{{Role: "user", Content: "summarise"}},
		SystemPrompt: "system",
	}
	resp, err := f.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete() = %v, want nil", err)
	}
	if resp.Content != "from fallback" {
		t.Fatalf("Complete().Content = %q, want %q", resp.Content, "from fallback")
	}
	if got := fallback.CompleteCalls[0].SystemPrompt; got != "system" {
		t.Fatalf("fallback received system prompt %q, want %q", got, "system")
	}
}

func TestLLMFailover_AllBackendsDown(t *testing.T) {
	primary := &llmmock.Provider{Err: errBackend}
	f := NewLLMFailover("primary", primary, BreakerConfig{})

	_, err := f.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("Complete() = %v, want wrapped %v", err, ErrAllFailed)
	}
}
