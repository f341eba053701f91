package resilience

import (
	"context"

	"github.com/MrWong99/talktome/pkg/provider/llm"
)

// LLMFailover implements [llm.Provider] with automatic failover across
// multiple completion backends, each guarded by its own circuit breaker.
type LLMFailover struct {
	group *Failover[llm.Provider]
}

var _ llm.Provider = (*LLMFailover)(nil)

// NewLLMFailover creates an [LLMFailover] with primary as the preferred
// backend.
func NewLLMFailover(name string, primary llm.Provider, breaker BreakerConfig) *LLMFailover {
	return &LLMFailover{group: NewFailover(name, primary, breaker)}
}

// AddFallback registers an additional completion backend.
func (f *LLMFailover) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy backend.
func (f *LLMFailover) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}
