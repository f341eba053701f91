// Package mock provides a test double for the llm.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talktome/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider that records requests
// and returns configurable results.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Complete when Err is nil. Nil Result yields an
	// empty response.
	Result *llm.CompletionResponse
	// Err is returned by every Complete call when set.
	Err error

	CompleteCalls []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, req)
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result != nil {
		return p.Result, nil
	}
	return &llm.CompletionResponse{}, nil
}

// CallCount returns the number of Complete invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}
