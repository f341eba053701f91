// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talktome/pkg/provider/tts"
)

// SynthesizeCall records the arguments of one Synthesize invocation.
type SynthesizeCall struct {
	Text  string
	Voice tts.Voice
}

// Provider is a mock implementation of tts.Provider that records calls
// and returns configurable results.
type Provider struct {
	mu sync.Mutex

	// Result is the PCM returned by Synthesize when Script is empty.
	Result []byte
	// Script, when non-empty, supplies per-call results indexed by call
	// number. Calls past the end of the script fall back to Result.
	Script [][]byte
	// Err is returned by every Synthesize call when set.
	Err error
	// SampleRateResult is returned by SampleRate. Zero means 24000.
	SampleRateResult int

	SynthesizeCalls []SynthesizeCall
}

var _ tts.Provider = (*Provider)(nil)

func (p *Provider) Synthesize(_ context.Context, text string, voice tts.Voice) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.SynthesizeCalls)
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	if p.Err != nil {
		return nil, p.Err
	}
	if n < len(p.Script) {
		return p.Script[n], nil
	}
	return p.Result, nil
}

func (p *Provider) SampleRate() int {
	if p.SampleRateResult != 0 {
		return p.SampleRateResult
	}
	return 24000
}

// CallCount returns the number of Synthesize invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}
