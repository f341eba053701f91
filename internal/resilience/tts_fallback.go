package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/talktome/pkg/provider/tts"
)

// TTSFailover implements [tts.Provider] with automatic failover across
// multiple synthesis backends, each guarded by its own circuit breaker.
//
// Playback streams are opened at a fixed sample rate for the lifetime of a
// call, so every backend in the group must synthesise at the primary's rate.
// AddFallback rejects backends that do not.
type TTSFailover struct {
	group      *Failover[tts.Provider]
	sampleRate int
}

var _ tts.Provider = (*TTSFailover)(nil)

// NewTTSFailover creates a [TTSFailover] with primary as the preferred
// backend. The group's sample rate is fixed to the primary's.
func NewTTSFailover(name string, primary tts.Provider, breaker BreakerConfig) *TTSFailover {
	return &TTSFailover{
		group:      NewFailover(name, primary, breaker),
		sampleRate: primary.SampleRate(),
	}
}

// AddFallback registers an additional synthesis backend. Returns an error if
// the backend's sample rate differs from the primary's.
func (f *TTSFailover) AddFallback(name string, provider tts.Provider) error {
	if got := provider.SampleRate(); got != f.sampleRate {
		return fmt.Errorf("resilience: tts fallback %q synthesises at %d Hz, primary uses %d Hz", name, got, f.sampleRate)
	}
	f.group.AddFallback(name, provider)
	return nil
}

// Synthesize renders text with the first healthy backend.
func (f *TTSFailover) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	return Call(f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// SampleRate returns the sample rate shared by all backends in the group.
func (f *TTSFailover) SampleRate() int {
	return f.sampleRate
}
