package resilience

import (
	"context"

	"github.com/MrWong99/talktome/pkg/provider/stt"
)

// STTFailover implements [stt.Provider] with automatic failover across
// multiple transcription backends, each guarded by its own circuit breaker.
//
// Failover applies to opening a session. Once StartStream has returned a
// handle, all audio for that call flows to the backend that opened it;
// mid-session errors surface to the caller unchanged, and the next call picks
// a healthy backend again.
type STTFailover struct {
	group *Failover[stt.Provider]
}

var _ stt.Provider = (*STTFailover)(nil)

// NewSTTFailover creates an [STTFailover] with primary as the preferred
// backend.
func NewSTTFailover(name string, primary stt.Provider, breaker BreakerConfig) *STTFailover {
	return &STTFailover{group: NewFailover(name, primary, breaker)}
}

// AddFallback registers an additional transcription backend.
func (f *STTFailover) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// StartStream opens a session against the first healthy backend.
func (f *STTFailover) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Call(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
