// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a transcription engine (a local whisper.cpp model or
// server, or a realtime cloud API) and exposes a uniform chunk-oriented
// interface. The central abstraction is SessionHandle: once opened, a session
// accepts raw PCM audio chunks one at a time and reports a final Result when
// it has segmented and transcribed a complete utterance.
//
// The chunk API is deliberately synchronous. The call orchestrator processes
// at most one chunk at a time per call, so a blocking ProcessChunk keeps the
// single-flight invariant visible in the type system instead of hiding it
// behind channels.
package stt

import (
	"context"
	"time"
)

// StreamConfig describes the audio format and recognition hints for a new
// STT session. All fields must be compatible with what the underlying
// provider supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Common value: 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// STT providers). Implementors may downmix internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en",
	// "de-DE"). An empty string lets the provider auto-detect, if supported.
	Language string

	// SilenceDuration is how much trailing silence ends an utterance.
	// Zero selects the provider default.
	SilenceDuration time.Duration

	// Vocabulary lists words likely to occur that generic models tend to
	// miss, such as project names. Providers forward these as recognition
	// hints where the backend supports it and ignore them otherwise.
	Vocabulary []string
}

// SessionHandle represents an open STT session. It is an interface so that
// test code can provide mock implementations without a live backend.
//
// A session is driven by a single goroutine: ProcessChunk and Flush must not
// be called concurrently. Close may be called from any goroutine and must be
// safe to call more than once.
type SessionHandle interface {
	// ProcessChunk delivers one chunk of raw little-endian int16 PCM matching
	// the StreamConfig format. If the chunk completes an utterance the
	// returned Result has Final set and Text holding the transcription;
	// otherwise a zero Result is returned. Blocks while transcription of a
	// completed utterance is in flight.
	ProcessChunk(ctx context.Context, chunk []byte) (Result, error)

	// Flush forces transcription of any buffered speech without waiting for
	// trailing silence. Returns a zero Result if nothing was buffered.
	Flush(ctx context.Context) (Result, error)

	// Close terminates the session and releases all associated resources.
	// Buffered audio is discarded; call Flush first to keep it.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously.
type Provider interface {
	// StartStream opens a new transcription session with the given audio
	// format and recognition configuration. The returned SessionHandle is
	// ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
