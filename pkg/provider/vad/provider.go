// Package vad defines the Engine interface for voice activity detection
// backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session maintains its own internal state
// (speech flag, accumulated trailing silence) so that multiple concurrent
// audio streams can be processed independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// detection result, making it suitable for low-latency pipeline stages that
// segment STT input into utterances.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "time"

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame.
	SampleRate int

	// Channels is the number of audio channels in each frame.
	Channels int

	// SpeechThreshold is the RMS energy (in 16-bit PCM units, 0–32767) at or
	// above which a frame is classified as speech. Typical: 500.
	SpeechThreshold float64

	// SilenceDuration is how much consecutive below-threshold audio after
	// speech ends the utterance. Typical: 800 ms.
	SilenceDuration time.Duration
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations
// without a live engine. Each session maintains its own detection state;
// Reset clears this state without closing the session.
//
// A SessionHandle should not be shared between goroutines unless the
// implementation explicitly guarantees concurrent safety.
type SessionHandle interface {
	// ProcessFrame analyses a single frame of little-endian int16 PCM and
	// returns the detection result. Returns an error if the frame is
	// malformed or the engine encounters an internal failure.
	//
	// This method is designed to be called synchronously in the audio
	// pipeline loop; it must not block.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears all accumulated detection state without closing the
	// session. Use this when the audio stream is interrupted or restarted so
	// stale state from the previous segment cannot affect subsequent frames.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame must return an error. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The
	// session is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid (e.g., non-positive
	// sample rate or threshold out of range).
	NewSession(cfg Config) (SessionHandle, error)
}
