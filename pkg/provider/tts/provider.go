// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., a local Piper
// server, ElevenLabs, or the OpenAI speech API) and presents a uniform batch
// interface: one call synthesises one piece of text into raw PCM. Callers
// that want low first-audio latency split their text into sentences and
// synthesise them one at a time while earlier sentences play.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text into raw little-endian int16 mono PCM at
	// [Provider.SampleRate]. voice selects the voice and speaking rate;
	// a zero Voice uses the provider defaults.
	//
	// Returns an error if the backend cannot be reached, rejects the request,
	// or ctx is cancelled first.
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)

	// SampleRate returns the sample rate in Hz of the PCM that Synthesize
	// produces. Constant for the lifetime of the provider.
	SampleRate() int
}
