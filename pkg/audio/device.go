// Package audio defines the interfaces and types for local audio device access
// and stream management within talktome.
//
// The two primary abstractions are:
//
//   - [Device] — opens the machine's microphone and speakers.
//   - [CaptureStream] / [PlaybackStream] — the active streams on those
//     endpoints, delivering and accepting PCM chunks.
//
// Implementations are provided by backend-specific adapter packages (e.g.
// audio/malgo). The interfaces are intentionally narrow to keep the call
// orchestrator decoupled from audio backend details.
//
// This package lives under pkg/ because external code (alternative device
// backends) is expected to implement [Device].
package audio

import (
	"context"
	"errors"
)

// ErrCaptureClosed is returned by [CaptureStream.ReadChunk] once the stream
// has been closed and all buffered chunks have been drained.
var ErrCaptureClosed = errors.New("audio: capture stream closed")

// Device is the entry point for an audio backend. Implementations wrap a
// host audio API (miniaudio, ALSA, …) and expose uniform stream abstractions.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// OpenCapture starts recording from the default input device in the given
	// format. The supplied ctx governs the lifetime of the open attempt only;
	// once opened, the stream remains alive until [CaptureStream.Close].
	//
	// Returns an error if no input device is available or the host audio
	// system rejects the format.
	OpenCapture(ctx context.Context, format Format) (CaptureStream, error)

	// OpenPlayback opens the default output device in the given format.
	OpenPlayback(ctx context.Context, format Format) (PlaybackStream, error)
}

// CaptureStream is an active recording session on the input device.
//
// Implementations must be safe for concurrent use: ReadChunk is called from
// the capture loop goroutine while Pause, Resume, and Close may be called
// from operation goroutines.
type CaptureStream interface {
	// ReadChunk blocks until roughly [ChunkDuration] of audio has been
	// captured and returns it as little-endian int16 PCM. Returns ctx.Err()
	// if the context is cancelled first, and [ErrCaptureClosed] once the
	// stream is closed.
	ReadChunk(ctx context.Context) ([]byte, error)

	// Pause stops delivering audio without releasing the device. Chunks
	// captured while paused are discarded. Pausing an already paused stream
	// is a no-op.
	Pause()

	// Resume restarts delivery after [CaptureStream.Pause]. Resuming a
	// running stream is a no-op.
	Resume()

	// Close releases the input device. Safe to call more than once;
	// subsequent calls are no-ops and return nil.
	Close() error
}

// PlaybackStream is an active output session on the speakers.
type PlaybackStream interface {
	// WriteChunk queues PCM for playback and returns once the chunk has been
	// fully played, or earlier with ctx.Err() if the context is cancelled.
	// Cancellation stops playback of the remaining samples.
	WriteChunk(ctx context.Context, pcm []byte) error

	// Close releases the output device after draining queued audio. Safe to
	// call more than once.
	Close() error
}
