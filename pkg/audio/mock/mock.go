// Package mock provides in-memory mock implementations of the [audio.Device],
// [audio.CaptureStream], and [audio.PlaybackStream] interfaces for use in
// unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	capture := &mock.CaptureStream{}
//	capture.QueueChunk([]byte{0x01, 0x02})
//	device := &mock.Device{CaptureResult: capture}
//	stream, err := device.OpenCapture(ctx, audio.CaptureFormat)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talktome/pkg/audio"
)

// Device is a mock implementation of [audio.Device].
// Set the exported Result/Error fields before use; inspect the Call* fields
// after.
type Device struct {
	mu sync.Mutex

	// CaptureResult is returned by [Device.OpenCapture].
	// Defaults to a fresh empty [CaptureStream] if left nil.
	CaptureResult *CaptureStream

	// CaptureError is returned by [Device.OpenCapture].
	CaptureError error

	// PlaybackResult is returned by [Device.OpenPlayback].
	// Defaults to a fresh [PlaybackStream] if left nil.
	PlaybackResult *PlaybackStream

	// PlaybackError is returned by [Device.OpenPlayback].
	PlaybackError error

	// OpenCaptureCalls records the format of every OpenCapture invocation.
	OpenCaptureCalls []audio.Format

	// OpenPlaybackCalls records the format of every OpenPlayback invocation.
	OpenPlaybackCalls []audio.Format
}

var _ audio.Device = (*Device)(nil)

// OpenCapture implements [audio.Device].
func (d *Device) OpenCapture(_ context.Context, format audio.Format) (audio.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCaptureCalls = append(d.OpenCaptureCalls, format)
	if d.CaptureError != nil {
		return nil, d.CaptureError
	}
	if d.CaptureResult == nil {
		d.CaptureResult = &CaptureStream{}
	}
	return d.CaptureResult, nil
}

// OpenPlayback implements [audio.Device].
func (d *Device) OpenPlayback(_ context.Context, format audio.Format) (audio.PlaybackStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenPlaybackCalls = append(d.OpenPlaybackCalls, format)
	if d.PlaybackError != nil {
		return nil, d.PlaybackError
	}
	if d.PlaybackResult == nil {
		d.PlaybackResult = &PlaybackStream{}
	}
	return d.PlaybackResult, nil
}

// CaptureStream is a mock implementation of [audio.CaptureStream].
// Feed chunks with [CaptureStream.QueueChunk]; ReadChunk delivers them in
// order and then blocks until more arrive or the stream is closed.
type CaptureStream struct {
	mu     sync.Mutex
	chunks chan []byte
	closed bool

	// ReadError, when set, is returned by every ReadChunk call.
	ReadError error

	// CallCountPause records how many times Pause was called.
	CallCountPause int

	// CallCountResume records how many times Resume was called.
	CallCountResume int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// CloseError is returned by the first Close call.
	CloseError error
}

var _ audio.CaptureStream = (*CaptureStream)(nil)

func (cs *CaptureStream) init() {
	if cs.chunks == nil {
		cs.chunks = make(chan []byte, 256)
	}
}

// QueueChunk makes pcm available to a future ReadChunk call.
func (cs *CaptureStream) QueueChunk(pcm []byte) {
	cs.mu.Lock()
	cs.init()
	closed := cs.closed
	cs.mu.Unlock()
	if closed {
		return
	}
	cs.chunks <- pcm
}

// ReadChunk implements [audio.CaptureStream].
func (cs *CaptureStream) ReadChunk(ctx context.Context) ([]byte, error) {
	cs.mu.Lock()
	cs.init()
	if cs.ReadError != nil {
		err := cs.ReadError
		cs.mu.Unlock()
		return nil, err
	}
	ch := cs.chunks
	cs.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return nil, audio.ErrCaptureClosed
		}
		return chunk, nil
	}
}

// Pause implements [audio.CaptureStream].
func (cs *CaptureStream) Pause() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.CallCountPause++
}

// Resume implements [audio.CaptureStream].
func (cs *CaptureStream) Resume() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.CallCountResume++
}

// Close implements [audio.CaptureStream]. The first call closes the chunk
// channel so pending ReadChunk calls return [audio.ErrCaptureClosed].
func (cs *CaptureStream) Close() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.CallCountClose++
	if cs.closed {
		return nil
	}
	cs.init()
	cs.closed = true
	close(cs.chunks)
	return cs.CloseError
}

// Paused reports whether the stream currently has more Pause than Resume
// calls recorded.
func (cs *CaptureStream) Paused() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.CallCountPause > cs.CallCountResume
}

// PlaybackStream is a mock implementation of [audio.PlaybackStream].
// Every written chunk is appended to Written.
type PlaybackStream struct {
	mu sync.Mutex

	// WriteError, when set, is returned by every WriteChunk call.
	WriteError error

	// Written records every chunk passed to WriteChunk, in order.
	Written [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// CloseError is returned by the first Close call.
	CloseError error

	closed bool
}

var _ audio.PlaybackStream = (*PlaybackStream)(nil)

// WriteChunk implements [audio.PlaybackStream].
func (ps *PlaybackStream) WriteChunk(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.WriteError != nil {
		return ps.WriteError
	}
	chunk := make([]byte, len(pcm))
	copy(chunk, pcm)
	ps.Written = append(ps.Written, chunk)
	return nil
}

// Close implements [audio.PlaybackStream].
func (ps *PlaybackStream) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.CallCountClose++
	if ps.closed {
		return nil
	}
	ps.closed = true
	return ps.CloseError
}
