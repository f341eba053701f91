// Package malgo implements [audio.Device] on top of the miniaudio bindings.
// It opens the host's default input and output endpoints and adapts
// miniaudio's pull/push callbacks to the blocking chunk API the call
// orchestrator expects.
package malgo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/talktome/pkg/audio"
)

// Backend wraps a miniaudio context. One Backend serves any number of
// capture and playback streams; each stream owns its own miniaudio device.
type Backend struct {
	ctx    *malgo.AllocatedContext
	logger *slog.Logger
}

var _ audio.Device = (*Backend)(nil)

// Option configures a [Backend].
type Option func(*Backend)

// WithLogger sets the logger used for device diagnostics.
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// New initializes the miniaudio context. Call [Backend.Close] when done.
func New(opts ...Option) (*Backend, error) {
	b := &Backend{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		b.logger.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	b.ctx = ctx
	return b, nil
}

// Close releases the miniaudio context. Streams opened from this Backend must
// be closed first.
func (b *Backend) Close() error {
	if b.ctx == nil {
		return nil
	}
	if err := b.ctx.Uninit(); err != nil {
		return fmt.Errorf("malgo: uninit context: %w", err)
	}
	b.ctx.Free()
	b.ctx = nil
	return nil
}

// OpenCapture implements [audio.Device].
func (b *Backend) OpenCapture(ctx context.Context, format audio.Format) (audio.CaptureStream, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.Alsa.NoMMap = 1

	cs := &captureStream{
		chunkBytes: audio.BytesPerChunk(format),
		chunks:     make(chan []byte, 16),
		logger:     b.logger,
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			cs.onData(input)
		},
	}
	dev, err := malgo.InitDevice(b.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("malgo: init capture device: %w", err)
	}
	cs.dev = dev
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("malgo: start capture device: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = cs.Close()
		return nil, err
	}
	b.logger.Debug("capture device opened", "sampleRate", format.SampleRate, "channels", format.Channels)
	return cs, nil
}

// OpenPlayback implements [audio.Device].
func (b *Backend) OpenPlayback(ctx context.Context, format audio.Format) (audio.PlaybackStream, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.Alsa.NoMMap = 1

	ps := &playbackStream{
		drained: make(chan struct{}, 1),
		logger:  b.logger,
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			ps.onData(output)
		},
	}
	dev, err := malgo.InitDevice(b.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("malgo: init playback device: %w", err)
	}
	ps.dev = dev
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("malgo: start playback device: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = ps.Close()
		return nil, err
	}
	b.logger.Debug("playback device opened", "sampleRate", format.SampleRate, "channels", format.Channels)
	return ps, nil
}

// captureStream adapts miniaudio's data callback to a blocking chunk reader.
// The callback accumulates samples until a full chunk is ready, then hands it
// to the chunks channel. When the channel is full the oldest chunk is dropped
// so the device callback never blocks.
type captureStream struct {
	dev        *malgo.Device
	chunkBytes int
	paused     atomic.Bool

	mu      sync.Mutex
	pending []byte
	closed  bool
	dropped uint64

	chunks chan []byte
	logger *slog.Logger
}

var _ audio.CaptureStream = (*captureStream)(nil)

func (cs *captureStream) onData(input []byte) {
	if cs.paused.Load() {
		return
	}
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return
	}
	cs.pending = append(cs.pending, input...)
	var ready [][]byte
	for len(cs.pending) >= cs.chunkBytes {
		chunk := make([]byte, cs.chunkBytes)
		copy(chunk, cs.pending[:cs.chunkBytes])
		cs.pending = cs.pending[cs.chunkBytes:]
		ready = append(ready, chunk)
	}
	cs.mu.Unlock()

	for _, chunk := range ready {
		select {
		case cs.chunks <- chunk:
		default:
			// Reader is behind. Drop the oldest to keep latency bounded.
			select {
			case <-cs.chunks:
				n := atomic.AddUint64(&cs.dropped, 1)
				if n == 1 || n%100 == 0 {
					cs.logger.Warn("capture reader behind, dropping oldest chunk", "totalDropped", n)
				}
			default:
			}
			select {
			case cs.chunks <- chunk:
			default:
			}
		}
	}
}

// ReadChunk implements [audio.CaptureStream].
func (cs *captureStream) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case chunk, ok := <-cs.chunks:
		if !ok {
			return nil, audio.ErrCaptureClosed
		}
		return chunk, nil
	}
}

// Pause implements [audio.CaptureStream]. Audio arriving while paused is
// discarded, along with any partially accumulated chunk, so stale mic input
// never leaks into the next turn.
func (cs *captureStream) Pause() {
	cs.paused.Store(true)
	cs.mu.Lock()
	cs.pending = cs.pending[:0]
	cs.mu.Unlock()
	for {
		select {
		case <-cs.chunks:
		default:
			return
		}
	}
}

// Resume implements [audio.CaptureStream].
func (cs *captureStream) Resume() {
	cs.paused.Store(false)
}

// Close implements [audio.CaptureStream].
func (cs *captureStream) Close() error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.closed = true
	cs.mu.Unlock()

	// Stop the device before closing the channel so onData cannot send on a
	// closed channel.
	if err := cs.dev.Stop(); err != nil {
		cs.logger.Warn("stop capture device", "error", err)
	}
	cs.dev.Uninit()
	close(cs.chunks)
	return nil
}

// playbackStream adapts miniaudio's pull callback to a blocking chunk writer.
// WriteChunk appends PCM to a pending buffer the callback drains; it returns
// once the buffer has emptied, which is when the chunk has been played.
type playbackStream struct {
	dev *malgo.Device

	mu      sync.Mutex
	pending []byte
	closed  bool

	drained chan struct{}
	logger  *slog.Logger
}

var _ audio.PlaybackStream = (*playbackStream)(nil)

func (ps *playbackStream) onData(output []byte) {
	ps.mu.Lock()
	n := copy(output, ps.pending)
	ps.pending = ps.pending[n:]
	empty := len(ps.pending) == 0
	ps.mu.Unlock()

	// Unconsumed tail of the output buffer stays silent.
	for i := n; i < len(output); i++ {
		output[i] = 0
	}
	if empty {
		select {
		case ps.drained <- struct{}{}:
		default:
		}
	}
}

// WriteChunk implements [audio.PlaybackStream].
func (ps *playbackStream) WriteChunk(ctx context.Context, pcm []byte) error {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return fmt.Errorf("malgo: playback stream closed")
	}
	ps.pending = append(ps.pending, pcm...)
	ps.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			ps.mu.Lock()
			ps.pending = ps.pending[:0]
			ps.mu.Unlock()
			return ctx.Err()
		case <-ps.drained:
			ps.mu.Lock()
			empty := len(ps.pending) == 0
			ps.mu.Unlock()
			if empty {
				return nil
			}
		}
	}
}

// Close implements [audio.PlaybackStream].
func (ps *playbackStream) Close() error {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return nil
	}
	ps.closed = true
	ps.pending = ps.pending[:0]
	ps.mu.Unlock()

	if err := ps.dev.Stop(); err != nil {
		ps.logger.Warn("stop playback device", "error", err)
	}
	ps.dev.Uninit()
	return nil
}
