package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/talktome/pkg/audio"
	"github.com/MrWong99/talktome/pkg/provider/stt"
)

// captureQueueSize bounds how many unprocessed chunks may pile up while a
// transcription request is in flight. At 100 ms per chunk this is ~3 s of audio.
const captureQueueSize = 32

// maxChunkFailures is how many consecutive ProcessChunk failures are tolerated
// before the transcriber is declared dead. A single bad frame must not kill a
// live call.
const maxChunkFailures = 5

// pipeline drives the background capture loop for one call: it reads chunks
// from the capture stream, feeds them one at a time into the STT session, and
// delivers finished user utterances through onFinal.
//
// Exactly one transcription request is in flight at any time. Chunks that
// arrive meanwhile queue up; when the queue is full the oldest chunk is
// dropped so the call tracks the live conversation rather than falling behind.
type pipeline struct {
	stream  audio.CaptureStream
	session stt.SessionHandle
	onFinal func(text string)
	onError func(err error)
	onDrop  func()

	queue    chan []byte
	dropped  int
	failures int

	wg sync.WaitGroup
}

func newPipeline(stream audio.CaptureStream, session stt.SessionHandle, onFinal func(string), onError func(error), onDrop func()) *pipeline {
	return &pipeline{
		stream:  stream,
		session: session,
		onFinal: onFinal,
		onError: onError,
		onDrop:  onDrop,
		queue:   make(chan []byte, captureQueueSize),
	}
}

// start launches the read and process loops. They exit when ctx is cancelled
// or the capture stream closes; stop joins them.
func (p *pipeline) start(ctx context.Context) {
	p.wg.Add(2)
	go p.readLoop(ctx)
	go p.processLoop(ctx)
}

// stop waits until both loops have exited. The caller cancels ctx (or closes
// the capture stream) first.
func (p *pipeline) stop() {
	p.wg.Wait()
}

func (p *pipeline) readLoop(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.queue)

	for {
		chunk, err := p.stream.ReadChunk(ctx)
		if err != nil {
			if !errors.Is(err, audio.ErrCaptureClosed) && !errors.Is(err, context.Canceled) {
				slog.Warn("capture read failed", "err", err)
				if p.onError != nil {
					p.onError(&DeviceUnavailableError{Err: err})
				}
			}
			return
		}
		p.enqueue(chunk)
	}
}

// enqueue adds chunk to the queue, evicting the oldest entry when full.
func (p *pipeline) enqueue(chunk []byte) {
	for {
		select {
		case p.queue <- chunk:
			return
		default:
		}
		select {
		case <-p.queue:
			p.dropped++
			if p.onDrop != nil {
				p.onDrop()
			}
			if p.dropped == 1 || p.dropped%100 == 0 {
				slog.Warn("transcription falling behind, dropping oldest audio", "dropped_total", p.dropped)
			}
		default:
		}
	}
}

func (p *pipeline) processLoop(ctx context.Context) {
	defer p.wg.Done()
	// On an early return the reader is still filling the queue; keep
	// consuming so it does not spin on eviction until teardown closes it.
	defer audio.Drain(p.queue)

	for chunk := range p.queue {
		res, err := p.session.ProcessChunk(ctx, chunk)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			p.failures++
			if p.failures < maxChunkFailures {
				// One bad frame is not worth ending a call over.
				slog.Warn("transcription failed, skipping chunk",
					"err", err, "consecutive", p.failures)
				continue
			}
			slog.Error("transcriber unresponsive, giving up",
				"err", err, "consecutive", p.failures)
			if p.onError != nil {
				p.onError(&ProviderError{Stage: "stt", Err: err})
			}
			return
		}
		p.failures = 0
		if res.Final && res.Text != "" {
			p.onFinal(res.Text)
		}
	}
}
