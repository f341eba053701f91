package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	audiomock "github.com/MrWong99/talktome/pkg/audio/mock"
	"github.com/MrWong99/talktome/pkg/provider/stt"
	sttmock "github.com/MrWong99/talktome/pkg/provider/stt/mock"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func TestPipeline_DeliversFinalUtterances(t *testing.T) {
	t.Parallel()

	cs := &audiomock.CaptureStream{}
	sess := &sttmock.Session{Script: []stt.Result{
		{},
		{Text: "partial", Final: false},
		{Text: "hello there", Final: true},
	}}

	var mu sync.Mutex
	var finals []string
	p := newPipeline(cs, sess, func(text string) {
		mu.Lock()
		finals = append(finals, text)
		mu.Unlock()
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.start(ctx)

	cs.QueueChunk([]byte{1})
	cs.QueueChunk([]byte{2})
	cs.QueueChunk([]byte{3})

	waitFor(t, func() bool { return sess.CallCount() == 3 }, "all chunks processed")

	_ = cs.Close()
	p.stop()

	mu.Lock()
	defer mu.Unlock()
	if len(finals) != 1 || finals[0] != "hello there" {
		t.Errorf("finals = %v, want only the final utterance", finals)
	}
}

func TestPipeline_SingleFlightAndDropOldest(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var inFlight, maxObserved atomic.Int32
	sess := &sttmock.Session{
		ProcessDelayFn: func(ctx context.Context) error {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			if n > maxObserved.Load() {
				maxObserved.Store(n)
			}
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}

	cs := &audiomock.CaptureStream{}
	var dropped atomic.Int32
	p := newPipeline(cs, sess, func(string) {}, nil, func() { dropped.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.start(ctx)

	// One chunk goes in flight, captureQueueSize queue up, the rest evict
	// the oldest entries.
	extra := 10
	for i := 0; i < 1+captureQueueSize+extra; i++ {
		cs.QueueChunk([]byte{byte(i)})
	}

	waitFor(t, func() bool { return int(dropped.Load()) == extra }, "oldest chunks dropped")

	close(release)
	waitFor(t, func() bool { return sess.CallCount() == 1+captureQueueSize }, "backlog processed")

	_ = cs.Close()
	p.stop()

	if got := maxObserved.Load(); got != 1 {
		t.Errorf("observed %d concurrent transcription requests, want 1", got)
	}
}

func TestPipeline_PersistentErrorSurfaces(t *testing.T) {
	t.Parallel()

	sess := &sttmock.Session{ProcessChunkErr: errors.New("backend gone")}
	cs := &audiomock.CaptureStream{}

	var mu sync.Mutex
	var got error
	p := newPipeline(cs, sess, func(string) {}, func(err error) {
		mu.Lock()
		got = err
		mu.Unlock()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.start(ctx)

	for i := 0; i < maxChunkFailures; i++ {
		cs.QueueChunk([]byte{byte(i)})
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, "error delivered")

	_ = cs.Close()
	p.stop()

	mu.Lock()
	defer mu.Unlock()
	var provErr *ProviderError
	if !errors.As(got, &provErr) || provErr.Stage != "stt" {
		t.Errorf("expected stt ProviderError, got %v", got)
	}
	if sess.CallCount() != maxChunkFailures {
		t.Errorf("ProcessChunk calls = %d, want %d", sess.CallCount(), maxChunkFailures)
	}
}

func TestPipeline_TransientErrorSkipsChunk(t *testing.T) {
	t.Parallel()

	sess := &sttmock.Session{
		ScriptErrs: []error{errors.New("transient glitch"), nil},
		Script: []stt.Result{
			{},
			{Text: "hello", Final: true},
		},
	}
	cs := &audiomock.CaptureStream{}

	var mu sync.Mutex
	var finals []string
	var fatal error
	p := newPipeline(cs, sess, func(text string) {
		mu.Lock()
		finals = append(finals, text)
		mu.Unlock()
	}, func(err error) {
		mu.Lock()
		fatal = err
		mu.Unlock()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.start(ctx)

	cs.QueueChunk([]byte{1})
	cs.QueueChunk([]byte{2})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(finals) > 0
	}, "utterance delivered after glitch")

	_ = cs.Close()
	p.stop()

	mu.Lock()
	defer mu.Unlock()
	if fatal != nil {
		t.Errorf("one bad chunk escalated to a fatal error: %v", fatal)
	}
	if len(finals) != 1 || finals[0] != "hello" {
		t.Errorf("finals = %v, want [hello]", finals)
	}
}
