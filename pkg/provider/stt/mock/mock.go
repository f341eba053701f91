// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that sessions are created with the expected
// StreamConfig. Use Session to script the Result values returned by
// successive ProcessChunk calls and inspect the chunks that were submitted.
//
// Example:
//
//	sess := &mock.Session{Script: []stt.Result{
//	    {},
//	    {Text: "hello", Final: true},
//	}}
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talktome/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil,
	// StartStream returns a new default Session.
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream in order.
	StartStreamCalls []StartStreamCall
}

var _ stt.Provider = (*Provider)(nil)

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{}, nil
}

// ProcessChunkCall records a single invocation of Session.ProcessChunk.
type ProcessChunkCall struct {
	// Chunk is a copy of the bytes passed to ProcessChunk.
	Chunk []byte
}

// Session is a mock implementation of stt.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Script supplies the results of successive ProcessChunk calls in order.
	// Once exhausted, the zero Result is returned.
	Script []stt.Result

	// ProcessChunkErr, if non-nil, is returned by every ProcessChunk call.
	ProcessChunkErr error

	// ScriptErrs supplies per-call errors aligned with Script by call index;
	// a nil entry means that call succeeds. Entries past the end are nil.
	// Ignored when ProcessChunkErr is set.
	ScriptErrs []error

	// ProcessDelayFn, when set, is invoked at the start of every ProcessChunk
	// call. Tests use it to block chunk processing and observe single-flight
	// behaviour.
	ProcessDelayFn func(ctx context.Context) error

	// FlushResult is returned by Flush.
	FlushResult stt.Result

	// FlushErr, if non-nil, is returned by Flush.
	FlushErr error

	// CloseErr, if non-nil, is returned by the first Close call.
	CloseErr error

	// ProcessChunkCalls records every call to ProcessChunk in order.
	ProcessChunkCalls []ProcessChunkCall

	// FlushCallCount is the number of times Flush was called.
	FlushCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	closed bool
}

var _ stt.SessionHandle = (*Session)(nil)

// ProcessChunk records the call and returns the next scripted Result.
func (s *Session) ProcessChunk(ctx context.Context, chunk []byte) (stt.Result, error) {
	s.mu.Lock()
	delay := s.ProcessDelayFn
	s.mu.Unlock()
	if delay != nil {
		if err := delay(ctx); err != nil {
			return stt.Result{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.ProcessChunkCalls = append(s.ProcessChunkCalls, ProcessChunkCall{Chunk: cp})
	if s.ProcessChunkErr != nil {
		return stt.Result{}, s.ProcessChunkErr
	}
	n := len(s.ProcessChunkCalls) - 1
	if n < len(s.ScriptErrs) && s.ScriptErrs[n] != nil {
		return stt.Result{}, s.ScriptErrs[n]
	}
	if n < len(s.Script) {
		return s.Script[n], nil
	}
	return stt.Result{}, nil
}

// CallCount returns the number of ProcessChunk invocations so far.
func (s *Session) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ProcessChunkCalls)
}

// Flush records the call and returns FlushResult, FlushErr.
func (s *Session) Flush(_ context.Context) (stt.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FlushCallCount++
	return s.FlushResult, s.FlushErr
}

// Close records the call and returns CloseErr on the first invocation.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.closed {
		return nil
	}
	s.closed = true
	return s.CloseErr
}
