package whisper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/talktome/pkg/provider/stt"
	"github.com/MrWong99/talktome/pkg/provider/vad"
	vadmock "github.com/MrWong99/talktome/pkg/provider/vad/mock"
)

// inferenceServer returns an httptest server that answers every /inference
// POST with the given text and counts requests.
func inferenceServer(t *testing.T, text string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("unexpected path %q", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %q", r.Method)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file field: %v", err)
		}
		if hits != nil {
			hits.Add(1)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("expected error for empty server URL")
	}
}

func TestProcessChunkSegmentsUtterance(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := inferenceServer(t, " hello there ", &hits)

	vadSess := &vadmock.Session{Script: []vad.Event{
		{Type: vad.Silence},
		{Type: vad.SpeechStart, Energy: 900},
		{Type: vad.SpeechContinue, Energy: 850},
		{Type: vad.SpeechEnd},
	}}
	p, err := New(srv.URL, WithVAD(&vadmock.Engine{Session: vadSess}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	handle, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer handle.Close()

	chunk := make([]byte, 3200)

	// Leading silence and in-progress speech produce no result.
	for i := 0; i < 3; i++ {
		res, err := handle.ProcessChunk(context.Background(), chunk)
		if err != nil {
			t.Fatalf("ProcessChunk %d: %v", i, err)
		}
		if res.Final {
			t.Fatalf("chunk %d: unexpected final result %+v", i, res)
		}
	}
	if hits.Load() != 0 {
		t.Fatalf("inference called before utterance end")
	}

	// Speech end triggers one inference.
	res, err := handle.ProcessChunk(context.Background(), chunk)
	if err != nil {
		t.Fatalf("ProcessChunk final: %v", err)
	}
	if !res.Final || res.Text != "hello there" {
		t.Errorf("result = %+v, want final %q", res, "hello there")
	}
	if hits.Load() != 1 {
		t.Errorf("inference hits = %d, want 1", hits.Load())
	}
}

func TestFlushTranscribesBufferedSpeech(t *testing.T) {
	t.Parallel()

	srv := inferenceServer(t, "partial words", nil)
	vadSess := &vadmock.Session{EventResult: vad.Event{Type: vad.SpeechContinue, Energy: 900}}
	p, err := New(srv.URL, WithVAD(&vadmock.Engine{Session: vadSess}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	handle, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer handle.Close()

	if _, err := handle.ProcessChunk(context.Background(), make([]byte, 3200)); err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	res, err := handle.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !res.Final || res.Text != "partial words" {
		t.Errorf("Flush result = %+v, want final %q", res, "partial words")
	}

	// Nothing buffered now; a second flush is a no-op.
	res, err = handle.Flush(context.Background())
	if err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if res.Final {
		t.Errorf("second Flush returned %+v, want zero result", res)
	}
}

func TestFlushWithoutSpeechIsNoop(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := inferenceServer(t, "never", &hits)
	vadSess := &vadmock.Session{EventResult: vad.Event{Type: vad.Silence}}
	p, err := New(srv.URL, WithVAD(&vadmock.Engine{Session: vadSess}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	handle, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer handle.Close()

	if _, err := handle.ProcessChunk(context.Background(), make([]byte, 3200)); err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	if _, err := handle.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("inference hits = %d, want 0", hits.Load())
	}
}

func TestForcedFlushAtMaxBuffer(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := inferenceServer(t, "long monologue", &hits)
	vadSess := &vadmock.Session{EventResult: vad.Event{Type: vad.SpeechContinue, Energy: 900}}
	p, err := New(srv.URL,
		WithVAD(&vadmock.Engine{Session: vadSess}),
		WithMaxBufferDuration(200*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	handle, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer handle.Close()

	// 100 ms chunks at 16 kHz mono: the second chunk crosses the 200 ms cap.
	chunk := make([]byte, 3200)
	res, err := handle.ProcessChunk(context.Background(), chunk)
	if err != nil || res.Final {
		t.Fatalf("first chunk: res=%+v err=%v", res, err)
	}
	res, err = handle.ProcessChunk(context.Background(), chunk)
	if err != nil {
		t.Fatalf("second chunk: %v", err)
	}
	if !res.Final || res.Text != "long monologue" {
		t.Errorf("result = %+v, want forced final", res)
	}
}

func TestSessionClosed(t *testing.T) {
	t.Parallel()

	srv := inferenceServer(t, "x", nil)
	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	handle, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := handle.ProcessChunk(context.Background(), make([]byte, 320)); err == nil {
		t.Error("expected error from ProcessChunk after Close")
	}
	if _, err := handle.Flush(context.Background()); err == nil {
		t.Error("expected error from Flush after Close")
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 1600)
	wav := encodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if string(wav[36:40]) != "data" {
		t.Error("missing data marker")
	}
}
