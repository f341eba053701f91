package energy

import (
	"testing"
	"time"

	"github.com/MrWong99/talktome/pkg/provider/vad"
)

// loudFrame returns ms milliseconds of 16 kHz mono PCM with a constant
// amplitude well above the default speech threshold.
func loudFrame(ms int) []byte {
	samples := 16000 * ms / 1000
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		// 8000 amplitude, alternating sign so the signal is not DC.
		v := int16(8000)
		if i%2 == 1 {
			v = -8000
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// quietFrame returns ms milliseconds of silence.
func quietFrame(ms int) []byte {
	samples := 16000 * ms / 1000
	return make([]byte, samples*2)
}

func newTestSession(t *testing.T, silence time.Duration) vad.SessionHandle {
	t.Helper()
	s, err := New().NewSession(vad.Config{
		SampleRate:      16000,
		Channels:        1,
		SilenceDuration: silence,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func mustProcess(t *testing.T, s vad.SessionHandle, frame []byte) vad.Event {
	t.Helper()
	ev, err := s.ProcessFrame(frame)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	return ev
}

func TestNewSessionValidation(t *testing.T) {
	t.Parallel()

	eng := New()
	if _, err := eng.NewSession(vad.Config{SampleRate: 0}); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := eng.NewSession(vad.Config{SampleRate: 16000, SpeechThreshold: -1}); err == nil {
		t.Error("expected error for negative threshold")
	}
}

func TestUtteranceSegmentation(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, 300*time.Millisecond)

	if ev := mustProcess(t, s, quietFrame(100)); ev.Type != vad.Silence {
		t.Fatalf("leading quiet frame = %v, want Silence", ev.Type)
	}
	if ev := mustProcess(t, s, loudFrame(100)); ev.Type != vad.SpeechStart {
		t.Fatalf("first loud frame = %v, want SpeechStart", ev.Type)
	}
	if ev := mustProcess(t, s, loudFrame(100)); ev.Type != vad.SpeechContinue {
		t.Fatalf("second loud frame = %v, want SpeechContinue", ev.Type)
	}
	// 200 ms of quiet is below the 300 ms cutoff: still inside the utterance.
	if ev := mustProcess(t, s, quietFrame(200)); ev.Type != vad.SpeechContinue {
		t.Fatalf("short pause = %v, want SpeechContinue", ev.Type)
	}
	// Another 100 ms crosses the cutoff.
	if ev := mustProcess(t, s, quietFrame(100)); ev.Type != vad.SpeechEnd {
		t.Fatalf("silence past cutoff = %v, want SpeechEnd", ev.Type)
	}
	// Back to idle.
	if ev := mustProcess(t, s, quietFrame(100)); ev.Type != vad.Silence {
		t.Fatalf("post-utterance quiet = %v, want Silence", ev.Type)
	}
}

func TestSpeechResetsSilenceAccumulation(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, 300*time.Millisecond)

	mustProcess(t, s, loudFrame(100))
	mustProcess(t, s, quietFrame(200))
	// Speech resumes before the cutoff; the silence counter must restart.
	if ev := mustProcess(t, s, loudFrame(100)); ev.Type != vad.SpeechContinue {
		t.Fatalf("resumed speech = %v, want SpeechContinue", ev.Type)
	}
	if ev := mustProcess(t, s, quietFrame(200)); ev.Type != vad.SpeechContinue {
		t.Fatalf("fresh pause = %v, want SpeechContinue", ev.Type)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, 300*time.Millisecond)
	mustProcess(t, s, loudFrame(100))
	s.Reset()
	if ev := mustProcess(t, s, quietFrame(100)); ev.Type != vad.Silence {
		t.Fatalf("quiet after Reset = %v, want Silence", ev.Type)
	}
}

func TestClosedSession(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, 300*time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.ProcessFrame(quietFrame(10)); err == nil {
		t.Error("expected error from ProcessFrame after Close")
	}
}

func TestMisalignedFrame(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, 300*time.Millisecond)
	if _, err := s.ProcessFrame([]byte{0x01}); err == nil {
		t.Error("expected error for odd-length frame")
	}
}
