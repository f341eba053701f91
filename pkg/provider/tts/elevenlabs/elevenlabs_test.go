package elevenlabs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/talktome/pkg/provider/tts"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/text-to-speech/voice-7") {
			t.Errorf("path = %q, want voice-7 endpoint", r.URL.Path)
		}
		if got := r.URL.Query().Get("output_format"); got != "pcm_24000" {
			t.Errorf("output_format = %q, want pcm_24000", got)
		}
		if got := r.Header.Get("xi-api-key"); got != "test-key" {
			t.Errorf("xi-api-key = %q, want test-key", got)
		}
		var body speechRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Text != "Ship it." {
			t.Errorf("text = %q, want %q", body.Text, "Ship it.")
		}
		if body.ModelID != "eleven_flash_v2_5" {
			t.Errorf("model_id = %q", body.ModelID)
		}
		if body.VoiceSettings == nil || body.VoiceSettings.Speed != 1.2 {
			t.Errorf("voice_settings = %+v, want speed 1.2", body.VoiceSettings)
		}
		_, _ = w.Write(pcm)
	}))
	defer srv.Close()

	p, err := New("test-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.SampleRate(); got != 24000 {
		t.Errorf("SampleRate = %d, want 24000", got)
	}

	got, err := p.Synthesize(context.Background(), "Ship it.", tts.Voice{ID: "voice-7", Speed: 1.2})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(got) != string(pcm) {
		t.Errorf("pcm = %v, want %v", got, pcm)
	}
}

func TestSynthesizeDefaultVoice(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/custom-default") {
			t.Errorf("path = %q, want custom-default voice", r.URL.Path)
		}
		_, _ = w.Write([]byte{0})
	}))
	defer srv.Close()

	p, err := New("k", WithBaseURL(srv.URL), WithVoiceID("custom-default"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "hi", tts.Voice{}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
}

func TestSynthesizeErrors(t *testing.T) {
	t.Parallel()

	t.Run("empty text", func(t *testing.T) {
		t.Parallel()
		p, _ := New("k")
		if _, err := p.Synthesize(context.Background(), "", tts.Voice{}); err == nil {
			t.Error("expected error for empty text")
		}
	})

	t.Run("error status", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		}))
		defer srv.Close()
		p, _ := New("k", WithBaseURL(srv.URL))
		if _, err := p.Synthesize(context.Background(), "hi", tts.Voice{}); err == nil {
			t.Error("expected error for 429 response")
		}
	})
}
