// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/talktome/pkg/provider/stt"
	"github.com/MrWong99/talktome/pkg/provider/vad"
	"github.com/MrWong99/talktome/pkg/provider/vad/energy"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once at
// startup and shared across all sessions.
type NativeProvider struct {
	model             whisperlib.Model
	language          string
	silenceDuration   time.Duration
	maxBufferDuration time.Duration
	vadEngine         vad.Engine
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSilenceDuration sets the consecutive-silence duration that ends
// an utterance and triggers inference. Defaults to 800 ms.
func WithNativeSilenceDuration(d time.Duration) NativeOption {
	return func(p *NativeProvider) { p.silenceDuration = d }
}

// WithNativeMaxBufferDuration sets the maximum buffered audio duration before
// a forced flush. Defaults to 10 s.
func WithNativeMaxBufferDuration(d time.Duration) NativeOption {
	return func(p *NativeProvider) { p.maxBufferDuration = d }
}

// WithNativeVAD sets the voice activity detector used to segment utterances.
// Defaults to the energy engine.
func WithNativeVAD(engine vad.Engine) NativeOption {
	return func(p *NativeProvider) { p.vadEngine = engine }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The model is loaded once and shared across all
// concurrent sessions. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:             model,
		language:          defaultLanguage,
		silenceDuration:   defaultSilenceDuration,
		maxBufferDuration: defaultMaxBufferDuration,
		vadEngine:         energy.New(),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed; sessions opened from this provider become unusable.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream implements stt.Provider. Each inference creates its own
// whisper.cpp context from the shared model, so multiple sessions can run
// concurrently without interference.
func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	s, err := newSession(cfg, p.vadEngine, p.silenceDuration, p.maxBufferDuration)
	if err != nil {
		return nil, err
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	channels := s.channels
	s.infer = func(_ context.Context, pcm []byte) (string, error) {
		return p.infer(pcm, lang, channels)
	}
	return s, nil
}

// infer converts the buffered PCM audio to float32, runs whisper.cpp
// inference using a fresh context, and returns the concatenated text.
func (p *NativeProvider) infer(pcm []byte, language string, channels int) (string, error) {
	samples := pcmToFloat32(pcm, channels)

	// Each whisper context is NOT thread-safe, but the model can be shared
	// across goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}
