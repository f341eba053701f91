// Package whisper provides whisper.cpp-backed STT providers.
//
// Two variants are available:
//
//   - [Provider] connects to a running whisper-server binary (which exposes a
//     REST API at POST /inference) over HTTP.
//   - [NativeProvider] loads a model directly through the whisper.cpp CGO
//     bindings, eliminating the HTTP hop.
//
// whisper.cpp is a batch (non-streaming) transcription engine, so both
// variants buffer incoming PCM, segment utterances with a voice activity
// detector, and transcribe each completed utterance in one inference call.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	    whisper.WithSilenceDuration(800*time.Millisecond),
//	)
//	handle, err := p.StartStream(ctx, cfg)
//	res, err := handle.ProcessChunk(ctx, pcmChunk)
//	if res.Final { ... }
//	handle.Close()
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/talktome/pkg/provider/stt"
	"github.com/MrWong99/talktome/pkg/provider/vad"
	"github.com/MrWong99/talktome/pkg/provider/vad/energy"
)

const (
	// bitsPerSample is fixed at 16 for the 16-bit signed little-endian PCM
	// audio that whisper.cpp expects.
	bitsPerSample = 16

	defaultLanguage        = "en"
	defaultSampleRate      = 16000
	defaultSilenceDuration = 800 * time.Millisecond

	// defaultMaxBufferDuration caps how much continuous speech may accumulate
	// before a flush is forced, preventing unbounded memory growth.
	defaultMaxBufferDuration = 10 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with — this is the default.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilenceDuration sets the consecutive-silence duration that ends an
// utterance and triggers transcription. Shorter values produce more
// responsive transcription at the cost of potentially splitting utterances.
// Defaults to 800 ms.
func WithSilenceDuration(d time.Duration) Option {
	return func(p *Provider) { p.silenceDuration = d }
}

// WithMaxBufferDuration sets the maximum duration of audio that may
// accumulate before a flush is forced regardless of silence. Defaults to 10 s.
func WithMaxBufferDuration(d time.Duration) Option {
	return func(p *Provider) { p.maxBufferDuration = d }
}

// WithVAD sets the voice activity detector used to segment utterances.
// Defaults to the energy engine.
func WithVAD(engine vad.Engine) Option {
	return func(p *Provider) { p.vadEngine = engine }
}

// WithHTTPClient replaces the HTTP client, e.g. to adjust timeouts in tests.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) { p.httpClient = client }
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
// Multiple sessions may be open simultaneously; each session maintains its
// own audio buffer and VAD state.
type Provider struct {
	serverURL         string
	model             string
	language          string
	silenceDuration   time.Duration
	maxBufferDuration time.Duration
	vadEngine         vad.Engine
	httpClient        *http.Client
}

// New creates a Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:         strings.TrimRight(serverURL, "/"),
		language:          defaultLanguage,
		silenceDuration:   defaultSilenceDuration,
		maxBufferDuration: defaultMaxBufferDuration,
		vadEngine:         energy.New(),
		httpClient:        &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream implements stt.Provider. Zero/empty fields in cfg fall back to
// the provider-level defaults. No network connection is established until the
// first completed utterance is transcribed.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
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
	s.infer = func(ctx context.Context, pcm []byte) (string, error) {
		return p.infer(ctx, pcm, lang, s.sampleRate, s.channels, cfg.Vocabulary)
	}
	return s, nil
}

// infer encodes pcm as a WAV file and POSTs it to the whisper.cpp /inference
// endpoint as multipart/form-data. Vocabulary hints are forwarded as the
// initial prompt. Returns the transcribed text or an error.
func (p *Provider) infer(ctx context.Context, pcm []byte, language string, sampleRate, channels int, vocabulary []string) (string, error) {
	wav := encodeWAV(pcm, sampleRate, channels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if len(vocabulary) > 0 {
		if err := mw.WriteField("prompt", strings.Join(vocabulary, ", ")); err != nil {
			return "", fmt.Errorf("whisper: write prompt field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// ---- session ----------------------------------------------------------------

// session segments incoming PCM into utterances with a VAD and hands each
// completed utterance to the infer callback. Both the HTTP and the native
// provider use this type; only infer differs.
//
// ProcessChunk and Flush are driven by a single goroutine; only Close is
// guarded for cross-goroutine use.
type session struct {
	sampleRate int
	channels   int
	maxBytes   int
	infer      func(ctx context.Context, pcm []byte) (string, error)

	vadSession vad.SessionHandle

	buffer    []byte
	hadSpeech bool

	closeMu sync.Mutex
	closed  bool
	onClose func()
}

var _ stt.SessionHandle = (*session)(nil)

func newSession(cfg stt.StreamConfig, engine vad.Engine, silence, maxBuffer time.Duration) (*session, error) {
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}
	if cfg.SilenceDuration > 0 {
		silence = cfg.SilenceDuration
	}

	vs, err := engine.NewSession(vad.Config{
		SampleRate:      sr,
		Channels:        ch,
		SilenceDuration: silence,
	})
	if err != nil {
		return nil, fmt.Errorf("whisper: create vad session: %w", err)
	}

	bytesPerSec := sr * ch * bitsPerSample / 8
	return &session{
		sampleRate: sr,
		channels:   ch,
		maxBytes:   int(maxBuffer.Seconds() * float64(bytesPerSec)),
		vadSession: vs,
	}, nil
}

// ProcessChunk implements stt.SessionHandle. Leading silence before any
// speech is discarded; everything from speech start through trailing silence
// is buffered and transcribed once the VAD reports the utterance ended.
func (s *session) ProcessChunk(ctx context.Context, chunk []byte) (stt.Result, error) {
	if s.isClosed() {
		return stt.Result{}, errors.New("whisper: session is closed")
	}

	ev, err := s.vadSession.ProcessFrame(chunk)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: vad: %w", err)
	}

	switch ev.Type {
	case vad.Silence:
		return stt.Result{}, nil

	case vad.SpeechStart, vad.SpeechContinue:
		s.hadSpeech = true
		s.buffer = append(s.buffer, chunk...)
		if s.maxBytes > 0 && len(s.buffer) >= s.maxBytes {
			return s.transcribe(ctx)
		}
		return stt.Result{}, nil

	case vad.SpeechEnd:
		s.buffer = append(s.buffer, chunk...)
		return s.transcribe(ctx)

	default:
		return stt.Result{}, fmt.Errorf("whisper: unexpected vad event %v", ev.Type)
	}
}

// Flush implements stt.SessionHandle.
func (s *session) Flush(ctx context.Context) (stt.Result, error) {
	if s.isClosed() {
		return stt.Result{}, errors.New("whisper: session is closed")
	}
	if !s.hadSpeech || len(s.buffer) == 0 {
		s.reset()
		return stt.Result{}, nil
	}
	return s.transcribe(ctx)
}

// Close implements stt.SessionHandle.
func (s *session) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.onClose != nil {
		s.onClose()
	}
	return s.vadSession.Close()
}

func (s *session) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

func (s *session) transcribe(ctx context.Context) (stt.Result, error) {
	pcm := s.buffer
	s.reset()

	text, err := s.infer(ctx, pcm)
	if err != nil {
		return stt.Result{}, err
	}
	if text == "" {
		return stt.Result{}, nil
	}
	return stt.Result{Text: text, Final: true}, nil
}

func (s *session) reset() {
	s.buffer = nil
	s.hadSpeech = false
	s.vadSession.Reset()
}

// ---- helpers ----------------------------------------------------------------

// encodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container. The returned byte slice is suitable for direct
// inclusion in a multipart form upload.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
