// Package elevenlabs provides an ElevenLabs-backed STT provider using the
// Scribe realtime WebSocket API. It implements the stt.Provider interface.
//
// The Scribe endpoint performs voice activity detection server side: audio is
// streamed up as it is captured and the server commits a transcript whenever
// it detects the utterance ended. ProcessChunk therefore never blocks on
// inference; it uploads the chunk and reports any transcript the server has
// committed since the previous call.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/talktome/pkg/provider/stt"
)

const (
	scribeEndpoint  = "wss://api.elevenlabs.io/v1/speech-to-text/realtime"
	defaultModel    = "scribe_v1"
	defaultLanguage = "en"

	defaultSampleRate   = 16000
	defaultFlushTimeout = 10 * time.Second
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the Scribe model to use (e.g., "scribe_v1").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en").
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpoint overrides the WebSocket endpoint, e.g. to point at a test
// server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithFlushTimeout bounds how long Flush waits for the server to commit the
// remaining audio. Defaults to 10 s.
func WithFlushTimeout(d time.Duration) Option {
	return func(p *Provider) { p.flushTimeout = d }
}

// Provider implements stt.Provider backed by the ElevenLabs Scribe realtime
// API.
type Provider struct {
	apiKey       string
	endpoint     string
	model        string
	language     string
	flushTimeout time.Duration
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		endpoint:     scribeEndpoint,
		model:        defaultModel,
		language:     defaultLanguage,
		flushTimeout: defaultFlushTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream implements stt.Provider. It dials the realtime endpoint and
// starts the receive loop. cfg.Vocabulary is ignored; Scribe does not expose
// keyword boosting.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("xi-api-key", p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	// The server may send transcripts larger than the 32 KiB default.
	conn.SetReadLimit(1 << 20)

	sess := &session{
		conn:         conn,
		flushTimeout: p.flushTimeout,
		committed:    make(chan stt.Result, 16),
		done:         make(chan struct{}),
	}
	sess.wg.Add(1)
	go sess.readLoop()

	return sess, nil
}

// buildURL constructs the realtime endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}

	q := u.Query()
	q.Set("model_id", p.model)
	q.Set("language_code", lang)
	q.Set("encoding", "pcm_s16le_"+strconv.Itoa(sr))
	q.Set("commit_strategy", "vad")
	if cfg.SilenceDuration > 0 {
		q.Set("vad_silence_duration_ms", strconv.Itoa(int(cfg.SilenceDuration.Milliseconds())))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// clientMessage is the JSON structure sent to the realtime endpoint.
type clientMessage struct {
	Type       string `json:"type"`
	AudioChunk string `json:"audio_chunk,omitempty"`
}

// serverMessage is the JSON structure received from the realtime endpoint.
type serverMessage struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// session is a live Scribe realtime session. It implements stt.SessionHandle.
// ProcessChunk and Flush are driven by a single goroutine; Close may be
// called from any goroutine.
type session struct {
	conn         *websocket.Conn
	flushTimeout time.Duration

	committed chan stt.Result

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ stt.SessionHandle = (*session)(nil)

// ProcessChunk uploads one PCM chunk and returns a transcript the server has
// committed since the previous call, if any.
func (s *session) ProcessChunk(ctx context.Context, chunk []byte) (stt.Result, error) {
	select {
	case <-s.done:
		return stt.Result{}, errors.New("elevenlabs: session is closed")
	default:
	}

	msg := clientMessage{
		Type:       "input_audio_chunk",
		AudioChunk: base64.StdEncoding.EncodeToString(chunk),
	}
	if err := s.writeJSON(ctx, msg); err != nil {
		return stt.Result{}, fmt.Errorf("elevenlabs: send audio: %w", err)
	}

	select {
	case res, ok := <-s.committed:
		if !ok {
			return stt.Result{}, errors.New("elevenlabs: connection lost")
		}
		return res, nil
	default:
		return stt.Result{}, nil
	}
}

// Flush asks the server to commit any uncommitted audio and waits for the
// resulting transcript.
func (s *session) Flush(ctx context.Context) (stt.Result, error) {
	select {
	case <-s.done:
		return stt.Result{}, errors.New("elevenlabs: session is closed")
	default:
	}

	// A transcript may already be waiting from server-side VAD.
	select {
	case res, ok := <-s.committed:
		if !ok {
			return stt.Result{}, errors.New("elevenlabs: connection lost")
		}
		return res, nil
	default:
	}

	if err := s.writeJSON(ctx, clientMessage{Type: "commit"}); err != nil {
		return stt.Result{}, fmt.Errorf("elevenlabs: send commit: %w", err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, s.flushTimeout)
	defer cancel()
	select {
	case <-flushCtx.Done():
		// The server had nothing to commit, or is slow. Either way the
		// buffered audio is gone; report an empty result.
		return stt.Result{}, nil
	case res, ok := <-s.committed:
		if !ok {
			return stt.Result{}, errors.New("elevenlabs: connection lost")
		}
		return res, nil
	case <-s.done:
		return stt.Result{}, errors.New("elevenlabs: session is closed")
	}
}

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

func (s *session) writeJSON(ctx context.Context, msg clientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// readLoop receives JSON messages from the server and queues committed
// transcripts for ProcessChunk and Flush to pick up. Partial transcripts are
// discarded; only committed text enters the call log.
func (s *session) readLoop() {
	defer s.wg.Done()
	defer close(s.committed)

	ctx := context.Background()
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			// Normal close or network failure: end the loop.
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "committed_transcript" || msg.Text == "" {
			continue
		}

		res := stt.Result{Text: msg.Text, Final: true, Confidence: msg.Confidence}
		select {
		case s.committed <- res:
		case <-s.done:
			return
		}
	}
}
