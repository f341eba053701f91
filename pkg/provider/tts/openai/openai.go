// Package openai provides a TTS provider backed by the OpenAI speech API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/talktome/pkg/provider/tts"
)

const (
	defaultModel = oai.SpeechModelGPT4oMiniTTS
	defaultVoice = "alloy"

	// The PCM response format is fixed at 24 kHz mono 16-bit.
	sampleRate = 24000
)

// Provider implements tts.Provider using the OpenAI speech API.
type Provider struct {
	client oai.Client
	model  oai.SpeechModel
	voice  string
}

var _ tts.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	model   string
	voice   string
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel sets the speech model (e.g., "gpt-4o-mini-tts", "tts-1").
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithVoice sets the default voice used when the caller passes a zero Voice
// (e.g., "alloy", "nova", "onyx").
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI TTS Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	p := &Provider{
		client: oai.NewClient(reqOpts...),
		model:  defaultModel,
		voice:  defaultVoice,
	}
	if cfg.model != "" {
		p.model = oai.SpeechModel(cfg.model)
	}
	if cfg.voice != "" {
		p.voice = cfg.voice
	}
	return p, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int {
	return sampleRate
}

// Synthesize implements tts.Provider. It requests raw PCM output and returns
// the full response body.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	if text == "" {
		return nil, errors.New("openai: text must not be empty")
	}

	voiceName := voice.ID
	if voiceName == "" {
		voiceName = p.voice
	}

	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          p.model,
		Voice:          oai.AudioSpeechNewParamsVoice(voiceName),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.Speed > 0 && voice.Speed != 1.0 {
		params.Speed = oai.Float(voice.Speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: create speech: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read PCM response: %w", err)
	}
	return pcm, nil
}
