// Package piper provides a local Piper-backed TTS provider that connects to a
// running piper HTTP server via its REST API. It implements the tts.Provider
// interface.
//
// Piper operates in batch mode (one HTTP call per utterance rather than a
// streaming socket), so callers wanting low first-audio latency should split
// text into sentences and synthesise them one at a time.
//
// Typical usage:
//
//	p, err := piper.New("http://localhost:5000",
//	    piper.WithSpeed(1.1),
//	    piper.WithTimeout(15*time.Second),
//	)
//	pcm, err := p.Synthesize(ctx, "Hello there.", tts.Voice{})
package piper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/talktome/pkg/audio"
	"github.com/MrWong99/talktome/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout    = 30 * time.Second
	defaultOutputRate = 24000
)

// Option is a functional option for configuring a Piper Provider.
type Option func(*Provider)

// WithSpeed sets the default speaking rate multiplier (0.5–2.0, 1.0 =
// normal). Piper expresses rate as length_scale, the inverse of speed.
func WithSpeed(speed float64) Option {
	return func(p *Provider) {
		p.speed = speed
	}
}

// WithTimeout sets the per-request HTTP timeout for calls to the Piper
// server. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithOutputSampleRate configures the rate the provider resamples synthesised
// PCM to. Piper models render at their native rate (typically 22050 Hz);
// the provider normalises output so playback does not depend on the model.
// Defaults to 24000.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		p.outputRate = rate
	}
}

// Provider implements tts.Provider backed by a locally-running Piper HTTP
// server. It is safe for concurrent use; multiple Synthesize calls may run in
// parallel.
type Provider struct {
	serverURL  string
	speed      float64
	outputRate int
	httpClient *http.Client
}

// New creates a Provider that targets the Piper server at serverURL
// (e.g., "http://localhost:5000"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("piper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		speed:      1.0,
		outputRate: defaultOutputRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int {
	return p.outputRate
}

// Synthesize implements tts.Provider. It performs a single GET / request with
// the text as a query parameter, strips the WAV container from the response,
// and resamples the PCM to the configured output rate.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("piper: text must not be empty")
	}

	params := url.Values{}
	params.Set("text", text)
	if voice.ID != "" {
		params.Set("voice", voice.ID)
	}
	speed := voice.Speed
	if speed == 0 {
		speed = p.speed
	}
	if speed > 0 && speed != 1.0 {
		// length_scale stretches audio, so it is the inverse of speed.
		params.Set("length_scale", strconv.FormatFloat(1/speed, 'f', 3, 64))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+"/?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("piper: create request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("piper: GET /: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("piper: server returned status %d", resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("piper: read WAV response: %w", err)
	}

	info, err := parseWAV(wav)
	if err != nil {
		return nil, err
	}

	pcm := wav[info.DataOffset:]
	if info.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	if p.outputRate > 0 && info.SampleRate != p.outputRate {
		pcm = audio.ResampleMono16(pcm, info.SampleRate, p.outputRate)
	}
	return pcm, nil
}

// wavInfo holds the format metadata extracted from a RIFF/WAVE header.
type wavInfo struct {
	DataOffset int // byte offset of the first PCM sample
	SampleRate int // samples per second
	Channels   int // 1 = mono, 2 = stereo
}

// parseWAV scans the RIFF/WAVE container in wav and returns the data offset
// and audio format from the "fmt " sub-chunk. This is more robust than
// hardcoding a fixed 44-byte offset because the fmt chunk size may vary.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 {
		return wavInfo{}, errors.New("piper: WAV response too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return wavInfo{}, errors.New("piper: WAV response missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("piper: WAV response missing WAVE identifier")
	}

	var info wavInfo
	foundFmt := false

	// Walk RIFF chunks starting after the 12-byte RIFF/WAVE header.
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				foundFmt = true
			}
		case "data":
			info.DataOffset = offset + 8
			if !foundFmt {
				// fmt should appear before data; fall back to the common
				// Piper model rate.
				info.SampleRate = 22050
				info.Channels = 1
			}
			return info, nil
		}

		// Chunks are word-aligned: pad by 1 if the size is odd.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errors.New("piper: WAV response missing data chunk")
}
