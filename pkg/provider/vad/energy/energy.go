// Package energy implements a voice activity detector based on RMS energy
// thresholding. It requires no model files and behaves predictably on the
// near-field microphone audio this system captures, at the cost of treating
// any loud noise as speech.
package energy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/talktome/pkg/provider/vad"
)

const (
	// defaultThreshold is the RMS level below which a frame counts as silent.
	// The maximum possible value for 16-bit audio is 32767; 500 tolerates
	// typical room noise while still catching quiet speech.
	defaultThreshold = 500.0

	defaultSilenceDuration = 800 * time.Millisecond
)

// Engine implements vad.Engine using RMS energy thresholding.
type Engine struct{}

var _ vad.Engine = (*Engine)(nil)

// New returns a ready-to-use energy VAD engine.
func New() *Engine {
	return &Engine{}
}

// NewSession implements vad.Engine. Zero-valued thresholds in cfg fall back
// to the package defaults.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.SpeechThreshold < 0 {
		return nil, fmt.Errorf("energy: speech threshold must not be negative, got %v", cfg.SpeechThreshold)
	}
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = defaultThreshold
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = defaultSilenceDuration
	}
	return &session{cfg: cfg}, nil
}

// session tracks utterance state for one audio stream. Not safe for
// concurrent use; the caller drives it from a single pipeline goroutine.
type session struct {
	cfg vad.Config

	inSpeech bool
	silence  time.Duration
	closed   bool
}

var _ vad.SessionHandle = (*session)(nil)

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, errors.New("energy: session is closed")
	}
	if len(frame)%2 != 0 {
		return vad.Event{}, fmt.Errorf("energy: frame length %d is not int16-aligned", len(frame))
	}

	rms := computeRMS(frame)
	dur := frameDuration(len(frame), s.cfg.SampleRate, s.cfg.Channels)

	if rms >= s.cfg.SpeechThreshold {
		started := !s.inSpeech
		s.inSpeech = true
		s.silence = 0
		if started {
			return vad.Event{Type: vad.SpeechStart, Energy: rms}, nil
		}
		return vad.Event{Type: vad.SpeechContinue, Energy: rms}, nil
	}

	if !s.inSpeech {
		return vad.Event{Type: vad.Silence, Energy: rms}, nil
	}

	s.silence += dur
	if s.silence >= s.cfg.SilenceDuration {
		s.inSpeech = false
		s.silence = 0
		return vad.Event{Type: vad.SpeechEnd, Energy: rms}, nil
	}
	// Short pause inside an utterance.
	return vad.Event{Type: vad.SpeechContinue, Energy: rms}, nil
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.inSpeech = false
	s.silence = 0
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.closed = true
	return nil
}

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer. Returns 0 for buffers shorter than one sample.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// frameDuration returns the wall-clock duration of a PCM buffer.
func frameDuration(byteLen, sampleRate, channels int) time.Duration {
	bytesPerSec := sampleRate * channels * 2
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(byteLen) * time.Second / time.Duration(bytesPerSec)
}
