package health

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/talktome/internal/call"
	"github.com/MrWong99/talktome/pkg/audio"
	"github.com/MrWong99/talktome/pkg/provider/tts"
)

// testPhrase is spoken through the speakers during a self-test so a human at
// the machine can confirm output is audible.
const testPhrase = "This is an audio test. If you can hear this, playback is working."

// SelfTest verifies the local audio path end to end: it opens the microphone,
// records a short sample, and speaks a test phrase through the speakers. It
// backs the test_audio tool and must only run while no call is active, since
// it claims the same devices a call would.
type SelfTest struct {
	// Device opens the capture and playback streams. Required.
	Device audio.Device

	// TTS synthesises the spoken test phrase. Optional; when nil the playback
	// leg only opens and closes the output device.
	TTS tts.Provider

	// Voice used for the spoken test phrase. Zero value uses provider defaults.
	Voice tts.Voice

	// CaptureDuration is how much microphone audio to record. Defaults to one
	// second.
	CaptureDuration time.Duration
}

// Test runs the self-test and returns a human-readable report. Device
// failures are returned as [*call.DeviceUnavailableError] so callers can
// distinguish hardware trouble from provider trouble.
func (s *SelfTest) Test(ctx context.Context) (string, error) {
	var report []string

	captured, err := s.testCapture(ctx)
	if err != nil {
		return "", &call.DeviceUnavailableError{Err: err}
	}
	report = append(report, fmt.Sprintf("microphone: ok (captured %s of audio)", captured))

	line, err := s.testPlayback(ctx)
	if err != nil {
		return "", err
	}
	report = append(report, line)

	slog.Info("audio self-test passed")
	return strings.Join(report, "\n"), nil
}

// testCapture opens the microphone and records for CaptureDuration, counting
// the audio that actually arrives.
func (s *SelfTest) testCapture(ctx context.Context) (time.Duration, error) {
	stream, err := s.Device.OpenCapture(ctx, audio.CaptureFormat)
	if err != nil {
		return 0, fmt.Errorf("health: open capture: %w", err)
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			slog.Warn("self-test capture close failed", "err", cerr)
		}
	}()

	duration := s.CaptureDuration
	if duration <= 0 {
		duration = time.Second
	}

	readCtx, cancel := context.WithTimeout(ctx, duration+2*time.Second)
	defer cancel()

	wantSamples := audio.CaptureFormat.SampleRate * int(duration) / int(time.Second)
	var samples int
	for samples < wantSamples {
		chunk, err := stream.ReadChunk(readCtx)
		if err != nil {
			return 0, fmt.Errorf("health: read capture chunk: %w", err)
		}
		samples += len(chunk) / (2 * audio.CaptureFormat.Channels)
	}

	got := time.Duration(samples) * time.Second / time.Duration(audio.CaptureFormat.SampleRate)
	return got.Round(10 * time.Millisecond), nil
}

// testPlayback opens the speakers and, when a TTS provider is configured,
// speaks the test phrase through them.
func (s *SelfTest) testPlayback(ctx context.Context) (string, error) {
	format := audio.PlaybackFormat
	if s.TTS != nil {
		format = audio.Format{SampleRate: s.TTS.SampleRate(), Channels: 1}
	}

	stream, err := s.Device.OpenPlayback(ctx, format)
	if err != nil {
		return "", &call.DeviceUnavailableError{Err: fmt.Errorf("health: open playback: %w", err)}
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			slog.Warn("self-test playback close failed", "err", cerr)
		}
	}()

	if s.TTS == nil {
		return "speakers: ok (output device opened; no synthesis provider configured)", nil
	}

	pcm, err := s.TTS.Synthesize(ctx, testPhrase, s.Voice)
	if err != nil {
		return "", &call.ProviderError{Stage: "tts", Err: err}
	}
	if err := stream.WriteChunk(ctx, pcm); err != nil {
		return "", &call.DeviceUnavailableError{Err: fmt.Errorf("health: play test phrase: %w", err)}
	}
	return "speakers: ok (test phrase played)", nil
}

// DeviceChecker returns a readiness [Checker] that verifies the input device
// can be opened. It briefly claims the microphone, so readiness probes should
// not run while a call is active; the checker reports ok without touching the
// device in that case.
func DeviceChecker(device audio.Device, active func() bool) Checker {
	return Checker{
		Name: "audio",
		Check: func(ctx context.Context) error {
			if active != nil && active() {
				// Device is in use by the call, which proves it opens.
				return nil
			}
			stream, err := device.OpenCapture(ctx, audio.CaptureFormat)
			if err != nil {
				return err
			}
			return stream.Close()
		},
	}
}
