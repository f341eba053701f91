package audio

import "time"

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Canonical stream formats. Capture runs at 16 kHz mono because that is what
// speech-to-text models expect; playback runs at 24 kHz mono to match the
// native output rate of the synthesis backends.
var (
	CaptureFormat  = Format{SampleRate: 16000, Channels: 1}
	PlaybackFormat = Format{SampleRate: 24000, Channels: 1}
)

// ChunkDuration is the nominal length of one captured chunk. The capture loop
// hands audio to speech-to-text in chunks of this size.
const ChunkDuration = 100 * time.Millisecond

// BytesPerChunk returns the PCM byte length of one [ChunkDuration] chunk in
// the given format, assuming 16-bit samples.
func BytesPerChunk(f Format) int {
	samples := f.SampleRate * int(ChunkDuration) / int(time.Second)
	return samples * 2 * f.Channels
}
