package vad

// Event represents a voice activity detection result for a single audio frame.
type Event struct {
	// Type is the detection result.
	Type EventType

	// Energy is the RMS energy of the frame in 16-bit PCM units (0–32767).
	Energy float64
}

// EventType enumerates VAD detection states.
type EventType int

const (
	// SpeechStart indicates speech has just begun.
	SpeechStart EventType = iota

	// SpeechContinue indicates ongoing speech, including trailing silence
	// that has not yet lasted long enough to end the utterance.
	SpeechContinue

	// SpeechEnd indicates the utterance has just ended: speech was followed
	// by at least Config.SilenceDuration of silence.
	SpeechEnd

	// Silence indicates no speech detected and no utterance in progress.
	Silence
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "SPEECH_START"
	case SpeechContinue:
		return "SPEECH_CONTINUE"
	case SpeechEnd:
		return "SPEECH_END"
	case Silence:
		return "SILENCE"
	default:
		return "UNKNOWN"
	}
}
