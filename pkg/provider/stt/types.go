package stt

// Result represents the outcome of processing one audio chunk.
// The zero value means "nothing transcribed yet, keep feeding audio".
type Result struct {
	// Text is the transcribed speech content. Empty unless Final is set.
	Text string

	// Final indicates that an utterance was completed and Text is
	// authoritative.
	Final bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero for
	// backends that do not report confidence.
	Confidence float64
}
