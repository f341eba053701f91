package call

import (
	"fmt"
	"time"
)

// AlreadyActiveError is returned by Initiate when a call is already running.
// The existing call is left untouched.
type AlreadyActiveError struct {
	// CallID identifies the call that is already active.
	CallID string
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("call: a call is already active (id=%s)", e.CallID)
}

// NoActiveCallError is returned by operations that require an active call
// when none is running.
type NoActiveCallError struct{}

func (*NoActiveCallError) Error() string {
	return "call: no active call"
}

// TimeoutError is returned when the blocking wait for the user's next
// utterance exceeds the configured budget. The call remains active; the
// caller may retry the wait or end the call.
type TimeoutError struct {
	// Wait is the budget that elapsed.
	Wait time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call: no user utterance within %s", e.Wait)
}

// ProviderError wraps a failure from the STT or TTS backend. These are
// treated as fatal for the operation that hit them.
type ProviderError struct {
	// Stage names the pipeline stage that failed ("stt" or "tts").
	Stage string
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("call: %s provider: %v", e.Stage, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// DeviceUnavailableError wraps a failure to open the capture or playback device.
type DeviceUnavailableError struct {
	Err error
}

func (e *DeviceUnavailableError) Error() string {
	return fmt.Sprintf("call: audio device unavailable: %v", e.Err)
}

func (e *DeviceUnavailableError) Unwrap() error { return e.Err }
