// Package call implements the lifecycle of a single voice call: audio capture,
// live transcription, speech playback, and the transcript that ties them
// together. At most one call is active at a time.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/talktome/pkg/audio"
	"github.com/MrWong99/talktome/pkg/provider/stt"
	"github.com/MrWong99/talktome/pkg/provider/tts"
)

// DefaultWaitTimeout bounds the blocking wait for the user's next utterance
// when no budget is configured.
const DefaultWaitTimeout = 180 * time.Second

// TextCorrector post-processes a transcribed utterance, e.g. fixing
// phonetically mangled domain terms.
type TextCorrector interface {
	Correct(text string) string
}

// Record is the archived form of a finished call.
type Record struct {
	ID         string
	Goal       string
	StartedAt  time.Time
	EndedAt    time.Time
	Utterances []Utterance
	Summary    string
}

// Archiver persists finished calls.
type Archiver interface {
	SaveCall(ctx context.Context, rec Record) error
}

// Summariser produces a short natural-language summary of a finished call.
type Summariser interface {
	Summarise(ctx context.Context, utterances []Utterance) (string, error)
}

// Recorder receives call activity events for metrics. Implementations must be
// safe for concurrent use.
type Recorder interface {
	CallStarted()
	CallEnded(duration time.Duration, utterances int)
	UtteranceRecorded(speaker string)
	UtteranceReplaced()
	ChunkDropped()
	WaitTimedOut()
}

// Info holds metadata about the active call.
type Info struct {
	// ID is the unique identifier for this call.
	ID string

	// Goal is the caller-supplied purpose of the call, if any.
	Goal string

	// StartedAt is when the call was initiated.
	StartedAt time.Time
}

// ManagerConfig holds all dependencies for a [Manager].
type ManagerConfig struct {
	Device audio.Device
	STT    stt.Provider
	TTS    tts.Provider

	// Voice selects the TTS voice used for all assistant speech.
	Voice tts.Voice

	// WaitTimeout bounds blocking waits for user utterances.
	// Zero means [DefaultWaitTimeout].
	WaitTimeout time.Duration

	// SilenceDuration is how much trailing silence ends a user utterance.
	// Zero means the STT provider default.
	SilenceDuration time.Duration

	// Vocabulary lists domain terms biased toward during transcription.
	Vocabulary []string

	// Corrector, Archive, Summariser and Metrics are optional.
	Corrector  TextCorrector
	Archive    Archiver
	Summariser Summariser
	Metrics    Recorder
}

// Manager owns the single active call. All exported methods are safe for
// concurrent use.
type Manager struct {
	device      audio.Device
	sttProv     stt.Provider
	ttsProv     tts.Provider
	voice       tts.Voice
	waitTimeout time.Duration
	silence     time.Duration
	vocabulary  []string
	corrector   TextCorrector
	archive     Archiver
	summariser  Summariser
	metrics     Recorder

	mu     sync.Mutex
	active *activeCall
}

// activeCall bundles the per-call resources. The pipeline goroutines hold a
// reference to it and are joined before it is torn down.
type activeCall struct {
	id        string
	goal      string
	startedAt time.Time
	log       *Log
	mailbox   *Mailbox

	capture  audio.CaptureStream
	playback audio.PlaybackStream
	session  stt.SessionHandle
	pipe     *pipeline

	// ctx is cancelled by End; waiters and the pipeline observe it.
	ctx    context.Context
	cancel context.CancelFunc

	// speakMu serialises playback so overlapping Speak calls do not interleave
	// sentences.
	speakMu sync.Mutex

	failMu  sync.Mutex
	failure error
}

func (c *activeCall) setFailure(err error) {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	if c.failure == nil {
		c.failure = err
	}
}

func (c *activeCall) failed() error {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	return c.failure
}

// NewManager creates a Manager with the given dependencies.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	var errs []error
	if cfg.Device == nil {
		errs = append(errs, fmt.Errorf("call: Device must not be nil"))
	}
	if cfg.STT == nil {
		errs = append(errs, fmt.Errorf("call: STT must not be nil"))
	}
	if cfg.TTS == nil {
		errs = append(errs, fmt.Errorf("call: TTS must not be nil"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	wait := cfg.WaitTimeout
	if wait <= 0 {
		wait = DefaultWaitTimeout
	}

	return &Manager{
		device:      cfg.Device,
		sttProv:     cfg.STT,
		ttsProv:     cfg.TTS,
		voice:       cfg.Voice,
		waitTimeout: wait,
		silence:     cfg.SilenceDuration,
		vocabulary:  cfg.Vocabulary,
		corrector:   cfg.Corrector,
		archive:     cfg.Archive,
		summariser:  cfg.Summariser,
		metrics:     cfg.Metrics,
	}, nil
}

// Initiate starts a new call, speaks greeting, and blocks until the user
// replies or the wait budget elapses. Returns the user's reply. An empty
// greeting skips playback and listens right away.
//
// Returns [AlreadyActiveError] if a call is already running.
func (m *Manager) Initiate(ctx context.Context, greeting, goal string) (string, error) {
	c, err := m.begin(ctx, goal)
	if err != nil {
		return "", err
	}

	if err := m.speak(ctx, c, greeting); err != nil {
		return "", err
	}
	return m.waitForUser(ctx, c)
}

// Continue speaks message on the active call and blocks until the user
// replies or the wait budget elapses. Returns the user's reply.
func (m *Manager) Continue(ctx context.Context, message string) (string, error) {
	c, err := m.current()
	if err != nil {
		return "", err
	}
	if err := m.speak(ctx, c, message); err != nil {
		return "", err
	}
	return m.waitForUser(ctx, c)
}

// Speak plays message on the active call without waiting for a reply.
// It returns once playback has finished.
func (m *Manager) Speak(ctx context.Context, message string) error {
	c, err := m.current()
	if err != nil {
		return err
	}
	return m.speak(ctx, c, message)
}

// Transcript returns the formatted transcript of the active call so far.
func (m *Manager) Transcript() (string, error) {
	c, err := m.current()
	if err != nil {
		return "", err
	}
	return c.log.Render(), nil
}

// Info returns metadata about the active call and whether one is running.
func (m *Manager) Info() (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return Info{}, false
	}
	return Info{ID: m.active.id, Goal: m.active.goal, StartedAt: m.active.startedAt}, true
}

// EndResult summarises a call that just finished.
type EndResult struct {
	// CallID identifies the call that was torn down.
	CallID string

	// Duration is how long the call ran.
	Duration time.Duration

	// Utterances counts transcript entries from both speakers.
	Utterances int

	// Transcript is the full formatted transcript, including any residual
	// speech flushed from the transcriber and the summary when configured.
	Transcript string
}

// End tears down the active call and returns its final state, including any
// residual speech still buffered in the transcriber. The transcript is
// archived and summarised when those dependencies are configured; failures
// there are logged, not returned, since the call itself ended cleanly.
//
// Returns [NoActiveCallError] when no call is running.
func (m *Manager) End(ctx context.Context) (EndResult, error) {
	m.mu.Lock()
	c := m.active
	m.active = nil
	m.mu.Unlock()

	if c == nil {
		return EndResult{}, &NoActiveCallError{}
	}

	// Stop the background loops before touching the session: cancel their
	// context, unblock the reader by closing the stream, then join.
	c.cancel()
	if err := c.capture.Close(); err != nil {
		slog.Warn("capture close failed", "call_id", c.id, "err", err)
	}
	c.pipe.stop()

	// The user may have been mid-sentence; flush whatever the transcriber
	// still holds and record it before the call is sealed.
	if res, err := c.session.Flush(ctx); err != nil {
		slog.Warn("transcriber flush failed", "call_id", c.id, "err", err)
	} else if res.Text != "" {
		m.recordUser(c, res.Text)
	}

	if err := c.session.Close(); err != nil {
		slog.Warn("transcriber close failed", "call_id", c.id, "err", err)
	}
	if err := c.playback.Close(); err != nil {
		slog.Warn("playback close failed", "call_id", c.id, "err", err)
	}

	endedAt := time.Now()
	utterances := c.log.Utterances()
	transcript := c.log.Render()

	summary := ""
	if m.summariser != nil && len(utterances) > 0 {
		s, err := m.summariser.Summarise(ctx, utterances)
		if err != nil {
			slog.Warn("call summary failed", "call_id", c.id, "err", err)
		} else {
			summary = s
		}
	}

	if m.archive != nil {
		rec := Record{
			ID:         c.id,
			Goal:       c.goal,
			StartedAt:  c.startedAt,
			EndedAt:    endedAt,
			Utterances: utterances,
			Summary:    summary,
		}
		if err := m.archive.SaveCall(ctx, rec); err != nil {
			slog.Warn("call archive failed", "call_id", c.id, "err", err)
		}
	}

	if m.metrics != nil {
		m.metrics.CallEnded(endedAt.Sub(c.startedAt), len(utterances))
	}

	slog.Info("call ended",
		"call_id", c.id,
		"duration", endedAt.Sub(c.startedAt).Round(time.Second),
		"utterances", len(utterances),
	)

	if summary != "" {
		transcript += "\n\nSummary: " + summary
	}
	return EndResult{
		CallID:     c.id,
		Duration:   endedAt.Sub(c.startedAt),
		Utterances: len(utterances),
		Transcript: transcript,
	}, nil
}

// abort tears the call down after a fatal pipeline error so the slot frees up
// and pending waiters wake immediately. It runs inside the pipeline's own
// goroutines, so the join is pushed onto a fresh one. Whichever of abort and
// End clears the active slot first owns the teardown; the other is a no-op.
func (m *Manager) abort(c *activeCall, err error) {
	c.setFailure(err)
	c.cancel()

	m.mu.Lock()
	if m.active != c {
		m.mu.Unlock()
		return
	}
	m.active = nil
	m.mu.Unlock()

	go func() {
		if cerr := c.capture.Close(); cerr != nil {
			slog.Warn("capture close failed", "call_id", c.id, "err", cerr)
		}
		c.pipe.stop()
		// No flush here: the transcriber already proved itself broken.
		if cerr := c.session.Close(); cerr != nil {
			slog.Warn("transcriber close failed", "call_id", c.id, "err", cerr)
		}
		if cerr := c.playback.Close(); cerr != nil {
			slog.Warn("playback close failed", "call_id", c.id, "err", cerr)
		}
		if m.metrics != nil {
			m.metrics.CallEnded(time.Since(c.startedAt), c.log.Len())
		}
		slog.Error("call torn down after fatal pipeline error", "call_id", c.id, "err", err)
	}()
}

// begin opens the devices, starts the transcription session and the capture
// pipeline, and installs the new call as the active one.
func (m *Manager) begin(ctx context.Context, goal string) (*activeCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, &AlreadyActiveError{CallID: m.active.id}
	}

	capture, err := m.device.OpenCapture(ctx, audio.CaptureFormat)
	if err != nil {
		return nil, &DeviceUnavailableError{Err: err}
	}

	playback, err := m.device.OpenPlayback(ctx, audio.Format{
		SampleRate: m.ttsProv.SampleRate(),
		Channels:   1,
	})
	if err != nil {
		_ = capture.Close()
		return nil, &DeviceUnavailableError{Err: err}
	}

	session, err := m.sttProv.StartStream(ctx, stt.StreamConfig{
		SampleRate:      audio.CaptureFormat.SampleRate,
		Channels:        audio.CaptureFormat.Channels,
		SilenceDuration: m.silence,
		Vocabulary:      m.vocabulary,
	})
	if err != nil {
		_ = playback.Close()
		_ = capture.Close()
		return nil, &ProviderError{Stage: "stt", Err: err}
	}

	now := time.Now()
	c := &activeCall{
		id:        uuid.NewString(),
		goal:      goal,
		startedAt: now,
		log:       NewLog(now),
		mailbox:   NewMailbox(),
		capture:   capture,
		playback:  playback,
		session:   session,
	}

	callCtx, cancel := context.WithCancel(context.Background())
	c.ctx = callCtx
	c.cancel = cancel
	c.pipe = newPipeline(capture, session,
		func(text string) { m.recordUser(c, text) },
		func(err error) { m.abort(c, err) },
		func() {
			if m.metrics != nil {
				m.metrics.ChunkDropped()
			}
		},
	)
	c.pipe.start(callCtx)

	m.active = c
	if m.metrics != nil {
		m.metrics.CallStarted()
	}
	slog.Info("call started", "call_id", c.id, "goal", goal)
	return c, nil
}

// current returns the active call or [NoActiveCallError].
func (m *Manager) current() (*activeCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil, &NoActiveCallError{}
	}
	return m.active, nil
}

// speak records text as an assistant utterance and plays it sentence by
// sentence. Capture is paused for the duration so the microphone does not
// pick up our own speech.
//
// The transcript entry is made before playback starts, so any user reply that
// follows is always ordered after the words it answers.
func (m *Manager) speak(ctx context.Context, c *activeCall, text string) error {
	if err := c.failed(); err != nil {
		return err
	}

	// An empty greeting means "listen first": nothing to record or play.
	if strings.TrimSpace(text) == "" {
		return nil
	}

	c.speakMu.Lock()
	defer c.speakMu.Unlock()

	c.log.Append(SpeakerAssistant, text)
	if m.metrics != nil {
		m.metrics.UtteranceRecorded(string(SpeakerAssistant))
	}

	c.capture.Pause()
	defer c.capture.Resume()

	var spoken float64
	for _, sentence := range tts.SplitSentences(text) {
		pcm, err := m.ttsProv.Synthesize(ctx, sentence, m.voice)
		if err != nil {
			return &ProviderError{Stage: "tts", Err: err}
		}
		if err := c.playback.WriteChunk(ctx, pcm); err != nil {
			// A pipeline failure tears the call down mid-playback; report
			// that cause rather than the closed stream it left behind.
			if fatal := c.failed(); fatal != nil {
				return fatal
			}
			return &DeviceUnavailableError{Err: err}
		}
		spoken += audio.PCMDuration(pcm, m.ttsProv.SampleRate())
	}
	slog.Debug("assistant speech played", "call_id", c.id, "seconds", spoken)
	return nil
}

// waitForUser blocks until the user finishes an utterance, the wait budget
// elapses, or the call is torn down underneath us.
func (m *Manager) waitForUser(ctx context.Context, c *activeCall) (string, error) {
	// Abort the wait if either the request context or the call itself is
	// cancelled.
	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()
	stop := context.AfterFunc(c.ctx, cancelWait)
	defer stop()

	text, err := c.mailbox.Take(waitCtx, m.waitTimeout)
	if err != nil {
		if fatal := c.failed(); fatal != nil {
			return "", fatal
		}
		var timeout *TimeoutError
		if errors.As(err, &timeout) {
			if m.metrics != nil {
				m.metrics.WaitTimedOut()
			}
			return "", err
		}
		if c.ctx.Err() != nil {
			// The call was torn down while we were waiting.
			return "", &NoActiveCallError{}
		}
		return "", err
	}
	return text, nil
}

// recordUser applies the corrector and appends a finished user utterance to
// the transcript, then makes it available to whoever is waiting.
func (m *Manager) recordUser(c *activeCall, text string) {
	if m.corrector != nil {
		text = m.corrector.Correct(text)
	}
	c.log.Append(SpeakerUser, text)
	if m.metrics != nil {
		m.metrics.UtteranceRecorded(string(SpeakerUser))
	}
	if c.mailbox.Put(text) {
		slog.Warn("user spoke again before the previous utterance was consumed, keeping only the newest", "call_id", c.id)
		if m.metrics != nil {
			m.metrics.UtteranceReplaced()
		}
	}
	slog.Debug("user utterance recorded", "call_id", c.id, "chars", len(text))
}
