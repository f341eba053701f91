package observe

import (
	"context"
	"time"

	"github.com/MrWong99/talktome/internal/call"
)

// Recorder adapts [Metrics] to the event interface the call manager expects.
// The manager fires events from its own goroutines without a request context,
// so all recordings use [context.Background].
type Recorder struct {
	m *Metrics
}

var _ call.Recorder = (*Recorder)(nil)

// NewRecorder returns a Recorder writing to m.
func NewRecorder(m *Metrics) *Recorder {
	return &Recorder{m: m}
}

func (r *Recorder) CallStarted() {
	r.m.ActiveCalls.Add(context.Background(), 1)
}

func (r *Recorder) CallEnded(duration time.Duration, utterances int) {
	ctx := context.Background()
	r.m.ActiveCalls.Add(ctx, -1)
	r.m.CallDuration.Record(ctx, duration.Seconds())
	r.m.CallUtterances.Record(ctx, int64(utterances))
}

func (r *Recorder) UtteranceRecorded(speaker string) {
	r.m.RecordUtterance(context.Background(), speaker)
}

func (r *Recorder) UtteranceReplaced() {
	r.m.ReplacedUtterances.Add(context.Background(), 1)
}

func (r *Recorder) ChunkDropped() {
	r.m.DroppedChunks.Add(context.Background(), 1)
}

func (r *Recorder) WaitTimedOut() {
	r.m.WaitTimeouts.Add(context.Background(), 1)
}
