package call

import (
	"context"
	"time"
)

// Mailbox is a capacity-one holding slot for the user's latest finished
// utterance. If a new utterance arrives before the previous one has been
// consumed, the previous one is replaced: the caller always receives the most
// recent thing the user said.
//
// It is safe for concurrent use by one producer and one consumer.
type Mailbox struct {
	ch chan string
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ch: make(chan string, 1)}
}

// Put stores text, replacing any unconsumed value. It reports whether a
// previous value was discarded.
func (m *Mailbox) Put(text string) (replaced bool) {
	for {
		select {
		case m.ch <- text:
			return replaced
		default:
		}
		// Slot occupied: discard the stale value and retry.
		select {
		case <-m.ch:
			replaced = true
		default:
		}
	}
}

// Take blocks until a value is available, the wait budget elapses, or ctx is
// cancelled. On timeout it returns a [TimeoutError]; the mailbox stays usable.
func (m *Mailbox) Take(ctx context.Context, wait time.Duration) (string, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case text := <-m.ch:
		return text, nil
	case <-timer.C:
		return "", &TimeoutError{Wait: wait}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// TryTake returns the stored value without blocking.
func (m *Mailbox) TryTake() (string, bool) {
	select {
	case text := <-m.ch:
		return text, true
	default:
		return "", false
	}
}

// Clear discards any unconsumed value.
func (m *Mailbox) Clear() {
	select {
	case <-m.ch:
	default:
	}
}
