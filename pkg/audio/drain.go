package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when the data from a streaming channel
// is no longer needed, e.g. when a call ends while chunks are still queued.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
