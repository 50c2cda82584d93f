package audio

import (
	"time"
)

// Aggregator accumulates binary audio frames from the client and decides when
// a batch is large and old enough to hand to the transcription service.
//
// The flush policy requires both conditions at once: at least flushInterval
// has passed since the previous flush, and at least minFlushBytes have
// accumulated. Sub-threshold fragments are never flushed; latency is bounded
// by the interval. The aggregator is owned by a single session goroutine and
// is not safe for concurrent use.
type Aggregator struct {
	buf           []byte
	minFlushBytes int
	flushInterval time.Duration
	lastFlush     time.Time
}

// NewAggregator creates an aggregator with the given size threshold and
// minimum interval between flushes.
func NewAggregator(minFlushBytes int, flushInterval time.Duration, now time.Time) *Aggregator {
	return &Aggregator{
		minFlushBytes: minFlushBytes,
		flushInterval: flushInterval,
		lastFlush:     now,
	}
}

// Append adds one audio frame to the buffer. Frame contents are copied, so
// the caller may reuse its slice.
func (a *Aggregator) Append(frame []byte) {
	a.buf = append(a.buf, frame...)
}

// ShouldFlush reports whether the buffered audio is ready to be flushed:
// the interval since the last flush has elapsed and the size threshold is met.
func (a *Aggregator) ShouldFlush(now time.Time) bool {
	return now.Sub(a.lastFlush) >= a.flushInterval && len(a.buf) >= a.minFlushBytes
}

// TakeAndReset returns the buffered audio and clears the buffer, recording
// now as the last flush time. The buffer is never handed out twice.
func (a *Aggregator) TakeAndReset(now time.Time) []byte {
	data := a.buf
	a.buf = nil
	a.lastFlush = now
	return data
}

// Len returns the number of buffered bytes.
func (a *Aggregator) Len() int {
	return len(a.buf)
}

// Reset discards any buffered audio without flushing.
func (a *Aggregator) Reset(now time.Time) {
	a.buf = nil
	a.lastFlush = now
}
