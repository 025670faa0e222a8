package types

import "time"

// The core runs on a 32-bit millisecond clock that wraps roughly every 49.7 days.
// All deadline checks go through signed differences so they survive the wrap.

// Reached reports whether now is at or past deadline.
func Reached(now, deadline uint32) bool {
	return int32(now-deadline) >= 0
}

// Before reports whether now is strictly before deadline.
func Before(now, deadline uint32) bool {
	return int32(now-deadline) < 0
}

// Within reports whether ref is set and now is no more than window after it.
func Within(now, ref, window uint32) bool {
	return ref != 0 && now-ref <= window
}

type Clock interface {
	NowMs() uint32
}

// MonotonicClock counts milliseconds since it was created, truncated to 32 bits.
type MonotonicClock struct {
	start time.Time
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

func (c *MonotonicClock) NowMs() uint32 {
	// Start at 1 so the first reading is never confused with "never".
	return uint32(time.Since(c.start).Milliseconds()) + 1
}
