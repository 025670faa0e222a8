package util

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const tryLockPoll = 200 * time.Microsecond

// TimedMutex guards state shared between the decision loop and background tasks.
// Acquisition gives up after a bounded wait instead of blocking the caller.
type TimedMutex struct {
	mu      sync.Mutex
	timeout time.Duration
	warn    rate.Sometimes
	onWarn  func(name string)
	name    string

	contended atomic.Uint64
}

// NewTimedMutex creates a mutex that waits at most timeout. onWarn is called at
// most once per interval when acquisition fails.
func NewTimedMutex(name string, timeout, interval time.Duration, onWarn func(name string)) *TimedMutex {
	return &TimedMutex{
		timeout: timeout,
		warn:    rate.Sometimes{Interval: interval},
		onWarn:  onWarn,
		name:    name,
	}
}

// TryLockFor attempts to lock within the configured timeout. The caller must
// call Unlock only when it returns true.
func (m *TimedMutex) TryLockFor() bool {
	if m.mu.TryLock() {
		return true
	}
	deadline := time.Now().Add(m.timeout)
	for time.Now().Before(deadline) {
		time.Sleep(tryLockPoll)
		if m.mu.TryLock() {
			return true
		}
	}
	m.contended.Add(1)
	if m.onWarn != nil {
		m.warn.Do(func() { m.onWarn(m.name) })
	}
	return false
}

func (m *TimedMutex) Unlock() {
	m.mu.Unlock()
}

// Contended returns how many acquisitions timed out.
func (m *TimedMutex) Contended() uint64 {
	return m.contended.Load()
}
