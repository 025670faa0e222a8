// Package actuator maps rule commands and system state onto locks and the buzzer.
package actuator

import (
	"sync"

	"github.com/daemonp/zoneguard/internal/log"
	"github.com/daemonp/zoneguard/internal/types"
)

type Lock interface {
	Lock()
	Unlock()
	IsLocked() bool
}

type Buzzer interface {
	Warn()
	Alert()
	Stop()
}

// Set is the actuator capability set chosen at startup. Window is nil when no
// window lock is installed.
type Set struct {
	Door   Lock
	Window Lock
	Buzzer Buzzer
}

func (s Set) HasWindow() bool {
	return s.Window != nil
}

func (s Set) DoorLocked() bool {
	return s.Door != nil && s.Door.IsLocked()
}

func (s Set) WindowLocked() bool {
	return s.Window != nil && s.Window.IsLocked()
}

// LockDoor and UnlockDoor are no-ops when no door lock is wired.
func (s Set) LockDoor() {
	if s.Door != nil {
		s.Door.Lock()
	}
}

func (s Set) UnlockDoor() {
	if s.Door != nil {
		s.Door.Unlock()
	}
}

func (s Set) stopBuzzer() {
	if s.Buzzer != nil {
		s.Buzzer.Stop()
	}
}

func (s Set) lockAll() {
	s.LockDoor()
	if s.Window != nil {
		s.Window.Lock()
	}
}

// Dispatch applies the mode policy and then the command.
//
// startup_safe silences the buzzer and locks everything. Disarm silences the
// buzzer and leaves locks alone, except the window when the keep-locked flag is
// set. Armed modes lock both outputs.
func Dispatch(cmd types.Command, st types.SystemState, acts Set, logger *log.Logger) {
	switch {
	case st.Mode == types.ModeStartupSafe:
		acts.stopBuzzer()
		acts.lockAll()
	case st.Mode == types.ModeDisarm:
		acts.stopBuzzer()
		if acts.Window != nil && st.KeepWindowLockedWhenDisarmed {
			acts.Window.Lock()
		}
	default:
		acts.lockAll()
	}

	switch cmd.Type {
	case types.CommandBuzzerWarn:
		if acts.Buzzer != nil {
			acts.Buzzer.Warn()
		}
	case types.CommandBuzzerAlert:
		if acts.Buzzer != nil {
			acts.Buzzer.Alert()
		}
	case types.CommandServoLock:
		acts.lockAll()
	}

	if logger != nil && cmd.Type != types.CommandNone {
		logger.Debug("Dispatched %s in mode %s", cmd.Type, st.Mode)
	}
}

// MemoryLock is a lock with no hardware behind it.
type MemoryLock struct {
	mu     sync.Mutex
	locked bool
}

func (l *MemoryLock) Lock() {
	l.mu.Lock()
	l.locked = true
	l.mu.Unlock()
}

func (l *MemoryLock) Unlock() {
	l.mu.Lock()
	l.locked = false
	l.mu.Unlock()
}

func (l *MemoryLock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

type Pattern string

const (
	PatternSilent Pattern = "stop"
	PatternWarn   Pattern = "warn"
	PatternAlert  Pattern = "alert"
)

// MemoryBuzzer remembers the last pattern requested and how many warn and
// alert requests it has seen.
type MemoryBuzzer struct {
	mu     sync.Mutex
	last   Pattern
	warns  int
	alerts int
}

func (b *MemoryBuzzer) Warn() {
	b.mu.Lock()
	b.last = PatternWarn
	b.warns++
	b.mu.Unlock()
}

func (b *MemoryBuzzer) Alert() {
	b.mu.Lock()
	b.last = PatternAlert
	b.alerts++
	b.mu.Unlock()
}

func (b *MemoryBuzzer) Stop() {
	b.mu.Lock()
	b.last = PatternSilent
	b.mu.Unlock()
}

func (b *MemoryBuzzer) Last() Pattern {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func (b *MemoryBuzzer) Counts() (warns, alerts int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.warns, b.alerts
}
