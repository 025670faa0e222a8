// Package door runs the auto-relock countdown that follows a door unlock.
//
// The session never touches hardware. Update returns an Action and the caller
// applies it to the lock, buzzer and notifier.
package door

import (
	"github.com/daemonp/zoneguard/internal/config"
	"github.com/daemonp/zoneguard/internal/types"
)

// AutoLockAfterCloseMs is the grace between the door closing and the relock.
const AutoLockAfterCloseMs uint32 = 3000

// Countdown warn-before windows for the open and closing phases.
const (
	openCountdownWarnMs  uint32 = 2000
	closeCountdownWarnMs uint32 = 1000
)

const (
	NoticeRelockAfterClose = "door auto-locked after close"
	NoticeRelockTimeout    = "door auto-locked: unlock timeout"
	NoticeHoldWarnSilenced = "door-open warning silenced"
)

type Phase int

const (
	PhaseInactive Phase = iota
	PhaseWaitingForOpen
	PhaseOpen
	PhaseClosedPendingRelock
)

func (p Phase) String() string {
	switch p {
	case PhaseInactive:
		return "inactive"
	case PhaseWaitingForOpen:
		return "waiting_for_open"
	case PhaseOpen:
		return "open"
	case PhaseClosedPendingRelock:
		return "closed_pending_relock"
	}
	return "unknown"
}

// Action is what the caller must do after an Update or Silence.
type Action struct {
	Lock       bool
	Warn       bool
	StopBuzzer bool
	Notice     string
}

// Session is the door auto-relock state machine. The zero value is inactive.
type Session struct {
	phase       Phase
	doorWasOpen bool

	holdWarnActive   bool
	holdWarnSilenced bool

	unlockDeadline uint32
	openWarnAt     uint32
	closeLockAt    uint32
	nextWarn       uint32
}

func (s *Session) Active() bool {
	return s.phase != PhaseInactive
}

func (s *Session) Phase() Phase {
	return s.phase
}

// Start begins a session right after the door was unlocked.
func (s *Session) Start(now uint32, doorOpen bool, cfg config.DoorConfig) {
	*s = Session{
		phase:          PhaseWaitingForOpen,
		doorWasOpen:    doorOpen,
		unlockDeadline: now + cfg.UnlockTimeoutMs,
	}
	if doorOpen {
		s.phase = PhaseOpen
		s.openWarnAt = now + cfg.OpenHoldWarnAfterMs
	}
}

// Clear resets to inactive. The returned action stops the buzzer when asked.
func (s *Session) Clear(stopBuzzer bool) Action {
	*s = Session{}
	return Action{StopBuzzer: stopBuzzer}
}

// Update advances the session by one tick.
func (s *Session) Update(now uint32, doorOpen bool, cfg config.DoorConfig) Action {
	if !s.Active() {
		return Action{}
	}

	switch {
	case !s.doorWasOpen && doorOpen:
		s.phase = PhaseOpen
		s.holdWarnActive = false
		s.holdWarnSilenced = false
		s.openWarnAt = now + cfg.OpenHoldWarnAfterMs
		s.closeLockAt = 0
		s.nextWarn = 0
	case s.doorWasOpen && !doorOpen:
		s.phase = PhaseClosedPendingRelock
		s.holdWarnActive = false
		s.holdWarnSilenced = false
		s.openWarnAt = 0
		s.closeLockAt = now + AutoLockAfterCloseMs
		s.nextWarn = 0
	}
	s.doorWasOpen = doorOpen

	switch s.phase {
	case PhaseClosedPendingRelock:
		if !types.Reached(now, s.closeLockAt) {
			return Action{}
		}
		s.Clear(true)
		return Action{Lock: true, StopBuzzer: true, Notice: NoticeRelockAfterClose}

	case PhaseWaitingForOpen:
		if types.Reached(now, s.unlockDeadline) {
			s.Clear(true)
			return Action{Lock: true, StopBuzzer: true, Notice: NoticeRelockTimeout}
		}
		if s.unlockDeadline-now <= cfg.UnlockWarnBeforeMs && s.warnDue(now) {
			s.nextWarn = now + cfg.WarnRetriggerMs
			return Action{Warn: true}
		}

	case PhaseOpen:
		if doorOpen && s.openWarnAt != 0 && types.Reached(now, s.openWarnAt) {
			s.holdWarnActive = true
			if !s.holdWarnSilenced && s.warnDue(now) {
				s.nextWarn = now + cfg.WarnRetriggerMs
				return Action{Warn: true}
			}
		}
	}
	return Action{}
}

func (s *Session) warnDue(now uint32) bool {
	return s.nextWarn == 0 || types.Reached(now, s.nextWarn)
}

// Silence mutes the hold-open warning. It only applies while the door is held
// open past the warning point; otherwise ok is false and nothing changes.
func (s *Session) Silence(doorOpen bool) (Action, bool) {
	if !s.Active() || !doorOpen || !s.holdWarnActive {
		return Action{}, false
	}
	s.holdWarnSilenced = true
	return Action{StopBuzzer: true, Notice: NoticeHoldWarnSilenced}, true
}

// Countdown is the display projection for whichever deadline is live.
type Countdown struct {
	Active       bool   `json:"active"`
	DeadlineMs   uint32 `json:"deadline_ms,omitempty"`
	WarnBeforeMs uint32 `json:"warn_before_ms,omitempty"`
}

// Countdown reports the live deadline without mutating the session.
func (s *Session) Countdown(now uint32, doorLocked, doorOpen bool, cfg config.DoorConfig) Countdown {
	if !s.Active() || doorLocked {
		return Countdown{}
	}
	var c Countdown
	switch {
	case s.phase == PhaseWaitingForOpen:
		c = Countdown{DeadlineMs: s.unlockDeadline, WarnBeforeMs: cfg.UnlockWarnBeforeMs}
	case doorOpen:
		c = Countdown{DeadlineMs: s.openWarnAt, WarnBeforeMs: openCountdownWarnMs}
	case s.closeLockAt != 0:
		c = Countdown{DeadlineMs: s.closeLockAt, WarnBeforeMs: closeCountdownWarnMs}
	default:
		return Countdown{}
	}
	c.Active = c.DeadlineMs != 0 && types.Before(now, c.DeadlineMs)
	return c
}
