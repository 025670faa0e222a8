package sensors

import "github.com/daemonp/zoneguard/internal/types"

// ActivityTracker follows a binary input (PIR, vibration) for stuck-active detection.
//
// A channel that has never been seen inactive is not reported stuck, so an
// input floating high at boot does not latch a fault.
type ActivityTracker struct {
	active       bool
	activeSince  uint32
	seenInactive bool
}

// Observe records a sample and reports whether it was a rising edge.
func (a *ActivityTracker) Observe(now uint32, active bool) bool {
	rising := active && !a.active
	switch {
	case rising:
		a.activeSince = now
	case !active:
		a.activeSince = 0
		a.seenInactive = true
	}
	a.active = active
	return rising
}

func (a *ActivityTracker) Active() bool {
	return a.active
}

func (a *ActivityTracker) StuckActive(now, thresholdMs uint32) bool {
	if !a.seenInactive || !a.active || a.activeSince == 0 || thresholdMs == 0 {
		return false
	}
	return types.Reached(now, a.activeSince+thresholdMs)
}

// RangeTracker follows a ranging sensor for offline detection.
type RangeTracker struct {
	noEcho    uint16
	lastValid uint32
	lastCm    int
}

// Observe records a reading; a negative distance means no echo.
func (r *RangeTracker) Observe(now uint32, cm int) {
	r.lastCm = cm
	if cm < 0 {
		if r.noEcho < 0xFFFF {
			r.noEcho++
		}
		return
	}
	r.noEcho = 0
	r.lastValid = now
}

func (r *RangeTracker) LastCm() int { return r.lastCm }
func (r *RangeTracker) ConsecutiveNoEcho() uint16 { return r.noEcho }

// Offline is true once the no-echo streak reaches noEchoLimit or no valid
// reading arrived for noValidMs. A zero limit disables that check.
func (r *RangeTracker) Offline(now, noValidMs uint32, noEchoLimit uint16) bool {
	tooManyMisses := noEchoLimit > 0 && r.noEcho >= noEchoLimit
	if noValidMs == 0 {
		return tooManyMisses
	}
	var silent bool
	if r.lastValid == 0 {
		silent = types.Reached(now, noValidMs)
	} else {
		silent = types.Reached(now, r.lastValid+noValidMs)
	}
	return tooManyMisses || silent
}

// Chokepoint turns range readings into passage events with near/far hysteresis.
type Chokepoint struct {
	ID         uint8
	NearCm     int
	FarCm      int
	CooldownMs uint32

	Range    RangeTracker
	inside   bool
	lastFire uint32
}

func NewChokepoint(id uint8) *Chokepoint {
	return &Chokepoint{ID: id, NearCm: 5, FarCm: 10, CooldownMs: 1500}
}

// Sample feeds one reading and returns a chokepoint event on entry to the near zone.
func (c *Chokepoint) Sample(now uint32, cm int) (types.Event, bool) {
	c.Range.Observe(now, cm)
	if cm < 0 {
		return types.Event{}, false
	}
	if c.inside {
		if cm >= c.FarCm {
			c.inside = false
		}
		return types.Event{}, false
	}
	if cm > c.NearCm {
		return types.Event{}, false
	}
	c.inside = true
	if c.lastFire != 0 && now-c.lastFire < c.CooldownMs {
		return types.Event{}, false
	}
	c.lastFire = now
	return types.Event{Type: types.EventChokepoint, Timestamp: now, Source: c.ID}, true
}

// Edge fires a single event type on rising edges of a binary input, with a cooldown.
type Edge struct {
	Type       types.EventType
	ID         uint8
	CooldownMs uint32

	Activity ActivityTracker
	lastFire uint32
}

func (e *Edge) Sample(now uint32, active bool) (types.Event, bool) {
	if !e.Activity.Observe(now, active) {
		return types.Event{}, false
	}
	if e.lastFire != 0 && now-e.lastFire < e.CooldownMs {
		return types.Event{}, false
	}
	e.lastFire = now
	return types.Event{Type: e.Type, Timestamp: now, Source: e.ID}, true
}
