// Package rules maps sensor and mode events to arming mode, alarm level and an
// actuator command through a decaying suspicion score.
package rules

import (
	"github.com/daemonp/zoneguard/internal/config"
	"github.com/daemonp/zoneguard/internal/types"
)

// Score thresholds for the alarm levels.
const (
	WarnThreshold     uint8 = 15
	AlertThreshold    uint8 = 45
	CriticalThreshold uint8 = 80

	MaxScore uint8 = 100
)

// Points awarded per event, with correlation bonuses.
const (
	pointsDoorEntry     = 15
	pointsWindow        = 40
	pointsWindowOutdoor = 15
	pointsWindowVib     = 10
	pointsIndoor        = 18
	pointsIndoorWindow  = 20
	pointsIndoorVib     = 12
	pointsIndoorDoor    = 8
	pointsOutdoor       = 10
	pointsVib           = 22
	pointsVibOutdoor    = 12
	pointsVibWindow     = 10
	pointsTamper        = 65
	pointsTamperOutdoor = 15
)

// Engine is stateless. The zero value is ready to use and safe for concurrent calls.
type Engine struct{}

// Handle applies e to s and returns the next state with the command to dispatch.
// Only the timestamp carried on e is consulted for time.
func (Engine) Handle(s types.SystemState, cfg config.RulesConfig, e types.Event) types.Decision {
	now := e.Timestamp
	d := types.Decision{
		Next:    s,
		Command: types.Command{Type: types.CommandNone, Timestamp: now},
	}
	next := &d.Next
	applyDecay(next, cfg, now)

	if e.Type.IsModeEvent() {
		next.Mode = modeFor(e.Type)
		next.Level = types.LevelOff
		next.EntryPending = false
		next.EntryDeadlineMs = 0
		next.SuspicionScore = 0
		next.LastSuspicionUpdateMs = now
		next.LastOutdoorMotionMs = 0
		next.LastWindowEventMs = 0
		next.LastVibrationMs = 0
		next.LastDoorEventMs = 0
		return d
	}

	// A door opening while the lock is engaged is forced entry in every mode.
	if e.Type == types.EventDoorOpen && s.DoorLocked {
		next.EntryPending = false
		next.EntryDeadlineMs = 0
		next.LastDoorEventMs = now
		next.SuspicionScore = MaxScore
		next.Level = types.LevelAlert
		d.Command.Type = types.CommandBuzzerAlert
		return d
	}

	if !s.Mode.Armed() {
		next.Level = levelFromScore(next.SuspicionScore, cfg)
		return d
	}

	window := cfg.CorrelationWindowMs

	switch e.Type {
	case types.EventDoorOpen:
		if s.EntryPending {
			return d
		}
		if types.Within(now, s.LastIndoorActivityMs, cfg.ExitGraceAfterIndoorActivityMs) {
			return d
		}
		next.EntryPending = true
		next.EntryDeadlineMs = now + cfg.EntryDelayMs
		next.LastDoorEventMs = now
		addScore(next, pointsDoorEntry)
		next.Level = levelFromScore(next.SuspicionScore, cfg)
		d.Command.Type = types.CommandBuzzerWarn
		return d

	case types.EventEntryTimeout:
		next.EntryPending = false
		next.EntryDeadlineMs = 0
		next.SuspicionScore = MaxScore
		if cfg.CriticalLevelEnabled {
			next.Level = types.LevelCritical
			d.Command.Type = criticalCommand(next, cfg, now)
		} else {
			next.Level = types.LevelAlert
			d.Command.Type = types.CommandBuzzerAlert
		}
		return d

	case types.EventWindowOpen:
		next.LastWindowEventMs = now
		addScore(next, pointsWindow)
		if types.Within(now, s.LastOutdoorMotionMs, window) {
			addScore(next, pointsWindowOutdoor)
		}
		if types.Within(now, s.LastVibrationMs, window) {
			addScore(next, pointsWindowVib)
		}
		next.Level = levelFromScore(next.SuspicionScore, cfg)
		d.Command.Type = escalate(next, cfg, now)
		return d

	case types.EventMotion, types.EventChokepoint:
		src := types.NormalizeMotionSource(e.Source)
		indoor := e.Type == types.EventChokepoint || src != cfg.OutdoorPIRSource
		if indoor {
			next.LastIndoorActivityMs = now
			addScore(next, pointsIndoor)
			if types.Within(now, s.LastWindowEventMs, window) {
				addScore(next, pointsIndoorWindow)
			}
			if types.Within(now, s.LastVibrationMs, window) {
				addScore(next, pointsIndoorVib)
			}
			if types.Within(now, s.LastDoorEventMs, window) {
				addScore(next, pointsIndoorDoor)
			}
		} else {
			next.LastOutdoorMotionMs = now
			addScore(next, pointsOutdoor)
		}
		next.Level = levelFromScore(next.SuspicionScore, cfg)
		d.Command.Type = escalate(next, cfg, now)
		return d

	case types.EventVibSpike:
		next.LastVibrationMs = now
		addScore(next, pointsVib)
		if types.Within(now, s.LastOutdoorMotionMs, window) {
			addScore(next, pointsVibOutdoor)
		}
		if types.Within(now, s.LastWindowEventMs, window) {
			addScore(next, pointsVibWindow)
		}
		next.Level = levelFromScore(next.SuspicionScore, cfg)
		if next.SuspicionScore >= CriticalThreshold {
			next.EntryPending = false
			next.EntryDeadlineMs = 0
		}
		d.Command.Type = escalate(next, cfg, now)
		return d

	case types.EventDoorTamper:
		addScore(next, pointsTamper)
		if types.Within(now, s.LastOutdoorMotionMs, window) {
			addScore(next, pointsTamperOutdoor)
		}
		next.Level = levelFromScore(next.SuspicionScore, cfg)
		if next.SuspicionScore >= CriticalThreshold {
			next.EntryPending = false
			next.EntryDeadlineMs = 0
		}
		if next.Level == types.LevelCritical {
			d.Command.Type = criticalCommand(next, cfg, now)
		} else {
			d.Command.Type = types.CommandBuzzerAlert
		}
		return d
	}

	next.Level = levelFromScore(next.SuspicionScore, cfg)
	return d
}

func modeFor(t types.EventType) types.Mode {
	switch t {
	case types.EventArmAway:
		return types.ModeAway
	case types.EventArmNight:
		return types.ModeNight
	default:
		return types.ModeDisarm
	}
}

func applyDecay(s *types.SystemState, cfg config.RulesConfig, now uint32) {
	if s.LastSuspicionUpdateMs == 0 {
		s.LastSuspicionUpdateMs = now
		return
	}
	if cfg.SuspicionDecayStepMs == 0 || cfg.SuspicionDecayPoints == 0 {
		s.LastSuspicionUpdateMs = now
		return
	}
	steps := (now - s.LastSuspicionUpdateMs) / cfg.SuspicionDecayStepMs
	if steps == 0 {
		return
	}
	decay := uint64(steps) * uint64(cfg.SuspicionDecayPoints)
	if decay >= uint64(s.SuspicionScore) {
		s.SuspicionScore = 0
	} else {
		s.SuspicionScore -= uint8(decay)
	}
	s.LastSuspicionUpdateMs = now
}

func addScore(s *types.SystemState, points uint8) {
	sum := uint16(s.SuspicionScore) + uint16(points)
	if sum > uint16(MaxScore) {
		sum = uint16(MaxScore)
	}
	s.SuspicionScore = uint8(sum)
}

// LevelFromScore maps a score onto an alarm level. Critical is only produced when enabled.
func LevelFromScore(score uint8, criticalEnabled bool) types.AlarmLevel {
	switch {
	case criticalEnabled && score >= CriticalThreshold:
		return types.LevelCritical
	case score >= AlertThreshold:
		return types.LevelAlert
	case score >= WarnThreshold:
		return types.LevelWarn
	default:
		return types.LevelOff
	}
}

func levelFromScore(score uint8, cfg config.RulesConfig) types.AlarmLevel {
	return LevelFromScore(score, cfg.CriticalLevelEnabled)
}

// escalate picks the buzzer pattern for the level, deferring to the notify
// policy once the level is critical.
func escalate(s *types.SystemState, cfg config.RulesConfig, now uint32) types.CommandType {
	switch {
	case s.Level == types.LevelCritical:
		return criticalCommand(s, cfg, now)
	case s.Level >= types.LevelAlert:
		return types.CommandBuzzerAlert
	default:
		return types.CommandBuzzerWarn
	}
}

// criticalCommand emits at most one notify per cooldown. Between notifications
// it falls back to the alert buzzer when configured, otherwise stays quiet.
func criticalCommand(s *types.SystemState, cfg config.RulesConfig, now uint32) types.CommandType {
	if s.LastNotifyMs == 0 || now-s.LastNotifyMs >= cfg.NotifyCooldownMs {
		s.LastNotifyMs = now
		return types.CommandNotify
	}
	if cfg.CriticalFallbackToAlert {
		return types.CommandBuzzerAlert
	}
	return types.CommandNone
}
