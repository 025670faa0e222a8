package orchestrator

import (
	"fmt"

	"github.com/daemonp/zoneguard/internal/types"
)

func (o *Orchestrator) lockedOut(now uint32) bool {
	return o.lockoutUntil != 0 && !types.Reached(now, o.lockoutUntil)
}

func (o *Orchestrator) lockoutNotifyDue(now uint32) bool {
	return o.lastLockoutNotify == 0 || types.Reached(now, o.lastLockoutNotify+o.cfg.Rules.NotifyCooldownMs)
}

func (o *Orchestrator) processKeypadEvent(e types.Event, now uint32) {
	switch e.Type {
	case types.EventDoorHoldWarnSilence:
		o.silenceHoldWarning(now)
	case types.EventKeypadHelpRequest:
		o.helpRequest(e)
	case types.EventDoorCodeBad:
		o.badCode(e, now)
	case types.EventDoorCodeUnlock:
		o.codeUnlock(e, now)
	case types.EventDisarm:
		o.applyDecision(e)
	case types.EventArmAway, types.EventArmNight:
		if !o.cfg.Keypad.AllowArm {
			o.log.Warn("Keypad %s blocked: arming from keypad disabled", e.Type)
			o.publishStatus(now, "keypad_mode_blocked")
			return
		}
		o.applyDecision(e)
	default:
		o.log.Warn("Keypad event %s not permitted", e.Type)
	}
}

func (o *Orchestrator) badCode(e types.Event, now uint32) {
	if o.lockedOut(now) {
		if o.lockoutNotifyDue(now) {
			o.lastLockoutNotify = now
			o.notify(now, "door code rejected: keypad lockout active")
		}
		o.ack(now, "door_code", false, "keypad lockout")
		o.publishStatus(now, "keypad_unlock_reject_lockout")
		return
	}

	limit := o.cfg.Keypad.BadAttemptLimit
	if limit == 0 {
		limit = 1
	}
	if o.badAttempts < limit {
		o.badAttempts++
	}
	msg := fmt.Sprintf("wrong door code %d/%d", o.badAttempts, limit)
	reached := o.badAttempts >= limit
	if reached {
		msg += " (ALERT)"
	}
	o.notify(now, msg)
	o.ack(now, "door_code", false, msg)
	o.publishEvent(e, types.Command{Type: types.CommandNone, Timestamp: now})

	if !reached {
		o.publishStatus(now, "keypad_bad_code")
		return
	}
	if o.acts.Buzzer != nil {
		o.acts.Buzzer.Alert()
	}
	o.badAttempts = 0
	if o.cfg.Keypad.LockoutMs > 0 {
		o.lockoutUntil = now + o.cfg.Keypad.LockoutMs
		if o.lockoutUntil == 0 {
			o.lockoutUntil = 1
		}
		o.lastLockoutNotify = now
		o.notify(now, "keypad lockout enabled")
		o.publishStatus(now, "keypad_lockout_enabled")
		return
	}
	o.publishStatus(now, "keypad_bad_code_alert")
}

func (o *Orchestrator) codeUnlock(e types.Event, now uint32) {
	if o.lockedOut(now) {
		if o.lockoutNotifyDue(now) {
			o.lastLockoutNotify = now
			o.notify(now, "door code accepted: unlock blocked (keypad lockout)")
		}
		o.ack(now, "door_code", false, "keypad lockout")
		o.publishStatus(now, "keypad_unlock_reject_lockout")
		return
	}

	o.badAttempts = 0
	o.applyDecision(types.Event{Type: types.EventDisarm, Timestamp: now, Source: e.Source})

	if o.cfg.Health.FailClosedOnFault && o.faultActive {
		o.notify(now, "door code accepted: unlock blocked (sensor fault)")
		o.ack(now, "door_code", false, detailSensorFault)
		o.publishStatus(now, "keypad_unlock_reject_sensor_fault")
		return
	}

	o.acts.UnlockDoor()
	o.doorWasLocked = false
	if o.acts.HasWindow() {
		o.state.KeepWindowLockedWhenDisarmed = true
		o.acts.Window.Lock()
	}
	o.clearSession(true)
	o.startSession(now)
	o.notify(now, "door code accepted")
	o.ack(now, "door_code", true, o.lockDetail())
	o.publishStatus(now, "keypad_unlock")
}

func (o *Orchestrator) expireLockout(now uint32) {
	if o.lockoutUntil == 0 || !types.Reached(now, o.lockoutUntil) {
		return
	}
	o.lockoutUntil = 0
	o.lastLockoutNotify = now
	o.notify(now, "keypad lockout expired")
	o.publishStatus(now, "keypad_lockout_expired")
}
