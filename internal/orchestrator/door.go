package orchestrator

import (
	"github.com/daemonp/zoneguard/internal/door"
	"github.com/daemonp/zoneguard/internal/types"
)

func (o *Orchestrator) startSession(now uint32) {
	o.session.Start(now, o.collector.IsDoorOpen(), o.cfg.Door)
}

func (o *Orchestrator) clearSession(stopBuzzer bool) {
	o.applyDoorAction(0, o.session.Clear(stopBuzzer))
}

func (o *Orchestrator) updateSession(now uint32) {
	o.applyDoorAction(now, o.session.Update(now, o.collector.IsDoorOpen(), o.cfg.Door))
}

func (o *Orchestrator) applyDoorAction(now uint32, a door.Action) {
	if a.Lock && o.acts.Door != nil {
		o.acts.LockDoor()
		o.doorWasLocked = true
	}
	if o.acts.Buzzer != nil {
		switch {
		case a.StopBuzzer:
			o.acts.Buzzer.Stop()
		case a.Warn:
			o.acts.Buzzer.Warn()
		}
	}
	if a.Notice != "" {
		o.notify(now, a.Notice)
	}
}

func (o *Orchestrator) silenceHoldWarning(now uint32) {
	a, ok := o.session.Silence(o.collector.IsDoorOpen())
	if !ok {
		o.log.Debug("Silence ignored: no door-open hold warning active")
		return
	}
	o.applyDoorAction(now, a)
}

func (o *Orchestrator) helpRequest(e types.Event) {
	o.notify(e.Timestamp, "HELP requested from keypad")
	o.publishEvent(e, types.Command{Type: types.CommandNone, Timestamp: e.Timestamp})
	o.publishStatus(e.Timestamp, "keypad_help_request")
}

const (
	detailSensorFault    = "sensor fault"
	detailDisarmRequired = "disarm required"
	detailNoWindowLock   = "window lock not installed"
)

// unlockBlocked returns the rejection detail for an unlock, or "" when allowed.
func (o *Orchestrator) unlockBlocked() string {
	if o.cfg.Health.FailClosedOnFault && o.faultActive {
		return detailSensorFault
	}
	if o.state.Mode != types.ModeDisarm {
		return detailDisarmRequired
	}
	return ""
}

func (o *Orchestrator) processManualToggle(e types.Event) {
	now := e.Timestamp
	telemetry := func(reason string) {
		o.publishEvent(e, types.Command{Type: types.CommandNone, Timestamp: now})
		o.publishStatus(now, reason)
	}

	if e.Type == types.EventManualDoorToggle {
		if o.acts.DoorLocked() {
			switch o.unlockBlocked() {
			case detailSensorFault:
				o.notify(now, "manual door unlock blocked: sensor fault")
				telemetry("manual_door_unlock_reject_sensor_fault")
				return
			case detailDisarmRequired:
				o.notify(now, "manual door unlock blocked: disarm required")
				telemetry("manual_door_unlock_reject_mode")
				return
			}
			o.acts.UnlockDoor()
			o.clearSession(true)
			o.startSession(now)
			o.doorWasLocked = false
			o.notify(now, "manual door: unlocked")
			telemetry("manual_door_unlock")
			return
		}
		if o.collector.IsDoorOpen() {
			o.notify(now, "manual door lock rejected: door is open")
			telemetry("manual_door_lock_reject_open")
			return
		}
		o.acts.LockDoor()
		o.doorWasLocked = true
		o.clearSession(true)
		o.notify(now, "manual door: locked")
		telemetry("manual_door_lock")
		return
	}

	if !o.acts.HasWindow() {
		o.notify(now, "manual window: no window lock installed")
		telemetry("manual_window_unsupported")
		return
	}
	if o.acts.WindowLocked() {
		switch o.unlockBlocked() {
		case detailSensorFault:
			o.notify(now, "manual window unlock blocked: sensor fault")
			telemetry("manual_window_unlock_reject_sensor_fault")
			return
		case detailDisarmRequired:
			o.notify(now, "manual window unlock blocked: disarm required")
			telemetry("manual_window_unlock_reject_mode")
			return
		}
		o.state.KeepWindowLockedWhenDisarmed = false
		o.acts.Window.Unlock()
		o.notify(now, "manual window: unlocked")
		telemetry("manual_window_unlock")
		return
	}
	if o.collector.IsWindowOpen() {
		o.notify(now, "manual window lock rejected: window is open")
		telemetry("manual_window_lock_reject_open")
		return
	}
	o.state.KeepWindowLockedWhenDisarmed = true
	o.acts.Window.Lock()
	o.notify(now, "manual window: locked")
	telemetry("manual_window_lock")
}
