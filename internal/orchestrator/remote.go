package orchestrator

import (
	"errors"
	"fmt"

	"github.com/daemonp/zoneguard/internal/replay"
	"github.com/daemonp/zoneguard/internal/types"
	"github.com/daemonp/zoneguard/internal/util"
)

// Canonical remote commands. Ack records carry these names.
const (
	cmdStatus       = "status"
	cmdDisarm       = "disarm"
	cmdArmAway      = "arm away"
	cmdArmNight     = "arm night"
	cmdLockDoor     = "lock door"
	cmdLockWindow   = "lock window"
	cmdLockAll      = "lock all"
	cmdUnlockDoor   = "unlock door"
	cmdUnlockWindow = "unlock window"
	cmdUnlockAll    = "unlock all"
	cmdBuzzWarn     = "buzz warn"
	cmdBuzzerAlert  = "buzzer alert"
	cmdSilence      = "silence"
)

var remoteAliases = map[string]string{
	"buzz":        cmdBuzzWarn,
	"buzzer":      cmdBuzzWarn,
	"buzzer warn": cmdBuzzWarn,
	"alarm":       cmdBuzzerAlert,
	"alarm on":    cmdBuzzerAlert,
	"buzz alarm":  cmdBuzzerAlert,
	"buzz alert":  cmdBuzzerAlert,
	"alarm off":   cmdSilence,
	"buzz stop":   cmdSilence,
	"buzzer stop": cmdSilence,
	"mode disarm": cmdDisarm,
	"arm_away":    cmdArmAway,
	"mode away":   cmdArmAway,
	"arm_night":   cmdArmNight,
	"mode night":  cmdArmNight,
}

// CanonicalCommand resolves aliases. Input is expected to be normalized already.
func CanonicalCommand(cmd string) string {
	if c, ok := remoteAliases[cmd]; ok {
		return c
	}
	return cmd
}

func (o *Orchestrator) processRemoteCommand(payload string, now uint32) {
	req, err := o.auth.Authorize(payload, now)
	if err != nil {
		reason := "remote_auth_reject"
		switch {
		case errors.Is(err, replay.ErrNonceStorage):
			reason = "remote_auth_reject_nonce_storage"
		case errors.Is(err, replay.ErrReplay):
			reason = "remote_replay_reject"
		}
		o.ack(now, "auth", false, err.Error())
		o.publishStatus(now, reason)
		return
	}

	cmd := CanonicalCommand(util.NormalizeCommand(req.Command))
	o.log.Info("Remote command %q", cmd)

	switch cmd {
	case cmdBuzzWarn:
		if o.acts.Buzzer != nil {
			o.acts.Buzzer.Warn()
		}
		o.remoteOK(now, cmd, "ok", "remote_buzz_warn")

	case cmdBuzzerAlert:
		if o.acts.Buzzer != nil {
			o.acts.Buzzer.Alert()
		}
		o.remoteOK(now, cmd, "ok", "remote_alarm")

	case cmdSilence:
		if o.acts.Buzzer != nil {
			o.acts.Buzzer.Stop()
		}
		o.remoteOK(now, cmd, "ok", "remote_silence")

	case cmdDisarm, cmdArmAway, cmdArmNight:
		t := types.EventDisarm
		if cmd == cmdArmAway {
			t = types.EventArmAway
		} else if cmd == cmdArmNight {
			t = types.EventArmNight
		}
		o.applyDecision(types.Event{Type: t, Timestamp: now, Source: types.RemoteSource})
		o.ack(now, cmd, true, "ok")

	case cmdStatus:
		o.syncLive()
		o.notify(now, fmt.Sprintf("mode=%s level=%s door_open=%s window_open=%s door_locked=%s window_locked=%s",
			o.state.Mode, o.state.Level,
			util.BoolDigit(o.state.DoorOpen), util.BoolDigit(o.state.WindowOpen),
			util.BoolDigit(o.state.DoorLocked), util.BoolDigit(o.state.WindowLocked)))
		o.remoteOK(now, cmd, o.lockDetail(), "remote_status")

	case cmdLockDoor:
		if o.collector.IsDoorOpen() {
			o.remoteReject(now, cmd, "door open", "lock door rejected: door is open", "remote_lock_door_reject")
			return
		}
		o.acts.LockDoor()
		o.doorWasLocked = true
		o.clearSession(true)
		o.remoteOK(now, cmd, o.lockDetail(), "remote_lock_door")

	case cmdLockWindow:
		if !o.acts.HasWindow() {
			o.remoteReject(now, cmd, detailNoWindowLock, "", "remote_lock_window_unsupported")
			return
		}
		if o.collector.IsWindowOpen() {
			o.remoteReject(now, cmd, "window open", "lock window rejected: window is open", "remote_lock_window_reject")
			return
		}
		o.acts.Window.Lock()
		o.state.KeepWindowLockedWhenDisarmed = true
		o.remoteOK(now, cmd, o.lockDetail(), "remote_lock_window")

	case cmdLockAll:
		if o.collector.IsDoorOpen() {
			o.remoteReject(now, cmd, "door open", "lock all rejected: door is open", "remote_lock_all_reject_door")
			return
		}
		if o.acts.HasWindow() && o.collector.IsWindowOpen() {
			o.remoteReject(now, cmd, "window open", "lock all rejected: window is open", "remote_lock_all_reject_window")
			return
		}
		o.acts.LockDoor()
		o.doorWasLocked = true
		o.clearSession(true)
		if o.acts.HasWindow() {
			o.acts.Window.Lock()
			o.state.KeepWindowLockedWhenDisarmed = true
		}
		o.remoteOK(now, cmd, o.lockDetail(), "remote_lock_all")

	case cmdUnlockDoor:
		if o.remoteUnlockBlocked(now, cmd, "remote_unlock_door") {
			return
		}
		o.acts.UnlockDoor()
		o.doorWasLocked = false
		o.clearSession(true)
		o.startSession(now)
		o.remoteOK(now, cmd, o.lockDetail(), "remote_unlock_door")

	case cmdUnlockWindow:
		if !o.acts.HasWindow() {
			o.remoteReject(now, cmd, detailNoWindowLock, "", "remote_unlock_window_unsupported")
			return
		}
		if o.remoteUnlockBlocked(now, cmd, "remote_unlock_window") {
			return
		}
		o.state.KeepWindowLockedWhenDisarmed = false
		o.acts.Window.Unlock()
		o.remoteOK(now, cmd, o.lockDetail(), "remote_unlock_window")

	case cmdUnlockAll:
		if o.remoteUnlockBlocked(now, cmd, "remote_unlock_all") {
			return
		}
		o.acts.UnlockDoor()
		o.doorWasLocked = false
		o.clearSession(true)
		o.startSession(now)
		if o.acts.HasWindow() {
			o.state.KeepWindowLockedWhenDisarmed = false
			o.acts.Window.Unlock()
		}
		o.remoteOK(now, cmd, o.lockDetail(), "remote_unlock_all")

	default:
		o.ack(now, "unknown", false, "unsupported command")
		o.publishStatus(now, "remote_unknown")
	}
}

// remoteUnlockBlocked applies the fail-closed and disarm-only unlock policy.
func (o *Orchestrator) remoteUnlockBlocked(now uint32, cmd, reason string) bool {
	switch o.unlockBlocked() {
	case detailSensorFault:
		o.remoteReject(now, cmd, detailSensorFault, cmd+" rejected: sensor fault", reason+"_reject_sensor_fault")
		return true
	case detailDisarmRequired:
		o.remoteReject(now, cmd, detailDisarmRequired, cmd+" rejected: disarm required", reason+"_reject_mode")
		return true
	}
	return false
}

func (o *Orchestrator) remoteOK(now uint32, cmd, detail, reason string) {
	o.ack(now, cmd, true, detail)
	o.publishStatus(now, reason)
}

func (o *Orchestrator) remoteReject(now uint32, cmd, detail, notice, reason string) {
	if notice != "" {
		o.notify(now, notice)
	}
	o.ack(now, cmd, false, detail)
	o.publishStatus(now, reason)
}

// lockDetail renders the lock/open snapshot carried on successful acks.
func (o *Orchestrator) lockDetail() string {
	o.syncLive()
	return fmt.Sprintf("dL=%s,wL=%s,dO=%s,wO=%s",
		util.BoolDigit(o.state.DoorLocked), util.BoolDigit(o.state.WindowLocked),
		util.BoolDigit(o.state.DoorOpen), util.BoolDigit(o.state.WindowOpen))
}
