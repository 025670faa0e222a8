// Package orchestrator owns the system state and runs the decision loop. Each
// tick it supervises sensors, advances the door session, serves one remote
// command and processes at most one event from the keypad > entry timeout >
// sensor priority ladder.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/daemonp/zoneguard/internal/actuator"
	"github.com/daemonp/zoneguard/internal/config"
	"github.com/daemonp/zoneguard/internal/door"
	"github.com/daemonp/zoneguard/internal/log"
	"github.com/daemonp/zoneguard/internal/nvs"
	"github.com/daemonp/zoneguard/internal/outbox"
	"github.com/daemonp/zoneguard/internal/replay"
	"github.com/daemonp/zoneguard/internal/rules"
	"github.com/daemonp/zoneguard/internal/sensors"
	"github.com/daemonp/zoneguard/internal/types"
)

// Sink is the outbox side the decision loop talks to. Both calls must not block.
type Sink interface {
	Publish(r outbox.Record) error
	NextCommand() (string, bool)
}

type Orchestrator struct {
	cfg       *config.Config
	log       *log.Logger
	clock     types.Clock
	engine    rules.Engine
	collector sensors.Collector
	acts      actuator.Set
	sink      Sink
	kv        nvs.KV
	kvReady   bool
	auth      *replay.Authorizer

	state         types.SystemState
	session       door.Session
	doorWasLocked bool

	badAttempts       uint8
	lockoutUntil      uint32
	lastLockoutNotify uint32

	faultActive     bool
	faultDetail     string
	lastFaultNotify uint32
	nextHealthCheck uint32

	nextHeartbeat uint32

	onOverrun func()
}

// New wires the orchestrator. kv may be nil, which leaves persistence
// unavailable and arms the fail-closed policies.
func New(cfg *config.Config, collector sensors.Collector, acts actuator.Set, sink Sink, kv nvs.KV, clock types.Clock, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Nop()
	}
	if kv == nil {
		kv = nvs.Unavailable{}
	}
	if clock == nil {
		clock = types.NewMonotonicClock()
	}
	o := &Orchestrator{
		cfg:       cfg,
		log:       logger,
		clock:     clock,
		collector: collector,
		acts:      acts,
		sink:      sink,
		kv:        kv,
		auth:      replay.NewAuthorizer(cfg.Remote, kv, logger.With("remote")),
		state:     types.NewSystemState(),
	}
	o.kvReady = o.auth.PersistenceReady()
	return o
}

// SetOverrunHook registers fn to be called when a tick runs past its period.
func (o *Orchestrator) SetOverrunHook(fn func()) {
	o.onOverrun = fn
}

// State returns the live state. Only the decision loop goroutine may call it.
func (o *Orchestrator) State() types.SystemState {
	return o.state
}

// Begin restores persisted mode, pre-locks closed openings and publishes the boot status.
func (o *Orchestrator) Begin(now uint32) {
	if !o.kvReady {
		if o.cfg.Remote.FailClosedIfNoncePersistenceMissing {
			o.notify(now, "WARN: nonce persistence disabled; remote mutating commands blocked")
		} else {
			o.notify(now, "WARN: nonce persistence disabled")
		}
	} else {
		o.restoreMode(now)
	}

	if o.collector.IsDoorOpen() {
		o.notify(now, "startup: door open, skip pre-lock")
	} else {
		o.acts.LockDoor()
	}
	if o.acts.HasWindow() {
		if o.collector.IsWindowOpen() {
			o.notify(now, "startup: window open, skip pre-lock")
		} else {
			o.acts.Window.Lock()
		}
	}
	o.doorWasLocked = o.acts.DoorLocked()

	o.updateSensorHealth(now)
	o.publishStatus(now, "boot")
	o.nextHeartbeat = 0

	o.log.Info("Controller ready: mode=%s keypad_arm=%t window_lock=%t", o.state.Mode, o.cfg.Keypad.AllowArm, o.acts.HasWindow())
}

// Run ticks until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	period := time.Duration(o.cfg.TickMs) * time.Millisecond
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			o.Tick(o.clock.NowMs())
			if time.Since(start) > period && o.onOverrun != nil {
				o.onOverrun()
			}
		}
	}
}

// Tick runs one decision loop iteration at now.
func (o *Orchestrator) Tick(now uint32) {
	o.autoStartRelock(now)
	o.updateSensorHealth(now)
	o.updateSession(now)
	o.expireLockout(now)

	if o.nextHeartbeat == 0 || types.Reached(now, o.nextHeartbeat) {
		o.nextHeartbeat = now + o.cfg.StatusHeartbeatMs
		o.publishStatus(now, "periodic")
	}

	if payload, ok := o.sink.NextCommand(); ok {
		o.processRemoteCommand(payload, now)
	}

	if e, ok := o.collector.PollKeypad(now); ok {
		o.processKeypadEvent(e, now)
		o.updateSession(now)
		return
	}

	if o.state.EntryPending && types.Reached(now, o.state.EntryDeadlineMs) {
		o.applyDecision(types.Event{Type: types.EventEntryTimeout, Timestamp: now})
		return
	}

	e, ok := o.collector.PollSensor(now)
	if !ok {
		return
	}
	o.processSensorEvent(e)
}

// autoStartRelock starts a session when the door went from locked to unlocked
// while closed by a path that did not start one itself.
func (o *Orchestrator) autoStartRelock(now uint32) {
	locked := o.acts.DoorLocked()
	if !o.session.Active() && o.doorWasLocked && !locked && !o.collector.IsDoorOpen() {
		o.startSession(now)
	}
	o.doorWasLocked = locked
}

func (o *Orchestrator) processSensorEvent(e types.Event) {
	if types.IsSyntheticSource(e.Source) {
		switch {
		case e.Type.IsModeEvent() && !o.cfg.Serial.AllowModeCommands:
			o.log.Warn("Serial mode event %s blocked by policy", e.Type)
			o.publishStatus(e.Timestamp, "serial_mode_blocked")
			return
		case e.Type.IsManualActuator() && !o.cfg.Serial.AllowManualCommands:
			o.log.Warn("Serial manual actuator event %s blocked by policy", e.Type)
			o.publishStatus(e.Timestamp, "serial_manual_blocked")
			return
		case e.Type.IsSensor() && !o.cfg.Serial.AllowSensorCommands:
			o.log.Warn("Serial sensor event %s blocked by policy", e.Type)
			o.publishStatus(e.Timestamp, "serial_sensor_blocked")
			return
		}
	}

	switch {
	case e.Type == types.EventDoorHoldWarnSilence:
		o.silenceHoldWarning(e.Timestamp)
	case e.Type == types.EventKeypadHelpRequest:
		o.helpRequest(e)
	case e.Type.IsManualActuator():
		o.processManualToggle(e)
	default:
		o.applyDecision(e)
	}
}

// applyDecision runs e through the rule engine against a fresh live snapshot
// and applies the result.
func (o *Orchestrator) applyDecision(e types.Event) {
	o.syncLive()
	prev := o.state
	d := o.engine.Handle(o.state, o.cfg.Rules, e)
	o.state = d.Next
	o.persistModeIfChanged(prev.Mode)

	actuator.Dispatch(d.Command, o.state, o.acts, o.log)
	if d.Command.Type == types.CommandNotify {
		o.notify(e.Timestamp, fmt.Sprintf("CRITICAL: %s while %s (score %d)", e.Type, o.state.Mode, o.state.SuspicionScore))
	}
	if o.state.Mode.Armed() && o.session.Active() {
		o.clearSession(true)
	}

	o.publishEvent(e, d.Command)
	o.publishStatus(e.Timestamp, e.Type.String())
	o.traceDecision(e, d, prev)
}

func (o *Orchestrator) traceDecision(e types.Event, d types.Decision, prev types.SystemState) {
	o.log.Decision(e.Type.String(), d.Next.Mode.String(), d.Next.Level.String(), d.Next.SuspicionScore, d.Next.EntryPending, d.Command.Type.String())
	if d.Next.Mode != prev.Mode {
		o.log.Trace("state.mode %s -> %s", prev.Mode, d.Next.Mode)
	}
	if d.Next.Level != prev.Level {
		o.log.Trace("state.level %s -> %s", prev.Level, d.Next.Level)
	}
	if o.state.DoorLocked != prev.DoorLocked || o.state.WindowLocked != prev.WindowLocked {
		o.log.Trace("output door_locked=%t window_locked=%t", o.state.DoorLocked, o.state.WindowLocked)
	}
}

// syncLive mirrors lock and contact state into the system state.
func (o *Orchestrator) syncLive() {
	o.state.DoorLocked = o.acts.DoorLocked()
	o.state.WindowLocked = o.acts.WindowLocked()
	o.state.DoorOpen = o.collector.IsDoorOpen()
	o.state.WindowOpen = o.collector.IsWindowOpen()
}

func (o *Orchestrator) restoreMode(now uint32) {
	v, found, err := o.kv.GetUint(nvs.KeyMode)
	if err != nil {
		o.log.Warn("Failed to read persisted mode: %v", err)
		return
	}
	if !found {
		return
	}
	mode, ok := types.ModeFromPersisted(v)
	if !ok {
		o.notify(now, "WARN: persisted mode invalid; fallback to disarm")
		return
	}

	o.state = types.NewSystemState()
	o.state.Mode = mode
	o.state.LastSuspicionUpdateMs = now
	o.log.Info("Restored mode %s", mode)
}

func (o *Orchestrator) persistModeIfChanged(prev types.Mode) {
	if !o.kvReady || o.state.Mode == prev {
		return
	}
	v := o.state.Mode.PersistValue()
	if v == 0 {
		return
	}
	if err := o.kv.PutUint(nvs.KeyMode, v); err != nil {
		o.log.Warn("Failed to persist mode %s: %v", o.state.Mode, err)
	}
}

func (o *Orchestrator) publish(r outbox.Record) {
	if err := o.sink.Publish(r); err != nil {
		o.log.Debug("Outbox refused %s record: %v", r.Kind, err)
	}
}

func (o *Orchestrator) notify(now uint32, msg string) {
	o.log.Info("Notify: %s", msg)
	o.publish(outbox.NoticeRecord(now, msg))
}

func (o *Orchestrator) ack(now uint32, cmd string, ok bool, detail string) {
	if ok {
		o.log.Debug("Ack %s ok: %s", cmd, detail)
	} else {
		o.log.Warn("Ack %s rejected: %s", cmd, detail)
	}
	o.publish(outbox.AckRecord(now, cmd, ok, detail))
}

func (o *Orchestrator) publishEvent(e types.Event, cmd types.Command) {
	o.syncLive()
	o.publish(outbox.EventRecord(e, o.state, cmd))
}

func (o *Orchestrator) publishStatus(now uint32, reason string) {
	o.syncLive()
	cd := o.session.Countdown(now, o.state.DoorLocked, o.state.DoorOpen, o.cfg.Door)
	o.publish(outbox.StatusRecord(now, o.state, reason, cd))
}
