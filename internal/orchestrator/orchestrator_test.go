package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daemonp/zoneguard/internal/actuator"
	"github.com/daemonp/zoneguard/internal/config"
	"github.com/daemonp/zoneguard/internal/door"
	"github.com/daemonp/zoneguard/internal/nvs"
	"github.com/daemonp/zoneguard/internal/outbox"
	"github.com/daemonp/zoneguard/internal/sensors"
	"github.com/daemonp/zoneguard/internal/types"
)

type fakeCollector struct {
	keypad     []types.Event
	sensor     []types.Event
	doorOpen   bool
	windowOpen bool
	health     sensors.HealthSnapshot
}

func (c *fakeCollector) PollKeypad(uint32) (types.Event, bool) {
	if len(c.keypad) == 0 {
		return types.Event{}, false
	}
	e := c.keypad[0]
	c.keypad = c.keypad[1:]
	return e, true
}

func (c *fakeCollector) PollSensor(uint32) (types.Event, bool) {
	if len(c.sensor) == 0 {
		return types.Event{}, false
	}
	e := c.sensor[0]
	c.sensor = c.sensor[1:]
	return e, true
}

func (c *fakeCollector) IsDoorOpen() bool   { return c.doorOpen }
func (c *fakeCollector) IsWindowOpen() bool { return c.windowOpen }

func (c *fakeCollector) ReadHealth(uint32, sensors.Thresholds) sensors.HealthSnapshot {
	return c.health
}

type fakeSink struct {
	records []outbox.Record
	cmds    []string
}

func (s *fakeSink) Publish(r outbox.Record) error {
	s.records = append(s.records, r)
	return nil
}

func (s *fakeSink) NextCommand() (string, bool) {
	if len(s.cmds) == 0 {
		return "", false
	}
	c := s.cmds[0]
	s.cmds = s.cmds[1:]
	return c, true
}

func (s *fakeSink) reasons() []string {
	var out []string
	for _, r := range s.records {
		if r.Kind == outbox.KindStatus {
			out = append(out, r.Reason)
		}
	}
	return out
}

func (s *fakeSink) notices(prefix string) []string {
	var out []string
	for _, r := range s.records {
		if r.Kind == outbox.KindNotice && strings.HasPrefix(r.Message, prefix) {
			out = append(out, r.Message)
		}
	}
	return out
}

func (s *fakeSink) lastAck(t *testing.T) outbox.Record {
	t.Helper()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].Kind == outbox.KindAck {
			return s.records[i]
		}
	}
	require.Fail(t, "no ack published")
	return outbox.Record{}
}

type fixture struct {
	cfg    *config.Config
	col    *fakeCollector
	sink   *fakeSink
	door   *actuator.MemoryLock
	window *actuator.MemoryLock
	buzz   *actuator.MemoryBuzzer
	kv     nvs.KV
	o      *Orchestrator
}

func newFixture(mutate func(*config.Config)) *fixture {
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	return &fixture{
		cfg:    cfg,
		col:    &fakeCollector{},
		sink:   &fakeSink{},
		door:   &actuator.MemoryLock{},
		window: &actuator.MemoryLock{},
		buzz:   &actuator.MemoryBuzzer{},
		kv:     nvs.NewMemory(),
	}
}

func (f *fixture) start(now uint32) *Orchestrator {
	acts := actuator.Set{Door: f.door, Buzzer: f.buzz}
	if f.cfg.Door.WindowLockInstalled {
		acts.Window = f.window
	}
	f.o = New(f.cfg, f.col, acts, f.sink, f.kv, nil, nil)
	f.o.Begin(now)
	return f.o
}

func (f *fixture) remote(t *testing.T, now uint32, payload string) outbox.Record {
	t.Helper()
	f.sink.cmds = append(f.sink.cmds, payload)
	f.o.Tick(now)
	return f.sink.lastAck(t)
}

func (f *fixture) keypad(now uint32, t types.EventType) {
	f.col.keypad = append(f.col.keypad, types.Event{Type: t, Timestamp: now})
	f.o.Tick(now)
}

func (f *fixture) sensor(now uint32, t types.EventType, src uint8) {
	f.col.sensor = append(f.col.sensor, types.Event{Type: t, Timestamp: now, Source: src})
	f.o.Tick(now)
}

func withToken(cfg *config.Config) {
	cfg.Remote.Token = "secret"
}

func TestBeginPreLocksClosedOpenings(t *testing.T) {
	f := newFixture(nil)
	f.start(1000)

	assert.True(t, f.door.IsLocked())
	assert.True(t, f.window.IsLocked())
	assert.Equal(t, []string{"boot"}, f.sink.reasons())
	assert.Empty(t, f.sink.notices("WARN"))
}

func TestBeginSkipsOpenDoor(t *testing.T) {
	f := newFixture(nil)
	f.col.doorOpen = true
	f.start(1000)

	assert.False(t, f.door.IsLocked())
	assert.True(t, f.window.IsLocked())
	assert.Equal(t, []string{"startup: door open, skip pre-lock"}, f.sink.notices("startup"))
}

func TestBeginWithoutPersistenceWarns(t *testing.T) {
	f := newFixture(nil)
	f.kv = nil
	f.start(1000)
	assert.Equal(t, []string{"WARN: nonce persistence disabled; remote mutating commands blocked"}, f.sink.notices("WARN"))

	f = newFixture(func(c *config.Config) { c.Remote.FailClosedIfNoncePersistenceMissing = false })
	f.kv = nil
	f.start(1000)
	assert.Equal(t, []string{"WARN: nonce persistence disabled"}, f.sink.notices("WARN"))
}

func TestModeRestoredFromStore(t *testing.T) {
	f := newFixture(nil)
	require.NoError(t, f.kv.PutUint(nvs.KeyMode, types.ModeNight.PersistValue()))
	o := f.start(1000)
	assert.Equal(t, types.ModeNight, o.State().Mode)
	assert.Equal(t, types.LevelOff, o.State().Level)
}

func TestInvalidPersistedModeFallsBack(t *testing.T) {
	f := newFixture(nil)
	require.NoError(t, f.kv.PutUint(nvs.KeyMode, 9))
	o := f.start(1000)
	assert.Equal(t, types.ModeDisarm, o.State().Mode)
	assert.Equal(t, []string{"WARN: persisted mode invalid; fallback to disarm"}, f.sink.notices("WARN"))
}

func TestModeChangePersists(t *testing.T) {
	f := newFixture(func(c *config.Config) { c.Keypad.AllowArm = true })
	f.start(1000)
	f.keypad(1100, types.EventArmAway)

	assert.Equal(t, types.ModeAway, f.o.State().Mode)
	v, found, err := f.kv.GetUint(nvs.KeyMode)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.ModeAway.PersistValue(), v)
}

func TestKeypadBadCodesWrapAfterLimit(t *testing.T) {
	f := newFixture(func(c *config.Config) { c.Keypad.LockoutMs = 0 })
	f.start(1000)

	for i, now := range []uint32{2000, 3000, 4000, 5000} {
		f.keypad(now, types.EventDoorCodeBad)
		if i == 2 {
			_, alerts := f.buzz.Counts()
			assert.Equal(t, 1, alerts, "limit reached triggers the alert")
		}
	}

	assert.Equal(t, []string{
		"wrong door code 1/3",
		"wrong door code 2/3",
		"wrong door code 3/3 (ALERT)",
		"wrong door code 1/3",
	}, f.sink.notices("wrong door code"))
	_, alerts := f.buzz.Counts()
	assert.Equal(t, 1, alerts)
	assert.False(t, f.o.lockedOut(5000))
}

func TestKeypadLockout(t *testing.T) {
	f := newFixture(nil)
	f.start(1000)
	for _, now := range []uint32{2000, 3000, 4000} {
		f.keypad(now, types.EventDoorCodeBad)
	}
	assert.Contains(t, f.sink.reasons(), "keypad_lockout_enabled")
	assert.Equal(t, []string{"keypad lockout enabled"}, f.sink.notices("keypad lockout"))

	f.keypad(5000, types.EventDoorCodeUnlock)
	ack := f.sink.lastAck(t)
	assert.Equal(t, "door_code", ack.Cmd)
	assert.False(t, *ack.OK)
	assert.Equal(t, "keypad lockout", ack.Detail)
	assert.True(t, f.door.IsLocked())
	assert.Empty(t, f.sink.notices("door code accepted"), "notice is rate limited right after lockout")

	f.keypad(8000, types.EventDoorCodeBad)
	assert.Equal(t, []string{"door code rejected: keypad lockout active"}, f.sink.notices("door code rejected"))

	lockoutEnd := uint32(4000) + f.cfg.Keypad.LockoutMs
	f.o.Tick(lockoutEnd)
	assert.Contains(t, f.sink.reasons(), "keypad_lockout_expired")

	f.keypad(lockoutEnd+100, types.EventDoorCodeUnlock)
	assert.False(t, f.door.IsLocked())
	assert.True(t, f.window.IsLocked())
	assert.True(t, f.o.State().KeepWindowLockedWhenDisarmed)
	assert.Equal(t, door.PhaseWaitingForOpen, f.o.session.Phase())
	assert.Equal(t, []string{"door code accepted"}, f.sink.notices("door code accepted"))
}

func TestKeypadArmBlockedByDefault(t *testing.T) {
	f := newFixture(nil)
	f.start(1000)
	f.keypad(1100, types.EventArmNight)
	assert.Equal(t, types.ModeDisarm, f.o.State().Mode)
	assert.Contains(t, f.sink.reasons(), "keypad_mode_blocked")
}

func TestOneEventPerTickKeypadFirst(t *testing.T) {
	f := newFixture(nil)
	f.start(1000)
	f.col.keypad = append(f.col.keypad, types.Event{Type: types.EventKeypadHelpRequest, Timestamp: 1100})
	f.col.sensor = append(f.col.sensor, types.Event{Type: types.EventMotion, Timestamp: 1100, Source: 1})

	f.o.Tick(1100)
	assert.Contains(t, f.sink.reasons(), "keypad_help_request")
	assert.NotContains(t, f.sink.reasons(), "motion")
	assert.Len(t, f.col.sensor, 1)

	f.o.Tick(1110)
	assert.Contains(t, f.sink.reasons(), "motion")
	assert.Empty(t, f.col.sensor)
}

func TestEntryDelayThenTimeout(t *testing.T) {
	f := newFixture(func(c *config.Config) { c.Keypad.AllowArm = true })
	f.start(1000)
	f.keypad(1100, types.EventArmAway)
	require.True(t, f.door.IsLocked())

	// Key entry: the lock is released before the door opens.
	f.door.Unlock()
	f.col.doorOpen = true
	f.sensor(2000, types.EventDoorOpen, 0)

	st := f.o.State()
	require.True(t, st.EntryPending)
	assert.Equal(t, uint32(2000)+f.cfg.Rules.EntryDelayMs, st.EntryDeadlineMs)
	warns, _ := f.buzz.Counts()
	assert.Equal(t, 1, warns)

	f.o.Tick(st.EntryDeadlineMs - 1)
	assert.True(t, f.o.State().EntryPending)

	f.o.Tick(st.EntryDeadlineMs)
	st = f.o.State()
	assert.False(t, st.EntryPending)
	assert.Equal(t, types.LevelAlert, st.Level)
	_, alerts := f.buzz.Counts()
	assert.Equal(t, 1, alerts)
	assert.Contains(t, f.sink.reasons(), "entry_timeout")
}

func TestRemoteRequiresTokenForMutations(t *testing.T) {
	f := newFixture(nil)
	f.start(1000)

	ack := f.remote(t, 1100, "arm away")
	assert.Equal(t, "auth", ack.Cmd)
	assert.False(t, *ack.OK)
	assert.Equal(t, "token required", ack.Detail)
	assert.Equal(t, types.ModeDisarm, f.o.State().Mode)
	assert.Contains(t, f.sink.reasons(), "remote_auth_reject")

	ack = f.remote(t, 1200, "STATUS")
	assert.Equal(t, "status", ack.Cmd)
	assert.True(t, *ack.OK)
	assert.Equal(t, "dL=1,wL=1,dO=0,wO=0", ack.Detail)
	require.Len(t, f.sink.notices("mode="), 1)
	assert.Equal(t, "mode=disarm level=off door_open=0 window_open=0 door_locked=1 window_locked=1", f.sink.notices("mode=")[0])
}

func TestRemoteNonceAndReplay(t *testing.T) {
	f := newFixture(withToken)
	f.start(1000)

	ack := f.remote(t, 1100, "lock door")
	assert.Equal(t, "unauthorized", ack.Detail)

	ack = f.remote(t, 1200, "wrong|1|unlock door")
	assert.Equal(t, "unauthorized", ack.Detail)

	ack = f.remote(t, 1300, "secret|5|unlock door")
	assert.True(t, *ack.OK)
	assert.Equal(t, "unlock door", ack.Cmd)
	assert.False(t, f.door.IsLocked())

	ack = f.remote(t, 1400, "secret|5|lock door")
	assert.Equal(t, "auth", ack.Cmd)
	assert.Equal(t, "replay rejected", ack.Detail)
	assert.Contains(t, f.sink.reasons(), "remote_replay_reject")
	assert.False(t, f.door.IsLocked())

	ack = f.remote(t, 1500, "secret|6|lock door")
	assert.True(t, *ack.OK)
	assert.True(t, f.door.IsLocked())
	assert.False(t, f.o.session.Active())

	floor, found, err := f.kv.GetUint(nvs.KeyNonceFloor)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint32(6), floor)

	ack = f.remote(t, 1600, "secret|7|dance")
	assert.Equal(t, "unknown", ack.Cmd)
	assert.Equal(t, "unsupported command", ack.Detail)
	assert.Contains(t, f.sink.reasons(), "remote_unknown")
}

func TestRemoteFailsClosedWithoutNonceStorage(t *testing.T) {
	f := newFixture(withToken)
	f.kv = nil
	f.start(1000)

	ack := f.remote(t, 1100, "secret|1|arm away")
	assert.Equal(t, "nonce storage unavailable", ack.Detail)
	assert.Equal(t, types.ModeDisarm, f.o.State().Mode)
	assert.Contains(t, f.sink.reasons(), "remote_auth_reject_nonce_storage")

	ack = f.remote(t, 1200, "secret|2|status")
	assert.True(t, *ack.OK)
	assert.Equal(t, "status", ack.Cmd)
}

func TestRemoteAliases(t *testing.T) {
	f := newFixture(withToken)
	f.start(1000)

	f.remote(t, 1100, "secret|1|alarm")
	assert.Equal(t, actuator.PatternAlert, f.buzz.Last())
	f.remote(t, 1200, "secret|2|buzz stop")
	assert.Equal(t, actuator.PatternSilent, f.buzz.Last())

	ack := f.remote(t, 1300, "secret|3|mode night")
	assert.Equal(t, "arm night", ack.Cmd)
	assert.Equal(t, types.ModeNight, f.o.State().Mode)
}

func TestRemoteUnlockRequiresDisarm(t *testing.T) {
	f := newFixture(withToken)
	f.start(1000)
	f.remote(t, 1100, "secret|1|arm away")
	require.Equal(t, types.ModeAway, f.o.State().Mode)

	ack := f.remote(t, 1200, "secret|2|unlock door")
	assert.False(t, *ack.OK)
	assert.Equal(t, "disarm required", ack.Detail)
	assert.True(t, f.door.IsLocked())
	assert.Contains(t, f.sink.reasons(), "remote_unlock_door_reject_mode")
}

func TestRemoteLockRejectedWhileOpen(t *testing.T) {
	f := newFixture(withToken)
	f.start(1000)
	f.col.windowOpen = true

	ack := f.remote(t, 1100, "secret|1|lock all")
	assert.False(t, *ack.OK)
	assert.Equal(t, "window open", ack.Detail)
	assert.Contains(t, f.sink.reasons(), "remote_lock_all_reject_window")

	f.col.doorOpen = true
	ack = f.remote(t, 1200, "secret|2|lock door")
	assert.Equal(t, "door open", ack.Detail)
	assert.Equal(t, []string{"lock door rejected: door is open"}, f.sink.notices("lock door"))
}

func TestRemoteWindowWithoutLock(t *testing.T) {
	f := newFixture(func(c *config.Config) {
		withToken(c)
		c.Door.WindowLockInstalled = false
	})
	f.start(1000)

	ack := f.remote(t, 1100, "secret|1|lock window")
	assert.False(t, *ack.OK)
	assert.Equal(t, "window lock not installed", ack.Detail)
}

func TestSensorFaultBlocksUnlocks(t *testing.T) {
	f := newFixture(withToken)
	f.col.health = sensors.HealthSnapshot{VibStuck: true}
	f.start(1000)
	require.True(t, f.o.FaultActive())
	assert.Equal(t, []string{"sensor health degraded: vib_stuck;"}, f.sink.notices("sensor health"))

	ack := f.remote(t, 1100, "secret|1|unlock door")
	assert.False(t, *ack.OK)
	assert.Equal(t, "sensor fault", ack.Detail)
	assert.Contains(t, f.sink.reasons(), "remote_unlock_door_reject_sensor_fault")

	f.keypad(1200, types.EventDoorCodeUnlock)
	assert.True(t, f.door.IsLocked())
	assert.Equal(t, types.ModeDisarm, f.o.State().Mode)
	assert.Contains(t, f.sink.reasons(), "keypad_unlock_reject_sensor_fault")

	f.col.sensor = append(f.col.sensor, types.Event{Type: types.EventManualDoorToggle, Timestamp: 1300})
	f.o.Tick(1300)
	assert.True(t, f.door.IsLocked())
	assert.Contains(t, f.sink.reasons(), "manual_door_unlock_reject_sensor_fault")

	f.col.health = sensors.HealthSnapshot{}
	f.o.Tick(1000 + f.cfg.Health.CheckPeriodMs)
	assert.False(t, f.o.FaultActive())
	assert.Contains(t, f.sink.notices("sensor health"), "sensor health recovered")

	f.keypad(3500, types.EventDoorCodeUnlock)
	assert.False(t, f.door.IsLocked())
}

func TestSensorFaultNotifyCooldown(t *testing.T) {
	f := newFixture(nil)
	f.col.health = sensors.HealthSnapshot{VibStuck: true}
	f.start(1000)

	period := f.cfg.Health.CheckPeriodMs
	f.o.Tick(1000 + period)
	f.o.Tick(1000 + 2*period)
	assert.Len(t, f.sink.notices("sensor health degraded"), 1)

	f.o.Tick(1000 + f.cfg.Health.FaultNotifyCooldownMs)
	assert.Len(t, f.sink.notices("sensor health degraded"), 2)
}

func TestUnlockSessionRelocksOnTimeout(t *testing.T) {
	f := newFixture(withToken)
	f.start(1000)
	f.remote(t, 1100, "secret|1|unlock door")
	require.False(t, f.door.IsLocked())
	require.True(t, f.o.session.Active())

	f.o.Tick(1100 + f.cfg.Door.UnlockTimeoutMs - 1)
	assert.False(t, f.door.IsLocked())

	f.o.Tick(1100 + f.cfg.Door.UnlockTimeoutMs)
	assert.True(t, f.door.IsLocked())
	assert.False(t, f.o.session.Active())
	assert.Equal(t, []string{door.NoticeRelockTimeout}, f.sink.notices("door auto-locked"))
}

func TestUnlockOutsideSessionStartsOne(t *testing.T) {
	f := newFixture(nil)
	f.start(1000)
	f.door.Unlock()

	f.o.Tick(1100)
	assert.True(t, f.o.session.Active())
}

func TestManualToggles(t *testing.T) {
	f := newFixture(nil)
	f.start(1000)

	f.sensor(1100, types.EventManualDoorToggle, 0)
	assert.False(t, f.door.IsLocked())
	assert.True(t, f.o.session.Active())

	f.col.doorOpen = true
	f.sensor(1200, types.EventManualDoorToggle, 0)
	assert.False(t, f.door.IsLocked())
	assert.Contains(t, f.sink.reasons(), "manual_door_lock_reject_open")

	f.col.doorOpen = false
	f.sensor(1300, types.EventManualDoorToggle, 0)
	assert.True(t, f.door.IsLocked())
	assert.Contains(t, f.sink.reasons(), "manual_door_lock")

	f.sensor(1400, types.EventManualWindowToggle, 0)
	assert.False(t, f.window.IsLocked())
	assert.False(t, f.o.State().KeepWindowLockedWhenDisarmed)
	f.sensor(1500, types.EventManualWindowToggle, 0)
	assert.True(t, f.window.IsLocked())
	assert.True(t, f.o.State().KeepWindowLockedWhenDisarmed)
}

func TestSerialPolicyGatesSyntheticSources(t *testing.T) {
	f := newFixture(nil)
	f.start(1000)

	f.sensor(1100, types.EventArmAway, types.SyntheticSourceGeneric)
	assert.Equal(t, types.ModeDisarm, f.o.State().Mode)
	assert.Contains(t, f.sink.reasons(), "serial_mode_blocked")

	f.sensor(1200, types.EventMotion, types.SyntheticSourcePIR1)
	assert.Contains(t, f.sink.reasons(), "serial_sensor_blocked")
	assert.NotContains(t, f.sink.reasons(), "motion")

	f.sensor(1300, types.EventManualDoorToggle, types.SyntheticSourceGeneric)
	assert.True(t, f.door.IsLocked())
	assert.Contains(t, f.sink.reasons(), "serial_manual_blocked")

	f.cfg.Serial.AllowModeCommands = true
	f.sensor(1400, types.EventArmAway, types.SyntheticSourceGeneric)
	assert.Equal(t, types.ModeAway, f.o.State().Mode)
}

func TestDoorPathsWithoutDoorLock(t *testing.T) {
	f := newFixture(nil)
	f.o = New(f.cfg, f.col, actuator.Set{Buzzer: f.buzz}, f.sink, f.kv, nil, nil)
	require.NotPanics(t, func() {
		f.o.Begin(1000)
		f.keypad(1100, types.EventDoorCodeUnlock)
		f.sensor(1200, types.EventManualDoorToggle, 0)
	})

	ack := f.sink.lastAck(t)
	assert.Equal(t, "door_code", ack.Cmd)
	assert.True(t, *ack.OK)
	assert.Contains(t, f.sink.reasons(), "keypad_unlock")
	assert.Contains(t, f.sink.reasons(), "manual_door_lock")
}
