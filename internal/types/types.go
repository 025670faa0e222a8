package types

import "fmt"

type EventType int

const (
	EventDisarm EventType = iota
	EventArmAway
	EventArmNight
	EventDoorOpen
	EventWindowOpen
	EventDoorTamper
	EventVibSpike
	EventMotion
	EventChokepoint
	EventEntryTimeout
	EventDoorHoldWarnSilence
	EventKeypadHelpRequest
	EventDoorCodeUnlock
	EventDoorCodeBad
	EventManualDoorToggle
	EventManualWindowToggle
)

var eventTypeNames = map[EventType]string{
	EventDisarm:              "disarm",
	EventArmAway:             "arm_away",
	EventArmNight:            "arm_night",
	EventDoorOpen:            "door_open",
	EventWindowOpen:          "window_open",
	EventDoorTamper:          "door_tamper",
	EventVibSpike:            "vib_spike",
	EventMotion:              "motion",
	EventChokepoint:          "chokepoint",
	EventEntryTimeout:        "entry_timeout",
	EventDoorHoldWarnSilence: "door_hold_warn_silence",
	EventKeypadHelpRequest:   "keypad_help_request",
	EventDoorCodeUnlock:      "door_code_unlock",
	EventDoorCodeBad:         "door_code_bad",
	EventManualDoorToggle:    "manual_door_toggle",
	EventManualWindowToggle:  "manual_window_toggle",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown EventType(%d)", int(t))
}

// ParseEventType maps a wire name such as "door_open" back to its EventType.
func ParseEventType(name string) (EventType, bool) {
	for t, n := range eventTypeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// IsModeEvent reports whether t explicitly selects an arming mode.
func (t EventType) IsModeEvent() bool {
	return t == EventDisarm || t == EventArmAway || t == EventArmNight
}

// IsManualActuator reports whether t is a physical lock toggle button.
func (t EventType) IsManualActuator() bool {
	return t == EventManualDoorToggle || t == EventManualWindowToggle
}

// IsSensor reports whether t originates from a perimeter or occupancy sensor.
func (t EventType) IsSensor() bool {
	switch t {
	case EventDoorOpen, EventWindowOpen, EventDoorTamper, EventVibSpike, EventMotion, EventChokepoint:
		return true
	}
	return false
}

// Sources at or above SyntheticSourceBase are injected by test tooling rather than wired sensors.
const (
	SyntheticSourceBase    uint8 = 200
	SyntheticSourceGeneric uint8 = 200
	SyntheticSourcePIR1    uint8 = 201
	SyntheticSourcePIR2    uint8 = 202
	SyntheticSourcePIR3    uint8 = 203
	SyntheticSourceUS1     uint8 = 211
	SyntheticSourceUS2     uint8 = 212
	SyntheticSourceUS3     uint8 = 213

	RemoteSource uint8 = 9
)

func IsSyntheticSource(src uint8) bool {
	return src >= SyntheticSourceBase
}

// NormalizeMotionSource folds synthetic PIR sources onto the physical PIR numbers.
func NormalizeMotionSource(src uint8) uint8 {
	switch src {
	case SyntheticSourcePIR1:
		return 1
	case SyntheticSourcePIR2:
		return 2
	case SyntheticSourcePIR3:
		return 3
	}
	return src
}

type Event struct {
	Type      EventType
	Timestamp uint32
	Source    uint8
}

type CommandType int

const (
	CommandNone CommandType = iota
	CommandBuzzerWarn
	CommandBuzzerAlert
	CommandServoLock
	CommandNotify
)

func (c CommandType) String() string {
	switch c {
	case CommandNone:
		return "none"
	case CommandBuzzerWarn:
		return "buzzer_warn"
	case CommandBuzzerAlert:
		return "buzzer_alert"
	case CommandServoLock:
		return "servo_lock"
	case CommandNotify:
		return "notify"
	default:
		return fmt.Sprintf("Unknown CommandType(%d)", int(c))
	}
}

type Command struct {
	Type      CommandType
	Timestamp uint32
}

type Mode int

const (
	ModeStartupSafe Mode = iota
	ModeDisarm
	ModeNight
	ModeAway
)

func (m Mode) String() string {
	switch m {
	case ModeStartupSafe:
		return "startup_safe"
	case ModeDisarm:
		return "disarm"
	case ModeNight:
		return "night"
	case ModeAway:
		return "away"
	default:
		return fmt.Sprintf("Unknown Mode(%d)", int(m))
	}
}

func (m Mode) Armed() bool {
	return m == ModeAway || m == ModeNight
}

// Persisted values for the mode key in non-volatile storage. Zero is never written.
func (m Mode) PersistValue() uint32 {
	switch m {
	case ModeDisarm:
		return 1
	case ModeAway:
		return 2
	case ModeNight:
		return 3
	default:
		return 0
	}
}

func ModeFromPersisted(v uint32) (Mode, bool) {
	switch v {
	case 1:
		return ModeDisarm, true
	case 2:
		return ModeAway, true
	case 3:
		return ModeNight, true
	default:
		return ModeDisarm, false
	}
}

type AlarmLevel int

const (
	LevelOff AlarmLevel = iota
	LevelWarn
	LevelAlert
	LevelCritical
)

func (l AlarmLevel) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelWarn:
		return "warn"
	case LevelAlert:
		return "alert"
	case LevelCritical:
		return "critical"
	default:
		return fmt.Sprintf("Unknown AlarmLevel(%d)", int(l))
	}
}

// SystemState is owned by the orchestrator and replaced wholesale by each rule decision.
// Timestamps are on the wrapping millisecond clock; zero means never.
type SystemState struct {
	Mode  Mode
	Level AlarmLevel

	LastNotifyMs          uint32
	LastIndoorActivityMs  uint32
	EntryPending          bool
	EntryDeadlineMs       uint32
	SuspicionScore        uint8
	LastSuspicionUpdateMs uint32
	LastOutdoorMotionMs   uint32
	LastWindowEventMs     uint32
	LastVibrationMs       uint32
	LastDoorEventMs       uint32

	KeepWindowLockedWhenDisarmed bool

	DoorLocked   bool
	WindowLocked bool
	DoorOpen     bool
	WindowOpen   bool
}

// NewSystemState returns the boot baseline.
func NewSystemState() SystemState {
	return SystemState{Mode: ModeDisarm, Level: LevelOff}
}

// SomeoneHome is the occupancy hint published alongside state.
func (s SystemState) SomeoneHome() bool {
	return s.Mode != ModeAway
}

type Decision struct {
	Next    SystemState
	Command Command
}
