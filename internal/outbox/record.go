package outbox

import (
	"github.com/google/uuid"

	"github.com/daemonp/zoneguard/internal/door"
	"github.com/daemonp/zoneguard/internal/types"
)

type Kind string

const (
	KindEvent   Kind = "event"
	KindStatus  Kind = "status"
	KindAck     Kind = "ack"
	KindNotice  Kind = "notify"
	KindMetrics Kind = "metrics"
)

// Kinds lists every outbound record kind, in topic order.
var Kinds = []Kind{KindEvent, KindStatus, KindAck, KindNotice, KindMetrics}

// Snapshot is the state copy carried by event and status records.
type Snapshot struct {
	Mode         string `json:"mode"`
	Level        string `json:"level"`
	Score        uint8  `json:"score"`
	EntryPending bool   `json:"entry_pending"`
	SomeoneHome  bool   `json:"is_someone_home"`
	DoorLocked   bool   `json:"door_locked"`
	WindowLocked bool   `json:"window_locked"`
	DoorOpen     bool   `json:"door_open"`
	WindowOpen   bool   `json:"window_open"`
}

func SnapshotOf(s types.SystemState) *Snapshot {
	return &Snapshot{
		Mode:         s.Mode.String(),
		Level:        s.Level.String(),
		Score:        s.SuspicionScore,
		EntryPending: s.EntryPending,
		SomeoneHome:  s.SomeoneHome(),
		DoorLocked:   s.DoorLocked,
		WindowLocked: s.WindowLocked,
		DoorOpen:     s.DoorOpen,
		WindowOpen:   s.WindowOpen,
	}
}

// Metrics reports backpressure across the queues and the store.
type Metrics struct {
	SensorDrops  uint64 `json:"sensor_drops"`
	PubDrops     uint64 `json:"pub_drops"`
	CmdDrops     uint64 `json:"cmd_drops"`
	StoreDrops   uint64 `json:"store_drops"`
	QSensor      int    `json:"q_sensor"`
	QPub         int    `json:"q_pub"`
	QCmd         int    `json:"q_cmd"`
	QStore       int    `json:"q_store"`
	TickOverruns uint64 `json:"tick_overruns"`
	UptimeMs     uint32 `json:"uptime_ms"`
}

// Record is one outbound message. Fields not relevant to Kind stay empty.
type Record struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
	TsMs uint32 `json:"ts_ms"`

	Event string `json:"event,omitempty"`
	Src   uint8  `json:"src,omitempty"`
	Cmd   string `json:"cmd,omitempty"`

	*Snapshot

	Reason    string          `json:"reason,omitempty"`
	OK        *bool           `json:"ok,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Message   string          `json:"message,omitempty"`
	Countdown *door.Countdown `json:"countdown,omitempty"`

	*Metrics
}

func newRecord(kind Kind, ts uint32) Record {
	return Record{ID: uuid.NewString(), Kind: kind, TsMs: ts}
}

// EventRecord describes a handled event, the state it produced and the command dispatched.
func EventRecord(e types.Event, s types.SystemState, cmd types.Command) Record {
	r := newRecord(KindEvent, e.Timestamp)
	r.Event = e.Type.String()
	r.Src = e.Source
	r.Cmd = cmd.Type.String()
	r.Snapshot = SnapshotOf(s)
	return r
}

func StatusRecord(ts uint32, s types.SystemState, reason string, cd door.Countdown) Record {
	r := newRecord(KindStatus, ts)
	r.Snapshot = SnapshotOf(s)
	r.Reason = reason
	if cd.Active {
		r.Countdown = &cd
	}
	return r
}

func AckRecord(ts uint32, cmd string, ok bool, detail string) Record {
	r := newRecord(KindAck, ts)
	r.Cmd = cmd
	r.OK = &ok
	r.Detail = detail
	return r
}

func NoticeRecord(ts uint32, message string) Record {
	r := newRecord(KindNotice, ts)
	r.Message = message
	return r
}

func MetricsRecord(ts uint32, m Metrics) Record {
	r := newRecord(KindMetrics, ts)
	r.Metrics = &m
	return r
}
