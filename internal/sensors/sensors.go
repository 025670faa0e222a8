// Package sensors defines what the decision loop needs from the field side
// and the health trackers that back sensor-fault supervision.
package sensors

import (
	"fmt"
	"strings"

	"github.com/daemonp/zoneguard/internal/config"
	"github.com/daemonp/zoneguard/internal/types"
)

// Channel counts for the supervised sensor banks.
const (
	PIRCount        = 3
	UltrasonicCount = 3
)

// Collector is polled once per tick. Poll methods never block.
type Collector interface {
	PollKeypad(now uint32) (types.Event, bool)
	PollSensor(now uint32) (types.Event, bool)
	IsDoorOpen() bool
	IsWindowOpen() bool
	ReadHealth(now uint32, th Thresholds) HealthSnapshot
}

// Thresholds bound how long a sensor may misbehave before it counts as faulted.
type Thresholds struct {
	PIRStuckActiveMs      uint32
	VibStuckActiveMs      uint32
	UltrasonicOfflineMs   uint32
	UltrasonicNoEchoLimit uint16
}

func ThresholdsFrom(cfg config.HealthConfig) Thresholds {
	return Thresholds{
		PIRStuckActiveMs:      cfg.PIRStuckActiveMs,
		VibStuckActiveMs:      cfg.VibStuckActiveMs,
		UltrasonicOfflineMs:   cfg.UltrasonicOfflineMs,
		UltrasonicNoEchoLimit: cfg.UltrasonicNoEchoLimit,
	}
}

// HealthSnapshot holds per-sensor fault flags from one health read.
type HealthSnapshot struct {
	PIRStuck          [PIRCount]bool
	VibStuck          bool
	UltrasonicOffline [UltrasonicCount]bool
}

// Faults names every flagged sensor in a fixed order.
func (h HealthSnapshot) Faults() []string {
	var out []string
	for i, stuck := range h.PIRStuck {
		if stuck {
			out = append(out, fmt.Sprintf("pir%d_stuck", i+1))
		}
	}
	if h.VibStuck {
		out = append(out, "vib_stuck")
	}
	for i, off := range h.UltrasonicOffline {
		if off {
			out = append(out, fmt.Sprintf("us%d_offline", i+1))
		}
	}
	return out
}

func (h HealthSnapshot) Healthy() bool {
	return len(h.Faults()) == 0
}

// Detail renders the fault list as "pir1_stuck;us2_offline;".
func (h HealthSnapshot) Detail() string {
	var b strings.Builder
	for _, f := range h.Faults() {
		b.WriteString(f)
		b.WriteByte(';')
	}
	return b.String()
}
