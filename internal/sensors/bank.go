package sensors

import "github.com/daemonp/zoneguard/internal/types"

// Bank is the set of raw-sampled sensors behind a collector: three PIRs, the
// combined vibration input and up to three ultrasonic chokepoints.
type Bank struct {
	PIR        [PIRCount]*Edge
	Vibration  *Edge
	Chokepoint [UltrasonicCount]*Chokepoint

	// Ranging channels that are physically wired. Unwired ones never report offline.
	UltrasonicWired [UltrasonicCount]bool
}

func NewBank() *Bank {
	b := &Bank{
		Vibration: &Edge{Type: types.EventVibSpike, CooldownMs: 700},
	}
	for i := range b.PIR {
		b.PIR[i] = &Edge{Type: types.EventMotion, ID: uint8(i + 1), CooldownMs: 1500}
	}
	for i := range b.Chokepoint {
		b.Chokepoint[i] = NewChokepoint(uint8(i + 1))
	}
	return b
}

// ReadHealth evaluates every tracker against th.
func (b *Bank) ReadHealth(now uint32, th Thresholds) HealthSnapshot {
	var hs HealthSnapshot
	for i, p := range b.PIR {
		hs.PIRStuck[i] = p.Activity.StuckActive(now, th.PIRStuckActiveMs)
	}
	hs.VibStuck = b.Vibration.Activity.StuckActive(now, th.VibStuckActiveMs)
	for i, c := range b.Chokepoint {
		hs.UltrasonicOffline[i] = b.UltrasonicWired[i] &&
			c.Range.Offline(now, th.UltrasonicOfflineMs, th.UltrasonicNoEchoLimit)
	}
	return hs
}
