package orchestrator

import (
	"github.com/daemonp/zoneguard/internal/sensors"
	"github.com/daemonp/zoneguard/internal/types"
)

// updateSensorHealth latches sensor faults on the configured period and
// notifies on entry, on cooldown while latched and on recovery.
func (o *Orchestrator) updateSensorHealth(now uint32) {
	if !o.cfg.Health.Enabled {
		o.recoverHealth(now)
		return
	}
	if o.nextHealthCheck != 0 && !types.Reached(now, o.nextHealthCheck) {
		return
	}
	o.nextHealthCheck = now + o.cfg.Health.CheckPeriodMs
	if o.nextHealthCheck == 0 {
		o.nextHealthCheck = 1
	}

	detail := o.collector.ReadHealth(now, sensors.ThresholdsFrom(o.cfg.Health)).Detail()
	if detail == "" {
		o.recoverHealth(now)
		return
	}

	cooldown := o.cfg.Health.FaultNotifyCooldownMs
	notify := !o.faultActive || detail != o.faultDetail || cooldown == 0 ||
		types.Reached(now, o.lastFaultNotify+cooldown)
	o.faultActive = true
	o.faultDetail = detail
	if !notify {
		return
	}
	o.lastFaultNotify = now
	o.notify(now, "sensor health degraded: "+detail)
	o.publishStatus(now, "sensor_health_fault")
	if o.state.Mode.Armed() && o.acts.Buzzer != nil {
		o.acts.Buzzer.Warn()
	}
}

func (o *Orchestrator) recoverHealth(now uint32) {
	if !o.faultActive {
		return
	}
	o.faultActive = false
	o.faultDetail = ""
	o.notify(now, "sensor health recovered")
	o.publishStatus(now, "sensor_health_recovered")
}

// FaultActive reports whether a sensor fault is currently latched.
func (o *Orchestrator) FaultActive() bool {
	return o.faultActive
}
