package control

import (
	"time"

	"extruderctl"
)

// runtimeState is the mutable shared state guarded by the Controller mutex.
// Everything the HTTP surface reports lives here; HAL reads and writes
// happen outside the lock and are merged in at well-defined points.
type runtimeState struct {
	status extruderctl.SystemStatus
	mode   extruderctl.Mode

	targets    map[extruderctl.Zone]float64
	manualDuty map[extruderctl.Zone]float64
	heaterDuty map[extruderctl.Zone]float64

	temps   map[string]float64
	tempsAt time.Time

	motors  map[extruderctl.Motor]float64
	relays  map[string]bool
	pwm     map[string]float64
	peltier float64

	alarms []extruderctl.AlarmRecord
}

func newRuntimeState() runtimeState {
	return runtimeState{
		status: extruderctl.StatusReady,
		mode:   extruderctl.ModeAuto,
		targets: map[extruderctl.Zone]float64{
			extruderctl.ZoneZ1: 0,
			extruderctl.ZoneZ2: 0,
		},
		manualDuty: map[extruderctl.Zone]float64{},
		heaterDuty: map[extruderctl.Zone]float64{},
		temps:      map[string]float64{},
		motors:     map[extruderctl.Motor]float64{},
		relays:     map[string]bool{},
		pwm:        map[string]float64{},
	}
}

// activeAlarms returns the latched, uncleared records.
func (s *runtimeState) activeAlarms() []extruderctl.AlarmRecord {
	var active []extruderctl.AlarmRecord
	for _, a := range s.alarms {
		if !a.Cleared {
			active = append(active, a)
		}
	}
	return active
}

// hasActiveAlarm reports whether a cause is currently latched.
func (s *runtimeState) hasActiveAlarm(cause extruderctl.AlarmCause) bool {
	for _, a := range s.alarms {
		if a.Cause == cause && !a.Cleared {
			return true
		}
	}
	return false
}

// hasCriticalAlarm reports whether any active alarm is critical.
func (s *runtimeState) hasCriticalAlarm() bool {
	for _, a := range s.alarms {
		if !a.Cleared && a.Severity == extruderctl.SeverityCritical {
			return true
		}
	}
	return false
}

// snapshot copies the runtime state into the wire DTO. Caller holds mu; the
// returned value shares nothing with the live maps.
func (s *runtimeState) snapshot() extruderctl.Snapshot {
	snap := extruderctl.Snapshot{
		Status:         s.status,
		Mode:           s.mode,
		Targets:        make(map[extruderctl.Zone]float64, len(s.targets)),
		ManualDuty:     make(map[extruderctl.Zone]float64, len(s.manualDuty)),
		HeaterDuty:     make(map[extruderctl.Zone]float64, len(s.heaterDuty)),
		Temps:          make(map[string]float64, len(s.temps)),
		TempsTimestamp: s.tempsAt,
		Motors:         make(map[extruderctl.Motor]float64, len(s.motors)),
		Relays:         make(map[string]bool, len(s.relays)),
		PWM:            make(map[string]float64, len(s.pwm)),
		PeltierDuty:    s.peltier,
		ActiveAlarms:   s.activeAlarms(),
	}
	for k, v := range s.targets {
		snap.Targets[k] = v
	}
	for k, v := range s.manualDuty {
		snap.ManualDuty[k] = v
	}
	for k, v := range s.heaterDuty {
		snap.HeaterDuty[k] = v
	}
	for k, v := range s.temps {
		snap.Temps[k] = v
	}
	for k, v := range s.motors {
		snap.Motors[k] = v
	}
	for k, v := range s.relays {
		snap.Relays[k] = v
	}
	for k, v := range s.pwm {
		snap.PWM[k] = v
	}
	return snap
}
