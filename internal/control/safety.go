package control

import (
	"math"

	"extruderctl"
)

// SafetyLimits are the interlock temperature thresholds in °C.
type SafetyLimits struct {
	MotorMax        float64 // stepper housing overheat
	HeaterMax       float64 // band heater runaway limit
	MinTempForMotor float64 // cold extrusion protection
}

// DefaultSafetyLimits returns the rig's stock limits.
func DefaultSafetyLimits() SafetyLimits {
	return SafetyLimits{MotorMax: 65.0, HeaterMax: 280.0, MinTempForMotor: 170.0}
}

// SafetyMonitor evaluates interlock predicates over a temperature snapshot.
// It holds no mutable state: every call judges exactly the inputs given.
type SafetyMonitor struct {
	limits SafetyLimits
}

// NewSafetyMonitor builds a monitor with the given limits.
func NewSafetyMonitor(limits SafetyLimits) *SafetyMonitor {
	return &SafetyMonitor{limits: limits}
}

// Limits returns the configured thresholds.
func (m *SafetyMonitor) Limits() SafetyLimits { return m.limits }

// Check evaluates the run-permission predicates in priority order and
// fails closed: the first violated condition wins. A missing or non-finite
// sensor is treated as failed.
func (m *SafetyMonitor) Check(temps map[string]float64, motorFault bool) (bool, extruderctl.AlarmCause) {
	if motorFault {
		return false, extruderctl.CauseDriverFault
	}

	motorTemp, ok := sensorValue(temps, extruderctl.SensorMotor)
	if !ok {
		return false, extruderctl.CauseMotorSensorFailure
	}
	if motorTemp > m.limits.MotorMax {
		return false, extruderctl.CauseMotorOverheat
	}

	t2, okZ1 := sensorValue(temps, extruderctl.SensorZone1)
	t3, okZ2 := sensorValue(temps, extruderctl.SensorZone2)
	if !okZ1 || !okZ2 {
		return false, extruderctl.CauseHeaterSensorFailure
	}
	if t2 > m.limits.HeaterMax || t3 > m.limits.HeaterMax {
		return false, extruderctl.CauseThermalRunaway
	}

	return true, ""
}

// GuardMotorTemp is the cold-extrusion interlock: the barrel must be at
// melt temperature before the motors may turn. Evaluated in automatic mode
// only; manual mode bypasses it as a deliberate operator override.
func (m *SafetyMonitor) GuardMotorTemp(temps map[string]float64) (bool, extruderctl.AlarmCause) {
	t2, okZ1 := sensorValue(temps, extruderctl.SensorZone1)
	t3, okZ2 := sensorValue(temps, extruderctl.SensorZone2)
	if !okZ1 || !okZ2 {
		return false, extruderctl.CauseHeaterSensorFailure
	}
	if math.Min(t2, t3) < m.limits.MinTempForMotor {
		return false, extruderctl.CauseColdExtrusion
	}
	return true, ""
}

// sensorValue fetches a reading, reporting absent and non-finite values
// alike as missing.
func sensorValue(temps map[string]float64, name string) (float64, bool) {
	v, ok := temps[name]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
