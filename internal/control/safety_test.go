package control

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"extruderctl"
)

func healthyTemps() map[string]float64 {
	return map[string]float64{
		extruderctl.SensorFeed:  25,
		extruderctl.SensorZone1: 200,
		extruderctl.SensorZone2: 205,
		extruderctl.SensorMotor: 40,
	}
}

func TestSafetyCheck_AllowsHealthySystem(t *testing.T) {
	t.Parallel()

	m := NewSafetyMonitor(DefaultSafetyLimits())
	ok, cause := m.Check(healthyTemps(), false)
	assert.True(t, ok)
	assert.Empty(t, cause)
}

func TestSafetyCheck_DenyReasons(t *testing.T) {
	t.Parallel()

	m := NewSafetyMonitor(DefaultSafetyLimits())

	tests := []struct {
		name   string
		mutate func(temps map[string]float64)
		fault  bool
		want   extruderctl.AlarmCause
	}{
		{
			name:   "driver fault",
			mutate: func(map[string]float64) {},
			fault:  true,
			want:   extruderctl.CauseDriverFault,
		},
		{
			name:   "motor sensor missing",
			mutate: func(temps map[string]float64) { delete(temps, extruderctl.SensorMotor) },
			want:   extruderctl.CauseMotorSensorFailure,
		},
		{
			name:   "motor sensor NaN",
			mutate: func(temps map[string]float64) { temps[extruderctl.SensorMotor] = math.NaN() },
			want:   extruderctl.CauseMotorSensorFailure,
		},
		{
			name:   "motor overheat",
			mutate: func(temps map[string]float64) { temps[extruderctl.SensorMotor] = 66 },
			want:   extruderctl.CauseMotorOverheat,
		},
		{
			name:   "heater sensor missing",
			mutate: func(temps map[string]float64) { delete(temps, extruderctl.SensorZone1) },
			want:   extruderctl.CauseHeaterSensorFailure,
		},
		{
			name:   "thermal runaway z2",
			mutate: func(temps map[string]float64) { temps[extruderctl.SensorZone2] = 281 },
			want:   extruderctl.CauseThermalRunaway,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			temps := healthyTemps()
			tc.mutate(temps)
			ok, cause := m.Check(temps, tc.fault)
			assert.False(t, ok)
			assert.Equal(t, tc.want, cause)
		})
	}
}

func TestSafetyCheck_PriorityOrder(t *testing.T) {
	t.Parallel()

	m := NewSafetyMonitor(DefaultSafetyLimits())

	// Everything wrong at once: the driver fault wins.
	temps := healthyTemps()
	temps[extruderctl.SensorMotor] = 90
	temps[extruderctl.SensorZone1] = 300
	ok, cause := m.Check(temps, true)
	assert.False(t, ok)
	assert.Equal(t, extruderctl.CauseDriverFault, cause)

	// Without the fault the motor overheat outranks the runaway.
	ok, cause = m.Check(temps, false)
	assert.False(t, ok)
	assert.Equal(t, extruderctl.CauseMotorOverheat, cause)

	// A missing motor sensor outranks the overheat it can no longer report.
	delete(temps, extruderctl.SensorMotor)
	ok, cause = m.Check(temps, false)
	assert.False(t, ok)
	assert.Equal(t, extruderctl.CauseMotorSensorFailure, cause)
}

func TestGuardMotorTemp(t *testing.T) {
	t.Parallel()

	m := NewSafetyMonitor(DefaultSafetyLimits())

	temps := healthyTemps()
	ok, cause := m.GuardMotorTemp(temps)
	assert.True(t, ok)
	assert.Empty(t, cause)

	// The colder zone decides.
	temps[extruderctl.SensorZone2] = 169.9
	ok, cause = m.GuardMotorTemp(temps)
	assert.False(t, ok)
	assert.Equal(t, extruderctl.CauseColdExtrusion, cause)

	// Boundary: exactly at the limit is allowed.
	temps[extruderctl.SensorZone2] = 170.0
	ok, _ = m.GuardMotorTemp(temps)
	assert.True(t, ok)

	// Missing heater sensor is reported as a sensor failure, not cold.
	delete(temps, extruderctl.SensorZone1)
	ok, cause = m.GuardMotorTemp(temps)
	assert.False(t, ok)
	assert.Equal(t, extruderctl.CauseHeaterSensorFailure, cause)
}
