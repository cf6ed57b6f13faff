package control

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extruderctl"
)

func TestPID_ProportionalStep(t *testing.T) {
	t.Parallel()

	p := NewPID(extruderctl.PIDGains{Kp: 2, Ki: 0.5}, 100*time.Millisecond, 0, 100)
	p.SetSetpoint(50)

	now := time.Now()
	out, ok := p.Compute(40, now)
	require.True(t, ok)
	// err=10, integral commits 10*0.1=1: 2*10 + 0.5*1
	assert.InDelta(t, 20.5, out, 1e-9)
	assert.InDelta(t, 1.0, p.Integral(), 1e-9)

	out, ok = p.Compute(40, now.Add(100*time.Millisecond))
	require.True(t, ok)
	assert.InDelta(t, 21.0, out, 1e-9)
}

func TestPID_OutputClampedAndIntegratorHeld(t *testing.T) {
	t.Parallel()

	p := NewPID(extruderctl.PIDGains{Kp: 10, Ki: 1}, 100*time.Millisecond, 0, 100)
	p.SetSetpoint(100)

	now := time.Now()
	for i := 0; i < 20; i++ {
		out, ok := p.Compute(0, now.Add(time.Duration(i)*100*time.Millisecond))
		require.True(t, ok)
		assert.Equal(t, 100.0, out)
	}
	// Clamp active in the error-deepening direction the whole time: the
	// integrator must not have accumulated.
	assert.Zero(t, p.Integral())
}

func TestPID_IntegratorRecoversAfterSaturation(t *testing.T) {
	t.Parallel()

	p := NewPID(extruderctl.PIDGains{Kp: 10, Ki: 1}, 100*time.Millisecond, 0, 100)
	p.SetSetpoint(100)

	now := time.Now()
	_, _ = p.Compute(0, now)
	require.Zero(t, p.Integral())

	// Once the error shrinks enough that the output leaves the clamp, the
	// integrator starts committing again.
	out, ok := p.Compute(99, now.Add(100*time.Millisecond))
	require.True(t, ok)
	assert.Less(t, out, 100.0)
	assert.InDelta(t, 0.1, p.Integral(), 1e-9)
}

func TestPID_NonFiniteMeasurementFailsSafe(t *testing.T) {
	t.Parallel()

	p := NewPID(extruderctl.PIDGains{Kp: 2}, 100*time.Millisecond, 0, 100)
	p.SetSetpoint(50)

	now := time.Now()
	out, ok := p.Compute(math.NaN(), now)
	assert.False(t, ok)
	assert.Zero(t, out)

	// The sample clock was refreshed: an immediate retry is rate-gated.
	_, ok = p.Compute(40, now.Add(10*time.Millisecond))
	assert.False(t, ok)

	// After the sample interval a finite reading computes normally.
	out, ok = p.Compute(40, now.Add(150*time.Millisecond))
	require.True(t, ok)
	assert.Greater(t, out, 0.0)
}

func TestPID_RateGating(t *testing.T) {
	t.Parallel()

	p := NewPID(extruderctl.PIDGains{Kp: 1}, 100*time.Millisecond, 0, 100)
	p.SetSetpoint(50)

	now := time.Now()
	_, ok := p.Compute(40, now)
	require.True(t, ok)

	_, ok = p.Compute(40, now.Add(50*time.Millisecond))
	assert.False(t, ok)

	_, ok = p.Compute(40, now.Add(100*time.Millisecond))
	assert.True(t, ok)
}

func TestPID_DerivativeOnMeasurement(t *testing.T) {
	t.Parallel()

	p := NewPID(extruderctl.PIDGains{Kp: 1, Kd: 10}, 100*time.Millisecond, 0, 100)
	p.SetSetpoint(50)

	now := time.Now()
	base, ok := p.Compute(40, now)
	require.True(t, ok)

	// Rising measurement produces a negative derivative contribution.
	damped, ok := p.Compute(41, now.Add(100*time.Millisecond))
	require.True(t, ok)
	assert.Less(t, damped, base)

	// A setpoint change alone must not kick the derivative term.
	p2 := NewPID(extruderctl.PIDGains{Kp: 1, Kd: 10}, 100*time.Millisecond, 0, 100)
	p2.SetSetpoint(50)
	_, _ = p2.Compute(40, now)
	p2.SetSetpoint(90)
	out, ok := p2.Compute(40, now.Add(100*time.Millisecond))
	require.True(t, ok)
	assert.InDelta(t, 50.0, out, 1e-9) // pure proportional on the new error
}

func TestPID_ResetClearsIntegratorOnly(t *testing.T) {
	t.Parallel()

	p := NewPID(extruderctl.PIDGains{Kp: 2, Ki: 0.5}, 100*time.Millisecond, 0, 100)
	p.SetSetpoint(50)

	now := time.Now()
	_, _ = p.Compute(40, now)
	require.NotZero(t, p.Integral())

	p.Reset()
	assert.Zero(t, p.Integral())
	assert.Equal(t, 50.0, p.Setpoint())

	// Rate limiting survives the reset.
	_, ok := p.Compute(40, now.Add(10*time.Millisecond))
	assert.False(t, ok)
}

func TestPID_SetGainsKeepsIntegrator(t *testing.T) {
	t.Parallel()

	p := NewPID(extruderctl.PIDGains{Kp: 2, Ki: 0.5}, 100*time.Millisecond, 0, 100)
	p.SetSetpoint(50)
	_, _ = p.Compute(40, time.Now())
	integral := p.Integral()
	require.NotZero(t, integral)

	p.SetGains(extruderctl.PIDGains{Kp: 4, Ki: 1})
	assert.Equal(t, integral, p.Integral())
	assert.Equal(t, extruderctl.PIDGains{Kp: 4, Ki: 1}, p.Gains())
}
