package control

import (
	"math"
	"time"

	"extruderctl"
)

// PID is a proportional-integral-derivative regulator with conditional
// anti-windup and derivative-on-measurement. One instance runs per heater
// zone; all access is serialized by the owning Controller.
type PID struct {
	kp, ki, kd float64
	setpoint   float64
	sampleTime time.Duration
	minOut     float64
	maxOut     float64

	integral        float64
	lastMeasurement float64
	lastUpdate      time.Time
	primed          bool
}

// NewPID builds a controller with the given gains and output limits.
func NewPID(gains extruderctl.PIDGains, sampleTime time.Duration, minOut, maxOut float64) *PID {
	return &PID{
		kp:         gains.Kp,
		ki:         gains.Ki,
		kd:         gains.Kd,
		sampleTime: sampleTime,
		minOut:     minOut,
		maxOut:     maxOut,
	}
}

// SetGains replaces the gain triple. The integrator is kept: gain changes
// mid-run should not bump the output more than the new gains imply.
func (p *PID) SetGains(g extruderctl.PIDGains) {
	p.kp, p.ki, p.kd = g.Kp, g.Ki, g.Kd
}

// Gains returns the current gain triple.
func (p *PID) Gains() extruderctl.PIDGains {
	return extruderctl.PIDGains{Kp: p.kp, Ki: p.ki, Kd: p.kd}
}

// SetSetpoint updates the target the controller regulates toward.
func (p *PID) SetSetpoint(sp float64) { p.setpoint = sp }

// Setpoint returns the current target.
func (p *PID) Setpoint() float64 { return p.setpoint }

// Compute advances the controller with one measurement. It returns
// (0, false) when the sample interval has not elapsed yet or when the
// measurement is non-finite; in the latter case the sample clock is still
// refreshed so the caller fails safe by commanding zero output itself.
//
// The tentative integral is committed only when the output clamp did not
// activate in the direction the error would deepen, so the integrator
// cannot wind up during prolonged saturation yet recovers as soon as the
// error changes sign.
func (p *PID) Compute(measurement float64, now time.Time) (float64, bool) {
	if !p.lastUpdate.IsZero() && now.Sub(p.lastUpdate) < p.sampleTime {
		return 0, false
	}

	if math.IsNaN(measurement) || math.IsInf(measurement, 0) {
		p.lastUpdate = now
		return 0, false
	}

	dt := p.sampleTime.Seconds()
	if p.primed && !p.lastUpdate.IsZero() {
		dt = now.Sub(p.lastUpdate).Seconds()
	}

	err := p.setpoint - measurement

	var derivative float64
	if p.primed && dt > 0 {
		derivative = (measurement - p.lastMeasurement) / dt
	}

	tentative := clamp(p.integral+err*dt, p.minOut, p.maxOut)
	unsat := p.kp*err + p.ki*tentative - p.kd*derivative
	out := clamp(unsat, p.minOut, p.maxOut)

	pinnedHigh := unsat > p.maxOut && err > 0
	pinnedLow := unsat < p.minOut && err < 0
	if !pinnedHigh && !pinnedLow {
		p.integral = tentative
	}

	p.lastMeasurement = measurement
	p.lastUpdate = now
	p.primed = true
	return out, true
}

// Reset clears the integrator and measurement history but keeps gains and
// setpoint. Called whenever control authority over the zone changes hands
// or the measurement feed goes stale.
func (p *PID) Reset() {
	p.integral = 0
	p.lastMeasurement = 0
	p.primed = false
}

// Integral exposes the accumulator for diagnostics and tests.
func (p *PID) Integral() float64 { return p.integral }

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
