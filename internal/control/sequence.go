package control

import (
	"fmt"
	"time"

	"extruderctl"
)

// sequenceGrace is added past the largest step delay to form the phase's
// hard deadline, so a phase can never hang open-ended.
const sequenceGrace = 1.0

// runPhase advances one timed actuator sequence. done carries the fired
// step keys across ticks; apply performs the actuator action. Returns true
// once every enabled step has fired, or once the deadline past the largest
// delay has elapsed, whichever comes first. An empty or fully-disabled
// step list completes immediately.
func runPhase(phase extruderctl.SequencePhase, steps []extruderctl.SequenceStep, startedAt, now time.Time, done map[string]bool, apply func(extruderctl.SequenceStep)) bool {
	elapsed := now.Sub(startedAt).Seconds()

	var maxDelay float64
	allFired := true
	for _, s := range steps {
		if !s.Enabled {
			continue
		}
		if s.Delay > maxDelay {
			maxDelay = s.Delay
		}
		key := fmt.Sprintf("%s:%s", phase, s.Device)
		if done[key] {
			continue
		}
		if elapsed >= s.Delay {
			apply(s)
			done[key] = true
		} else {
			allFired = false
		}
	}

	return allFired || elapsed >= maxDelay+sequenceGrace
}

// defaultAllOffSteps is the fallback for shutdown and emergency phases that
// have no configured steps: switch every device off immediately.
func defaultAllOffSteps() []extruderctl.SequenceStep {
	devices := []extruderctl.SequenceDevice{
		extruderctl.DeviceMainMotor,
		extruderctl.DeviceFeedMotor,
		extruderctl.DeviceFan,
		extruderctl.DevicePump,
	}
	steps := make([]extruderctl.SequenceStep, 0, len(devices))
	for _, d := range devices {
		steps = append(steps, extruderctl.SequenceStep{
			Device:  d,
			Action:  extruderctl.ActionOff,
			Delay:   0,
			Enabled: true,
		})
	}
	return steps
}
