package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extruderctl"
)

func TestRunPhase_FiresStepsAtDelays(t *testing.T) {
	t.Parallel()

	steps := []extruderctl.SequenceStep{
		{Device: extruderctl.DeviceFan, Action: extruderctl.ActionOn, Delay: 0, Enabled: true},
		{Device: extruderctl.DeviceMainMotor, Action: extruderctl.ActionOn, Delay: 2, Enabled: true},
		{Device: extruderctl.DevicePump, Action: extruderctl.ActionOn, Delay: 5, Enabled: false},
	}

	start := time.Now()
	done := map[string]bool{}
	var fired []extruderctl.SequenceDevice
	apply := func(s extruderctl.SequenceStep) { fired = append(fired, s.Device) }

	finished := runPhase(extruderctl.PhaseStartup, steps, start, start, done, apply)
	assert.False(t, finished)
	assert.Equal(t, []extruderctl.SequenceDevice{extruderctl.DeviceFan}, fired)

	// Before the motor delay nothing new fires, and the fan does not refire.
	finished = runPhase(extruderctl.PhaseStartup, steps, start, start.Add(time.Second), done, apply)
	assert.False(t, finished)
	assert.Len(t, fired, 1)

	// The last enabled step firing completes the phase in the same call;
	// the disabled pump step neither fires nor holds the phase open.
	finished = runPhase(extruderctl.PhaseStartup, steps, start, start.Add(2*time.Second), done, apply)
	assert.True(t, finished)
	assert.Equal(t, []extruderctl.SequenceDevice{extruderctl.DeviceFan, extruderctl.DeviceMainMotor}, fired)
}

func TestRunPhase_DeadlineBoundsThePhase(t *testing.T) {
	t.Parallel()

	steps := []extruderctl.SequenceStep{
		{Device: extruderctl.DeviceFan, Action: extruderctl.ActionOn, Delay: 2, Enabled: true},
	}

	start := time.Now()
	done := map[string]bool{}

	// Before the step delay the phase is neither fired out nor timed out.
	finished := runPhase(extruderctl.PhaseStartup, steps, start, start.Add(time.Second), done, func(extruderctl.SequenceStep) {})
	assert.False(t, finished)

	// Past max(delays)+grace the phase is done regardless of fire state.
	finished = runPhase(extruderctl.PhaseStartup, steps, start, start.Add(3100*time.Millisecond), done, func(extruderctl.SequenceStep) {})
	assert.True(t, finished)
}

func TestRunPhase_EmptyListCompletesImmediately(t *testing.T) {
	t.Parallel()

	start := time.Now()
	done := map[string]bool{}

	finished := runPhase(extruderctl.PhaseShutdown, nil, start, start, done, func(extruderctl.SequenceStep) {
		t.Fatal("no step should fire")
	})
	assert.True(t, finished)
}

func TestRunPhase_KeysAreScopedPerPhase(t *testing.T) {
	t.Parallel()

	steps := []extruderctl.SequenceStep{
		{Device: extruderctl.DeviceFan, Action: extruderctl.ActionOff, Delay: 0, Enabled: true},
	}

	start := time.Now()
	done := map[string]bool{}
	count := 0
	apply := func(extruderctl.SequenceStep) { count++ }

	runPhase(extruderctl.PhaseShutdown, steps, start, start, done, apply)
	runPhase(extruderctl.PhaseEmergency, steps, start, start, done, apply)
	require.Equal(t, 2, count) // same device, different phases, both fire
	assert.True(t, done["shutdown:fan"])
	assert.True(t, done["emergency:fan"])
}

func TestDefaultAllOffSteps(t *testing.T) {
	t.Parallel()

	steps := defaultAllOffSteps()
	require.Len(t, steps, 4)
	seen := map[extruderctl.SequenceDevice]bool{}
	for _, s := range steps {
		assert.Equal(t, extruderctl.ActionOff, s.Action)
		assert.True(t, s.Enabled)
		assert.Zero(t, s.Delay)
		seen[s.Device] = true
	}
	assert.Len(t, seen, 4)
}
