package control

import (
	"errors"
	"math"
	"time"

	"extruderctl"
)

// TunePhase is the auto-tuner's state machine position.
type TunePhase string

const (
	TuneIdle    TunePhase = "IDLE"
	TuneHeating TunePhase = "HEATING"
	TuneCooling TunePhase = "COOLING"
	TuneDone    TunePhase = "DONE"
	TuneFailed  TunePhase = "FAILED"
)

// Tuning rule names accepted by Suggest.
const (
	MethodTyreusLuyben   = "tyreus-luyben"
	MethodZieglerNichols = "ziegler-nichols"
)

// ErrNoTuneResult is returned when gains are requested before a tuning
// session has completed successfully.
var ErrNoTuneResult = errors.New("no tuning result available")

// TunerSettings parameterize the relay experiment.
type TunerSettings struct {
	OutputMin      float64
	OutputMax      float64
	Hysteresis     float64       // °C band around the setpoint
	CyclesRequired float64       // half-cycle granularity
	Timeout        time.Duration // wall-clock bound on the whole session
	MinPower       float64       // floor on the relay power
}

// DefaultTunerSettings returns the stock relay experiment parameters.
func DefaultTunerSettings() TunerSettings {
	return TunerSettings{
		OutputMin:      0,
		OutputMax:      100,
		Hysteresis:     0.5,
		CyclesRequired: 3,
		Timeout:        30 * time.Minute,
		MinPower:       10,
	}
}

type tunePeak struct {
	at    time.Time
	value float64
	max   bool
}

// AutoTuner drives a heater zone into a relay-feedback limit cycle and
// estimates the ultimate gain and period from the recorded oscillation
// peaks. At most one session is active system-wide; the owning Controller
// serializes all access.
type AutoTuner struct {
	settings TunerSettings

	phase      TunePhase
	active     bool
	zone       extruderctl.Zone
	setpoint   float64
	relayPower float64

	startedAt    time.Time
	cycleCount   float64
	peaks        []tunePeak
	extremum     float64
	haveExtremum bool

	ku, pu, amplitude float64
	haveResult        bool
}

// NewAutoTuner builds an idle tuner.
func NewAutoTuner(settings TunerSettings) *AutoTuner {
	return &AutoTuner{settings: settings, phase: TuneIdle}
}

// Start resets all session state and begins heating toward the setpoint.
func (t *AutoTuner) Start(zone extruderctl.Zone, setpoint, relayPower float64, now time.Time) {
	t.resetSession()
	t.active = true
	t.zone = zone
	t.setpoint = setpoint
	t.relayPower = clamp(relayPower, t.settings.MinPower, t.settings.OutputMax)
	t.phase = TuneHeating
	t.startedAt = now
}

// Stop aborts the session. Output authority returns to the zone PID; the
// caller is responsible for commanding the heater off.
func (t *AutoTuner) Stop() {
	t.active = false
	t.phase = TuneIdle
}

func (t *AutoTuner) resetSession() {
	t.active = false
	t.phase = TuneIdle
	t.zone = ""
	t.setpoint = 0
	t.relayPower = 0
	t.cycleCount = 0
	t.peaks = nil
	t.haveExtremum = false
	t.ku, t.pu, t.amplitude = 0, 0, 0
	t.haveResult = false
}

// Active reports whether the tuner currently owns a zone's output.
func (t *AutoTuner) Active() bool { return t.active }

// Phase returns the state machine position.
func (t *AutoTuner) Phase() TunePhase { return t.phase }

// Zone returns the zone under tune (valid during and after a session).
func (t *AutoTuner) Zone() extruderctl.Zone { return t.zone }

// CycleCount reports session progress. The count advances by a half only on
// the falling relay switch, so a full rise-and-fall oscillation contributes
// 0.5 and CyclesRequired demands twice that many oscillations.
func (t *AutoTuner) CycleCount() float64 { return t.cycleCount }

// Update advances the relay experiment with one measurement. The returned
// bool reports whether the tuner is driving the zone this tick; the output
// is always within relay bounds while active and exactly zero on the tick
// the tuner leaves the active state, so a heater is never left commanded
// on after tuning stops, fails, or times out.
func (t *AutoTuner) Update(measurement float64, now time.Time) (float64, bool) {
	if !t.active || math.IsNaN(measurement) || math.IsInf(measurement, 0) {
		return 0, false
	}

	if now.Sub(t.startedAt) > t.settings.Timeout {
		t.phase = TuneFailed
		t.active = false
		return 0, true
	}

	if !t.haveExtremum {
		t.extremum = measurement
		t.haveExtremum = true
	}

	var output float64
	switch t.phase {
	case TuneHeating:
		if measurement > t.extremum {
			t.extremum = measurement
		}
		if measurement > t.setpoint+t.settings.Hysteresis {
			t.phase = TuneCooling
			t.recordPeak(now, t.extremum, true)
			t.extremum = measurement
			output = t.settings.OutputMin
		} else {
			output = t.relayPower
		}

	case TuneCooling:
		if measurement < t.extremum {
			t.extremum = measurement
		}
		if measurement < t.setpoint-t.settings.Hysteresis {
			t.phase = TuneHeating
			t.recordPeak(now, t.extremum, false)
			t.extremum = measurement
			t.cycleCount += 0.5
			output = t.relayPower
		} else {
			output = t.settings.OutputMin
		}

	default:
		return 0, false
	}

	if t.cycleCount >= t.settings.CyclesRequired {
		if t.computeResult() {
			t.phase = TuneDone
		} else {
			t.phase = TuneFailed
		}
		t.active = false
		return 0, true
	}

	return output, true
}

// recordPeak stores an extremum. Peaks seen before the count reaches 1.0
// belong to the startup transient (the plant is still approaching the
// setpoint band) and are discarded.
func (t *AutoTuner) recordPeak(at time.Time, value float64, max bool) {
	if t.cycleCount >= 1.0 {
		t.peaks = append(t.peaks, tunePeak{at: at, value: value, max: max})
	}
}

// computeResult derives Ku and Pu from the recorded peaks. Requires at
// least four peaks so both peak types contribute a period estimate.
func (t *AutoTuner) computeResult() bool {
	if len(t.peaks) < 4 {
		return false
	}

	var periods []float64
	for i := 2; i < len(t.peaks); i++ {
		if t.peaks[i].max == t.peaks[i-2].max {
			periods = append(periods, t.peaks[i].at.Sub(t.peaks[i-2].at).Seconds())
		}
	}
	if len(periods) == 0 {
		return false
	}
	t.pu = mean(periods)

	var maxes, mins []float64
	for _, p := range t.peaks {
		if p.max {
			maxes = append(maxes, p.value)
		} else {
			mins = append(mins, p.value)
		}
	}
	amplitude := (mean(maxes) - mean(mins)) / 2.0
	if amplitude <= 0.001 {
		amplitude = 0.001
	}
	t.amplitude = amplitude

	t.ku = 4.0 * t.relayPower / (math.Pi * amplitude)
	t.haveResult = true
	return true
}

// Result returns the identified plant parameters once the session reached
// TuneDone.
func (t *AutoTuner) Result() (ku, pu, amplitude float64, ok bool) {
	if !t.haveResult {
		return 0, 0, 0, false
	}
	return t.ku, t.pu, t.amplitude, true
}

// Suggest converts the identified Ku/Pu into PID gains. Tyreus-Luyben is
// the default: conservative settings suited to slow thermal plants.
// Ziegler-Nichols classic is available for operators who want a snappier
// (and more oscillatory) response.
func (t *AutoTuner) Suggest(method string) (*extruderctl.TuneResult, error) {
	if !t.haveResult {
		return nil, ErrNoTuneResult
	}

	var kp, ti, td float64
	switch method {
	case MethodZieglerNichols:
		kp = 0.6 * t.ku
		ti = 0.5 * t.pu
		td = 0.125 * t.pu
	case MethodTyreusLuyben, "":
		method = MethodTyreusLuyben
		kp = t.ku / 2.2
		ti = 2.2 * t.pu
		td = t.pu / 6.3
	default:
		return nil, errors.New("unknown tuning method: " + method)
	}

	var ki float64
	if ti > 0 {
		ki = kp / ti
	}
	kd := kp * td

	return &extruderctl.TuneResult{
		Zone:      t.zone,
		Method:    method,
		Kp:        round(kp, 2),
		Ki:        round(ki, 4),
		Kd:        round(kd, 2),
		Ku:        t.ku,
		Pu:        t.pu,
		Amplitude: t.amplitude,
	}, nil
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func round(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}
