package control

import (
	"math"
	"time"

	"extruderctl"
	"extruderctl/internal/config"
	"extruderctl/internal/hardware"
)

// Command rejection codes. The HTTP layer maps these onto status codes;
// everything else treats them as opaque strings.
const (
	CodeInvalidMode           = "INVALID_MODE"
	CodeInvalidTarget         = "INVALID_TARGET"
	CodeInvalidZone           = "INVALID_ZONE"
	CodeInvalidDuty           = "INVALID_DUTY"
	CodeInvalidMotor          = "INVALID_MOTOR"
	CodeInvalidRPM            = "INVALID_RPM"
	CodeInvalidRelay          = "INVALID_RELAY"
	CodeInvalidPWMChannel     = "INVALID_PWM_CHANNEL"
	CodeInvalidState          = "INVALID_STATE"
	CodeInvalidSequence       = "INVALID_SEQUENCE"
	CodeInvalidPIDParams      = "INVALID_PID_PARAMS"
	CodeManualOnly            = "MANUAL_ONLY"
	CodeAlarmActive           = "ALARM_ACTIVE"
	CodeTempDataStale         = "TEMP_DATA_STALE"
	CodeMotorDebounce         = "MOTOR_DEBOUNCE"
	CodeRelayDebounce         = "RELAY_DEBOUNCE"
	CodeEmergencyButtonActive = "EMERGENCY_BTN_ACTIVE"
	CodeTuneActive            = "TUNE_ACTIVE"
	CodeNoResult              = "NO_RESULT"
	CodeUnknownAlarm          = "UNKNOWN_ALARM"
)

// CommandError is a rejected command with a machine-readable code.
type CommandError struct {
	Code string
}

func (e *CommandError) Error() string { return e.Code }

func cmdErr(code string) *CommandError {
	return &CommandError{Code: code}
}

// Gate levels for the alarm-state command policy. Recovery commands and
// reads always pass; configuration and non-heater actuators pass while
// only warning-severity alarms are active; everything that can put energy
// into the process requires a clean alarm set.
type gateLevel int

const (
	gateAlways gateLevel = iota
	gateWarning
	gateRun
)

// gateLocked applies the alarm policy. Caller holds mu.
func (c *Controller) gateLocked(level gateLevel) error {
	switch level {
	case gateAlways:
		return nil
	case gateWarning:
		if c.st.hasCriticalAlarm() {
			return cmdErr(CodeAlarmActive)
		}
		return nil
	default:
		if len(c.st.activeAlarms()) > 0 {
			return cmdErr(CodeAlarmActive)
		}
		return nil
	}
}

// staleLocked reports whether the stale-data interlock is engaged.
func (c *Controller) staleLocked() bool {
	return c.st.hasActiveAlarm(extruderctl.CauseTempStale)
}

// debounceLocked enforces the minimum toggle spacing for an actuator.
func (c *Controller) debounceLocked(key, code string, now time.Time) error {
	if last, ok := c.toggleTimes[key]; ok && now.Sub(last) < actuatorDebounce {
		return cmdErr(code)
	}
	c.toggleTimes[key] = now
	return nil
}

func validDuty(v float64) bool {
	return v >= 0 && v <= 100 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Start begins the startup sequence from READY.
func (c *Controller) Start() error {
	c.mu.Lock()
	events, err := c.requestStartLocked(time.Now())
	if err == nil {
		events = append(events, newEvent(extruderctl.EventState, "startup requested", nil))
	}
	c.mu.Unlock()
	c.emitEvents(events)
	return err
}

// Stop begins the shutdown sequence. Always allowed; stopping an idle
// system does nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.requestStopLocked(time.Now())
	c.mu.Unlock()
}

// SetMode switches between automatic and manual control. The PIDs are
// reset on every switch so stale integrator charge from the previous
// regime cannot kick the output.
func (c *Controller) SetMode(mode extruderctl.Mode) error {
	if mode != extruderctl.ModeAuto && mode != extruderctl.ModeManual {
		c.metrics.IncValidationError()
		return cmdErr(CodeInvalidMode)
	}

	c.mu.Lock()
	if err := c.gateLocked(gateWarning); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.st.mode == mode {
		c.mu.Unlock()
		return nil
	}
	prev := c.st.mode
	c.st.mode = mode
	for _, p := range c.pids {
		p.Reset()
	}
	if mode == extruderctl.ModeAuto {
		for z := range c.st.manualDuty {
			c.st.manualDuty[z] = 0
		}
	}
	c.mu.Unlock()

	c.emitEvents([]extruderctl.Event{
		newEvent(extruderctl.EventModeChange, string(prev)+" -> "+string(mode), nil),
	})
	return nil
}

// SetTarget updates a zone's temperature setpoint.
func (c *Controller) SetTarget(zone extruderctl.Zone, value float64) error {
	if zone != extruderctl.ZoneZ1 && zone != extruderctl.ZoneZ2 {
		c.metrics.IncValidationError()
		return cmdErr(CodeInvalidZone)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 || value > c.safety.Limits().HeaterMax {
		c.metrics.IncValidationError()
		return cmdErr(CodeInvalidTarget)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.gateLocked(gateWarning); err != nil {
		return err
	}
	c.st.targets[zone] = value
	c.pids[zone].SetSetpoint(value)
	return nil
}

// SetHeater sets a zone's duty directly. Manual mode only, and never while
// any alarm is latched.
func (c *Controller) SetHeater(zone extruderctl.Zone, duty float64) error {
	if zone != extruderctl.ZoneZ1 && zone != extruderctl.ZoneZ2 {
		c.metrics.IncValidationError()
		return cmdErr(CodeInvalidZone)
	}
	if !validDuty(duty) {
		c.metrics.IncValidationError()
		return cmdErr(CodeInvalidDuty)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.gateLocked(gateRun); err != nil {
		return err
	}
	if c.st.mode != extruderctl.ModeManual {
		return cmdErr(CodeManualOnly)
	}
	c.st.manualDuty[zone] = duty
	return nil
}

// SetMotor commands a motor speed. In automatic mode the cold-extrusion
// guard must pass; a failed guard zeroes both motors and latches the
// alarm. Manual mode bypasses the guard as a deliberate operator override,
// but stale temperature data blocks motion in both modes.
func (c *Controller) SetMotor(motor extruderctl.Motor, rpm float64) error {
	if motor != extruderctl.MotorMain && motor != extruderctl.MotorFeed {
		c.metrics.IncValidationError()
		return cmdErr(CodeInvalidMotor)
	}
	if math.IsNaN(rpm) || math.IsInf(rpm, 0) || rpm < 0 || rpm > c.cfg.Motion.MaxRPM {
		c.metrics.IncValidationError()
		return cmdErr(CodeInvalidRPM)
	}

	now := time.Now()
	var events []extruderctl.Event

	c.mu.Lock()
	if err := c.gateLocked(gateWarning); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.staleLocked() {
		c.mu.Unlock()
		return cmdErr(CodeTempDataStale)
	}
	if err := c.debounceLocked("motor:"+string(motor), CodeMotorDebounce, now); err != nil {
		c.mu.Unlock()
		return err
	}

	if rpm > 0 && c.st.mode == extruderctl.ModeAuto {
		if ok, cause := c.safety.GuardMotorTemp(c.st.temps); !ok {
			for _, m := range []extruderctl.Motor{extruderctl.MotorMain, extruderctl.MotorFeed} {
				c.st.motors[m] = 0
			}
			events = c.latchLocked(cause, "motor command blocked by temperature guard", now)
			c.mu.Unlock()

			c.hal.SetMotorRPM(extruderctl.MotorMain, 0)
			c.hal.SetMotorRPM(extruderctl.MotorFeed, 0)
			c.emitEvents(events)
			return cmdErr(string(cause))
		}
	}

	c.st.motors[motor] = rpm
	c.mu.Unlock()

	c.hal.SetMotorRPM(motor, rpm)
	return nil
}

// SetRelay switches an auxiliary relay. Commanding the present state is a
// no-op and does not consume the debounce window.
func (c *Controller) SetRelay(name string, on bool) error {
	if name != hardware.RelayFan && name != hardware.RelayPump {
		c.metrics.IncValidationError()
		return cmdErr(CodeInvalidRelay)
	}

	c.mu.Lock()
	if err := c.gateLocked(gateWarning); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.st.relays[name] == on {
		c.mu.Unlock()
		return nil
	}
	if err := c.debounceLocked("relay:"+name, CodeRelayDebounce, time.Now()); err != nil {
		c.mu.Unlock()
		return err
	}
	c.st.relays[name] = on
	c.mu.Unlock()

	c.hal.SetRelay(name, on)
	return nil
}

// SetPeltier sets the cooling module duty. Blocked while temperature data
// is stale, like every output that moves energy through the process.
func (c *Controller) SetPeltier(duty float64) error {
	if !validDuty(duty) {
		c.metrics.IncValidationError()
		return cmdErr(CodeInvalidDuty)
	}

	c.mu.Lock()
	if err := c.gateLocked(gateWarning); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.staleLocked() {
		c.mu.Unlock()
		return cmdErr(CodeTempDataStale)
	}
	c.st.peltier = duty
	c.mu.Unlock()

	c.hal.SetPeltierDuty(duty)
	return nil
}

// SetPWMOutput drives one of the configured auxiliary PWM channels.
// Blocked while temperature data is stale.
func (c *Controller) SetPWMOutput(channel string, duty float64) error {
	if !c.validPWMChannel(channel) {
		c.metrics.IncValidationError()
		return cmdErr(CodeInvalidPWMChannel)
	}
	if !validDuty(duty) {
		c.metrics.IncValidationError()
		return cmdErr(CodeInvalidDuty)
	}

	c.mu.Lock()
	if err := c.gateLocked(gateWarning); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.staleLocked() {
		c.mu.Unlock()
		return cmdErr(CodeTempDataStale)
	}
	c.st.pwm[channel] = duty
	c.mu.Unlock()

	c.hal.SetPWMOutput(channel, duty)
	return nil
}

func (c *Controller) validPWMChannel(channel string) bool {
	for _, ch := range c.cfg.PWM.Channels {
		if ch == channel {
			return true
		}
	}
	return false
}

// UpdatePID replaces a zone's gain triple. Gains outside [0, 1000] are
// rejected as a unit.
func (c *Controller) UpdatePID(zone extruderctl.Zone, gains extruderctl.PIDGains) error {
	if zone != extruderctl.ZoneZ1 && zone != extruderctl.ZoneZ2 {
		c.metrics.IncValidationError()
		return cmdErr(CodeInvalidZone)
	}
	for _, g := range []float64{gains.Kp, gains.Ki, gains.Kd} {
		if g < 0 || g > 1000 || math.IsNaN(g) || math.IsInf(g, 0) {
			c.metrics.IncValidationError()
			return cmdErr(CodeInvalidPIDParams)
		}
	}

	c.mu.Lock()
	if err := c.gateLocked(gateWarning); err != nil {
		c.mu.Unlock()
		return err
	}
	c.pids[zone].SetGains(gains)
	c.mu.Unlock()

	c.emitEvents([]extruderctl.Event{
		newEvent(extruderctl.EventConfig, "pid gains updated for "+string(zone), gains),
	})
	return nil
}

// PIDSettings returns the live gain triples and setpoints per zone.
func (c *Controller) PIDSettings() map[extruderctl.Zone]extruderctl.PIDGains {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[extruderctl.Zone]extruderctl.PIDGains, len(c.pids))
	for z, p := range c.pids {
		out[z] = p.Gains()
	}
	return out
}

// UpdateSequence replaces one phase's step list. Steps are sanitized the
// same way the config loader does it; any dropped step rejects the whole
// update so a typo cannot silently shorten a shutdown.
func (c *Controller) UpdateSequence(phase extruderctl.SequencePhase, steps []extruderctl.SequenceStep) error {
	if phase != extruderctl.PhaseStartup && phase != extruderctl.PhaseShutdown && phase != extruderctl.PhaseEmergency {
		c.metrics.IncValidationError()
		return cmdErr(CodeInvalidSequence)
	}
	sanitized, warns := config.SanitizeSteps(steps, string(phase))
	if len(warns) > 0 {
		c.metrics.IncValidationError()
		return cmdErr(CodeInvalidSequence)
	}

	c.mu.Lock()
	if err := c.gateLocked(gateWarning); err != nil {
		c.mu.Unlock()
		return err
	}
	switch phase {
	case extruderctl.PhaseStartup:
		c.cfg.Sequence.Startup = sanitized
	case extruderctl.PhaseShutdown:
		c.cfg.Sequence.Shutdown = sanitized
	case extruderctl.PhaseEmergency:
		c.cfg.Sequence.Emergency = sanitized
	}
	c.mu.Unlock()

	c.emitEvents([]extruderctl.Event{
		newEvent(extruderctl.EventConfig, "sequence updated: "+string(phase), sanitized),
	})
	return nil
}

// Sequences returns the configured phase step lists.
func (c *Controller) Sequences() map[extruderctl.SequencePhase][]extruderctl.SequenceStep {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[extruderctl.SequencePhase][]extruderctl.SequenceStep{}
	for _, phase := range []extruderctl.SequencePhase{
		extruderctl.PhaseStartup, extruderctl.PhaseShutdown, extruderctl.PhaseEmergency,
	} {
		steps := c.cfg.Sequence.Steps(phase)
		cp := make([]extruderctl.SequenceStep, len(steps))
		copy(cp, steps)
		out[phase] = cp
	}
	return out
}

// StartTune begins a relay-feedback session on one zone. Requires
// automatic mode, a clean alarm set, and an idle tuner. The relay power is
// clamped to [10, 100]; zero selects the configured default.
func (c *Controller) StartTune(zone extruderctl.Zone, setpoint, power float64) error {
	if zone != extruderctl.ZoneZ1 && zone != extruderctl.ZoneZ2 {
		c.metrics.IncValidationError()
		return cmdErr(CodeInvalidZone)
	}
	if math.IsNaN(setpoint) || math.IsInf(setpoint, 0) || setpoint <= 0 || setpoint > c.safety.Limits().HeaterMax {
		c.metrics.IncValidationError()
		return cmdErr(CodeInvalidTarget)
	}
	if power == 0 {
		power = c.cfg.Tuner.DefaultPower
	}

	now := time.Now()
	c.mu.Lock()
	if err := c.gateLocked(gateRun); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.st.mode != extruderctl.ModeAuto {
		c.mu.Unlock()
		return cmdErr(CodeInvalidMode)
	}
	if c.tuner.Active() {
		c.mu.Unlock()
		return cmdErr(CodeTuneActive)
	}
	c.tuner.Start(zone, setpoint, power, now)
	c.pids[zone].Reset()
	c.mu.Unlock()

	c.emitEvents([]extruderctl.Event{
		newEvent(extruderctl.EventTune, "tuning started on "+string(zone), nil),
	})
	return nil
}

// StopTune aborts an active session and de-energizes the tuned zone.
func (c *Controller) StopTune() {
	c.mu.Lock()
	if !c.tuner.Active() {
		c.mu.Unlock()
		return
	}
	zone := c.tuner.Zone()
	c.tuner.Stop()
	c.st.heaterDuty[zone] = 0
	c.pids[zone].Reset()
	c.mu.Unlock()

	c.hal.SetHeaterDuty(zone, 0)
	c.emitEvents([]extruderctl.Event{
		newEvent(extruderctl.EventTune, "tuning aborted on "+string(zone), nil),
	})
}

// TuneStatus reports the tuner's progress and the latest result, if any.
func (c *Controller) TuneStatus() (phase TunePhase, zone extruderctl.Zone, cycles float64, result *extruderctl.TuneResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tuner.Phase(), c.tuner.Zone(), c.tuner.CycleCount(), c.lastTuneResult
}

// SuggestTune derives gains from the last completed session without
// applying them.
func (c *Controller) SuggestTune(method string) (*extruderctl.TuneResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.tuner.Suggest(method)
	if err == ErrNoTuneResult {
		return nil, cmdErr(CodeNoResult)
	}
	return res, err
}

// ApplyTuneResult installs gains from the last completed session into the
// tuned zone's PID.
func (c *Controller) ApplyTuneResult(method string) (*extruderctl.TuneResult, error) {
	c.mu.Lock()
	res, err := c.tuner.Suggest(method)
	if err != nil {
		c.mu.Unlock()
		if err == ErrNoTuneResult {
			return nil, cmdErr(CodeNoResult)
		}
		return nil, err
	}
	c.pids[res.Zone].SetGains(extruderctl.PIDGains{Kp: res.Kp, Ki: res.Ki, Kd: res.Kd})
	c.lastTuneResult = res
	c.mu.Unlock()

	c.emitEvents([]extruderctl.Event{
		newEvent(extruderctl.EventConfig, "tuned gains applied to "+string(res.Zone), res),
	})
	return res, nil
}

// StartRecording begins a CSV process recording.
func (c *Controller) StartRecording() error {
	if c.datalog == nil {
		return nil
	}
	return c.datalog.Start(time.Now())
}

// StopRecording ends the active recording, if any.
func (c *Controller) StopRecording() error {
	if c.datalog == nil {
		return nil
	}
	return c.datalog.Stop()
}

// Snapshot returns a consistent copy of the runtime state.
func (c *Controller) Snapshot() extruderctl.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.st.snapshot()
	c.fillTuneFieldsLocked(&snap)
	return snap
}
