package control

import (
	"context"
	"math"
	"sync"
	"time"

	"extruderctl"
	"extruderctl/internal/config"
	"extruderctl/internal/hardware"
	"extruderctl/internal/logger"
	"extruderctl/internal/metrics"
)

// tickInterval is the supervisory loop period. Faster than the PID sample
// time so button edges and safety predicates are seen promptly; the PIDs
// rate-limit themselves internally.
const tickInterval = 50 * time.Millisecond

// actuatorDebounce is the minimum spacing between motor or relay toggles
// at the command boundary. Protects relay contacts and driver enables from
// chatter caused by rapid repeated API calls.
const actuatorDebounce = 250 * time.Millisecond

// AlarmStore persists the capped alarm history.
type AlarmStore interface {
	Save(records []extruderctl.AlarmRecord) error
	Load() ([]extruderctl.AlarmRecord, error)
}

// EventSink records controller lifecycle events.
type EventSink interface {
	Record(e extruderctl.Event) error
}

// RunLogger writes periodic process rows while a recording is active.
type RunLogger interface {
	Start(now time.Time) error
	Stop() error
	Log(snap extruderctl.Snapshot, now time.Time) error
	Recording() bool
}

// Controller is the supervisory loop: it polls the hardware, evaluates the
// safety interlocks, runs the per-zone PIDs or the auto-tuner, sequences
// actuators through state transitions, and serves the command surface. One
// mutex guards all shared state; hardware calls are never made while it is
// held.
type Controller struct {
	hal     hardware.Interface
	log     *logger.Logger
	safety  *SafetyMonitor
	tuner   *AutoTuner
	pids    map[extruderctl.Zone]*PID
	store   AlarmStore
	events  EventSink
	datalog RunLogger
	metrics *metrics.Metrics
	cfg     *config.Config

	mu sync.Mutex
	st runtimeState

	runPermitted bool
	clearPending bool

	seqPhase    extruderctl.SequencePhase
	seqActive   bool
	seqStart    time.Time
	seqDone     map[string]bool
	seqSnapshot map[extruderctl.Motor]float64

	toggleTimes    map[string]time.Time
	lastTuneResult *extruderctl.TuneResult

	// loop-private; touched only by the Run goroutine.
	lastStartBtn bool
	lastStopBtn  bool
	lastPoll     time.Time
	lastLog      time.Time
}

// New wires a controller. The alarm history is restored from the store so a
// restart does not silently discharge latched faults.
func New(hal hardware.Interface, cfg *config.Config, store AlarmStore, events EventSink, datalog RunLogger, m *metrics.Metrics, log *logger.Logger) *Controller {
	limits := SafetyLimits{
		MotorMax:        cfg.Safety.MotorMax,
		HeaterMax:       cfg.Safety.HeaterMax,
		MinTempForMotor: cfg.Safety.MinTempForMotor,
	}
	sampleTime := time.Duration(cfg.Zones.SampleTime * float64(time.Second))

	c := &Controller{
		hal:    hal,
		log:    log,
		safety: NewSafetyMonitor(limits),
		tuner: NewAutoTuner(TunerSettings{
			OutputMin:      0,
			OutputMax:      100,
			Hysteresis:     cfg.Tuner.Hysteresis,
			CyclesRequired: cfg.Tuner.CyclesRequired,
			Timeout:        time.Duration(cfg.Tuner.TimeoutMinutes * float64(time.Minute)),
			MinPower:       10,
		}),
		pids: map[extruderctl.Zone]*PID{
			extruderctl.ZoneZ1: NewPID(cfg.Zones.Z1, sampleTime, 0, 100),
			extruderctl.ZoneZ2: NewPID(cfg.Zones.Z2, sampleTime, 0, 100),
		},
		store:        store,
		events:       events,
		datalog:      datalog,
		metrics:      m,
		cfg:          cfg,
		st:           newRuntimeState(),
		runPermitted: true,
		toggleTimes:  map[string]time.Time{},
		seqDone:      map[string]bool{},
		seqSnapshot:  map[extruderctl.Motor]float64{},
	}

	if store != nil {
		history, err := store.Load()
		if err != nil {
			log.Warnw("alarm history unreadable, starting empty", "error", err)
		} else {
			c.st.alarms = history
		}
		if active := c.st.activeAlarms(); len(active) > 0 {
			c.st.status = extruderctl.StatusAlarm
			c.runPermitted = false
			log.Warnw("restored latched alarms from previous run", "count", len(active))
		}
	}
	return c
}

// Run drives the supervisory loop until the context is cancelled, then
// forces all outputs to their safe state.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	c.log.Infow("control loop started", "tick", tickInterval.String())
	for {
		select {
		case <-ctx.Done():
			c.ForceSafeOutputs()
			c.log.Infow("control loop stopped")
			return
		case now := <-ticker.C:
			c.step(now)
		}
	}
}

// outputs is the actuator command set a step decided on, applied to the
// hardware only after the state lock is released.
type outputs struct {
	heaters map[extruderctl.Zone]float64
	motors  map[extruderctl.Motor]float64
	relays  map[string]bool
	pwm     map[string]float64
	peltier float64
	led     bool
}

// step runs one supervisory iteration. Inputs are gathered first without
// the lock, decisions are made under it, and hardware writes happen after
// it is released.
func (c *Controller) step(now time.Time) {
	started := time.Now()

	estop := c.hal.ButtonState(hardware.ButtonEmergency)
	startBtn := c.hal.ButtonState(hardware.ButtonStart)
	stopBtn := c.hal.ButtonState(hardware.ButtonStop)
	fault := c.hal.MotorFault()

	var (
		temps   map[string]float64
		tempsAt time.Time
		polled  bool
	)
	if now.Sub(c.lastPoll) >= c.cfg.PollInterval() || c.lastPoll.IsZero() {
		temps = c.hal.Temperatures()
		tempsAt = c.hal.LastValidTimestamp()
		polled = true
		c.lastPoll = now
	}

	startEdge := startBtn && !c.lastStartBtn
	stopEdge := stopBtn && !c.lastStopBtn
	c.lastStartBtn, c.lastStopBtn = startBtn, stopBtn

	var pendingEvents []extruderctl.Event

	c.mu.Lock()
	prevStatus := c.st.status

	if polled {
		c.st.temps = temps
		c.st.tempsAt = tempsAt
	}

	if estop && !c.st.hasActiveAlarm(extruderctl.CauseEmergencyButton) {
		pendingEvents = append(pendingEvents,
			c.latchLocked(extruderctl.CauseEmergencyButton, "emergency stop button pressed", now)...)
	}

	// Second phase of the alarm-clear handshake: the clear request was
	// accepted last tick, re-validate against live inputs before honoring it.
	if c.clearPending {
		c.clearPending = false
		if estop {
			c.log.Warnw("alarm clear abandoned, emergency stop button still pressed")
		} else {
			pendingEvents = append(pendingEvents, c.completeClearLocked(now)...)
		}
	}

	if ok, cause := c.safety.Check(c.st.temps, fault); !ok {
		pendingEvents = append(pendingEvents, c.latchLocked(cause, "safety interlock tripped", now)...)
	}

	stale := !c.st.tempsAt.IsZero() && now.Sub(c.st.tempsAt) > c.cfg.FreshnessTimeout()
	if stale {
		pendingEvents = append(pendingEvents,
			c.latchLocked(extruderctl.CauseTempStale, "temperature data stale", now)...)
	}

	if startEdge {
		events, err := c.requestStartLocked(now)
		pendingEvents = append(pendingEvents, events...)
		if err != nil {
			c.log.Warnw("panel start rejected", "error", err)
		} else {
			pendingEvents = append(pendingEvents, newEvent(extruderctl.EventState, "startup requested from panel", nil))
		}
	}
	if stopEdge {
		c.requestStopLocked(now)
	}

	out := outputs{
		heaters: map[extruderctl.Zone]float64{},
		motors:  map[extruderctl.Motor]float64{},
		relays:  map[string]bool{},
		pwm:     map[string]float64{},
	}

	c.advanceSequenceLocked(now, &out)
	c.computeHeatersLocked(now, stale, &out, &pendingEvents)

	// Motors, relays, and the auxiliary outputs are re-asserted from
	// commanded state every tick so a missed hardware write self-heals
	// within one period, and an alarm latch de-energizes them physically
	// on the next pass.
	if c.st.status == extruderctl.StatusAlarm || stale {
		for _, m := range []extruderctl.Motor{extruderctl.MotorMain, extruderctl.MotorFeed} {
			c.st.motors[m] = 0
		}
		c.st.peltier = 0
		for ch := range c.st.pwm {
			c.st.pwm[ch] = 0
		}
	}
	for m, rpm := range c.st.motors {
		out.motors[m] = rpm
	}
	for r, on := range c.st.relays {
		out.relays[r] = on
	}
	out.peltier = c.st.peltier
	for ch, duty := range c.st.pwm {
		out.pwm[ch] = duty
	}
	out.led = c.st.status == extruderctl.StatusRunning

	if prevStatus != c.st.status {
		pendingEvents = append(pendingEvents, newEvent(extruderctl.EventState,
			string(prevStatus)+" -> "+string(c.st.status), nil))
	}

	c.metrics.SetState(string(c.st.status))
	for sensor, v := range c.st.temps {
		c.metrics.SetTemperature(sensor, v)
	}
	for zone, duty := range c.st.heaterDuty {
		c.metrics.SetHeaterDuty(string(zone), duty)
	}
	for m, rpm := range c.st.motors {
		c.metrics.SetMotorRPM(string(m), rpm)
	}

	var logSnap *extruderctl.Snapshot
	if c.datalog != nil && c.datalog.Recording() &&
		now.Sub(c.lastLog).Seconds() >= c.cfg.Logging.Interval {
		snap := c.st.snapshot()
		c.fillTuneFieldsLocked(&snap)
		logSnap = &snap
		c.lastLog = now
	}
	c.mu.Unlock()

	for zone, duty := range out.heaters {
		c.hal.SetHeaterDuty(zone, duty)
	}
	for m, rpm := range out.motors {
		c.hal.SetMotorRPM(m, rpm)
	}
	for r, on := range out.relays {
		c.hal.SetRelay(r, on)
	}
	c.hal.SetPeltierDuty(out.peltier)
	for ch, duty := range out.pwm {
		c.hal.SetPWMOutput(ch, duty)
	}
	c.hal.SetLED(hardware.LEDStatus, out.led)

	if logSnap != nil {
		if err := c.datalog.Log(*logSnap, now); err != nil {
			c.log.Warnw("datalog write failed", "error", err)
		}
	}
	c.emitEvents(pendingEvents)

	c.metrics.ObserveTick(time.Since(started))
}

// computeHeatersLocked picks the heater duty source for this tick: forced
// zero under alarm or stale data, the auto-tuner for the zone under tune,
// the zone PIDs in automatic mode, or the operator's duty in manual mode.
func (c *Controller) computeHeatersLocked(now time.Time, stale bool, out *outputs, events *[]extruderctl.Event) {
	zones := []extruderctl.Zone{extruderctl.ZoneZ1, extruderctl.ZoneZ2}

	if c.st.status == extruderctl.StatusAlarm || stale {
		for _, z := range zones {
			c.st.heaterDuty[z] = 0
			out.heaters[z] = 0
		}
		if c.tuner.Active() {
			c.tuner.Stop()
			*events = append(*events, newEvent(extruderctl.EventTune, "tuning aborted by interlock", nil))
		}
		return
	}

	if c.st.mode == extruderctl.ModeManual {
		for _, z := range zones {
			duty := c.st.manualDuty[z]
			c.st.heaterDuty[z] = duty
			out.heaters[z] = duty
		}
		return
	}

	tunedZone := extruderctl.Zone("")
	if c.tuner.Active() {
		tunedZone = c.tuner.Zone()
		measurement, ok := sensorValue(c.st.temps, tunedZone.Sensor())
		if !ok {
			measurement = math.NaN()
		}
		duty, driving := c.tuner.Update(measurement, now)
		if driving {
			c.st.heaterDuty[tunedZone] = duty
			out.heaters[tunedZone] = duty
		}
		if !c.tuner.Active() {
			// Session just ended: output is already zero this tick.
			switch c.tuner.Phase() {
			case TuneDone:
				if res, err := c.tuner.Suggest(MethodTyreusLuyben); err == nil {
					c.lastTuneResult = res
					*events = append(*events, newEvent(extruderctl.EventTune, "tuning complete", res))
				}
			case TuneFailed:
				*events = append(*events, newEvent(extruderctl.EventTune, "tuning failed", nil))
			}
			tunedZone = ""
		}
	}

	for _, z := range zones {
		if z == tunedZone {
			continue
		}
		pid := c.pids[z]
		pid.SetSetpoint(c.st.targets[z])
		measurement, ok := sensorValue(c.st.temps, z.Sensor())
		if !ok {
			// Feed the non-finite reading through so the sample clock
			// refreshes, then fail safe.
			pid.Compute(math.NaN(), now)
			c.st.heaterDuty[z] = 0
			out.heaters[z] = 0
			continue
		}
		if duty, updated := pid.Compute(measurement, now); updated {
			c.st.heaterDuty[z] = duty
			out.heaters[z] = duty
		}
	}
}

// advanceSequenceLocked runs the active actuator sequence, if any, and
// performs the state transition when it finishes.
func (c *Controller) advanceSequenceLocked(now time.Time, out *outputs) {
	if !c.seqActive {
		return
	}

	steps := c.cfg.Sequence.Steps(c.seqPhase)
	if len(steps) == 0 && c.seqPhase != extruderctl.PhaseStartup {
		steps = defaultAllOffSteps()
	}

	finished := runPhase(c.seqPhase, steps, c.seqStart, now, c.seqDone, func(s extruderctl.SequenceStep) {
		c.applyStepLocked(s, out)
	})
	if !finished {
		return
	}

	c.seqActive = false
	switch c.seqPhase {
	case extruderctl.PhaseStartup:
		if c.st.status == extruderctl.StatusStarting {
			c.st.status = extruderctl.StatusRunning
		}
	case extruderctl.PhaseShutdown:
		if c.st.status == extruderctl.StatusStopping {
			c.st.status = extruderctl.StatusReady
		}
	}
}

// applyStepLocked translates one sequence step into commanded state. An
// "on" action restores the motor speed captured when the phase began, or
// jogs at a conservative speed when none was set.
func (c *Controller) applyStepLocked(s extruderctl.SequenceStep, out *outputs) {
	const jogRPM = 10.0

	switch s.Device {
	case extruderctl.DeviceMainMotor, extruderctl.DeviceFeedMotor:
		motor := extruderctl.MotorMain
		if s.Device == extruderctl.DeviceFeedMotor {
			motor = extruderctl.MotorFeed
		}
		if s.Action == extruderctl.ActionOn {
			rpm := c.seqSnapshot[motor]
			if rpm == 0 {
				rpm = jogRPM
			}
			c.st.motors[motor] = rpm
		} else {
			c.st.motors[motor] = 0
		}
		out.motors[motor] = c.st.motors[motor]

	case extruderctl.DeviceFan, extruderctl.DevicePump:
		name := hardware.RelayFan
		if s.Device == extruderctl.DevicePump {
			name = hardware.RelayPump
		}
		on := s.Action == extruderctl.ActionOn
		c.st.relays[name] = on
		out.relays[name] = on
	}
}

// beginSequenceLocked arms a phase and snapshots motor speeds for restore.
func (c *Controller) beginSequenceLocked(phase extruderctl.SequencePhase, now time.Time) {
	c.seqPhase = phase
	c.seqActive = true
	c.seqStart = now
	c.seqDone = map[string]bool{}
	c.seqSnapshot = map[extruderctl.Motor]float64{
		extruderctl.MotorMain: c.st.motors[extruderctl.MotorMain],
		extruderctl.MotorFeed: c.st.motors[extruderctl.MotorFeed],
	}
}

// requestStartLocked begins the startup sequence if the system may run.
// Returned events must be emitted after the lock is released.
func (c *Controller) requestStartLocked(now time.Time) ([]extruderctl.Event, error) {
	// Latched alarms take precedence over the status check so a start
	// attempt during ALARM reports the actual obstacle.
	if !c.runPermitted || len(c.st.activeAlarms()) > 0 {
		return nil, cmdErr(CodeAlarmActive)
	}
	if c.st.status != extruderctl.StatusReady {
		return nil, cmdErr(CodeInvalidState)
	}
	if c.cfg.Sequence.CheckTempBeforeStart && c.st.mode == extruderctl.ModeAuto {
		if ok, cause := c.safety.GuardMotorTemp(c.st.temps); !ok {
			events := c.latchLocked(cause, "start blocked by temperature guard", now)
			return events, cmdErr(string(cause))
		}
	}
	c.st.status = extruderctl.StatusStarting
	c.beginSequenceLocked(extruderctl.PhaseStartup, now)
	return nil, nil
}

// requestStopLocked begins the shutdown sequence. Stopping an already-idle
// system is a no-op, not an error.
func (c *Controller) requestStopLocked(now time.Time) {
	switch c.st.status {
	case extruderctl.StatusRunning, extruderctl.StatusStarting:
		c.st.status = extruderctl.StatusStopping
		c.beginSequenceLocked(extruderctl.PhaseShutdown, now)
	}
}

// ForceSafeOutputs drives every actuator to its de-energized state. Called
// on loop exit, and by the composition root as a last resort when the loop
// cannot be joined in time during shutdown.
func (c *Controller) ForceSafeOutputs() {
	c.hal.SetHeaterDuty(extruderctl.ZoneZ1, 0)
	c.hal.SetHeaterDuty(extruderctl.ZoneZ2, 0)
	c.hal.SetMotorRPM(extruderctl.MotorMain, 0)
	c.hal.SetMotorRPM(extruderctl.MotorFeed, 0)
	c.hal.SetRelay(hardware.RelayFan, false)
	c.hal.SetRelay(hardware.RelayPump, false)
	c.hal.SetPeltierDuty(0)
	for _, ch := range c.cfg.PWM.Channels {
		c.hal.SetPWMOutput(ch, 0)
	}
	c.hal.SetLED(hardware.LEDStatus, false)
}

// fillTuneFieldsLocked copies tuner progress into a snapshot.
func (c *Controller) fillTuneFieldsLocked(snap *extruderctl.Snapshot) {
	snap.TunePhase = string(c.tuner.Phase())
	snap.TuneZone = c.tuner.Zone()
	snap.TuneCycles = c.tuner.CycleCount()
	snap.TuneResult = c.lastTuneResult
}

// emitEvents records pending events outside the state lock.
func (c *Controller) emitEvents(events []extruderctl.Event) {
	if c.events == nil {
		return
	}
	for _, e := range events {
		if err := c.events.Record(e); err != nil {
			c.log.Warnw("event record failed", "type", e.Type, "error", err)
		}
	}
}
