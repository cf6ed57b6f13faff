package hardware

import (
	"math"
	"sync"
	"time"

	"extruderctl"
)

// Thermal model constants for the simulated rig.
const (
	simAmbientC      = 25.0
	simHeatRateCPerS = 3.0 // °C/s gained at 100 % duty
	simCoolRateCPerS = 0.5 // °C/s ambient drift
	simMotorWarmCoef = 0.002
)

// Sim is a software stand-in for the extruder rig: two heated zones with a
// first-order thermal response to the commanded duty, a motor temperature
// that tracks load, and settable panel buttons and fault line. It lets the
// full stack run on a desk and backs the integration-style tests.
type Sim struct {
	mu sync.Mutex

	now     func() time.Time
	lastAdv time.Time

	temps     map[string]float64
	disabled  map[string]bool
	buttons   map[string]bool
	fault     bool
	lastValid time.Time

	heaters map[extruderctl.Zone]float64
	motors  map[extruderctl.Motor]float64
	relays  map[string]bool
	pwm     map[string]float64
	peltier float64
	leds    map[string]bool
}

// NewSim returns a simulated rig at ambient temperature.
func NewSim() *Sim {
	now := time.Now()
	return &Sim{
		now:     time.Now,
		lastAdv: now,
		temps: map[string]float64{
			extruderctl.SensorFeed:  simAmbientC,
			extruderctl.SensorZone1: simAmbientC,
			extruderctl.SensorZone2: simAmbientC,
			extruderctl.SensorMotor: simAmbientC,
		},
		disabled:  map[string]bool{},
		buttons:   map[string]bool{},
		heaters:   map[extruderctl.Zone]float64{},
		motors:    map[extruderctl.Motor]float64{},
		relays:    map[string]bool{},
		pwm:       map[string]float64{},
		leds:      map[string]bool{},
		lastValid: now,
	}
}

// advance steps the thermal model up to the current time. Caller holds mu.
func (s *Sim) advance() {
	now := s.now()
	dt := now.Sub(s.lastAdv).Seconds()
	if dt <= 0 {
		return
	}
	s.lastAdv = now

	for zone, sensor := range map[extruderctl.Zone]string{
		extruderctl.ZoneZ1: extruderctl.SensorZone1,
		extruderctl.ZoneZ2: extruderctl.SensorZone2,
	} {
		t := s.temps[sensor]
		t += s.heaters[zone] / 100.0 * simHeatRateCPerS * dt
		t = drift(t, dt)
		s.temps[sensor] = t
	}

	motorT := s.temps[extruderctl.SensorMotor]
	load := math.Abs(s.motors[extruderctl.MotorMain]) + math.Abs(s.motors[extruderctl.MotorFeed])
	motorT += load * simMotorWarmCoef * dt
	s.temps[extruderctl.SensorMotor] = drift(motorT, dt)

	s.temps[extruderctl.SensorFeed] = drift(s.temps[extruderctl.SensorFeed], dt)
	s.lastValid = now
}

func drift(t, dt float64) float64 {
	if t > simAmbientC {
		t -= simCoolRateCPerS * dt
		if t < simAmbientC {
			t = simAmbientC
		}
	}
	return t
}

// Temperatures returns the simulated sensor readings. Sensors disabled via
// FailSensor are omitted, mimicking a broken thermistor.
func (s *Sim) Temperatures() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	out := make(map[string]float64, len(s.temps))
	for name, v := range s.temps {
		if s.disabled[name] {
			continue
		}
		out[name] = v
	}
	return out
}

// LastValidTimestamp reports when the model last produced readings.
func (s *Sim) LastValidTimestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastValid
}

// ButtonState reports a simulated panel button.
func (s *Sim) ButtonState(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buttons[name]
}

// MotorFault reports the simulated driver fault line.
func (s *Sim) MotorFault() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fault
}

func (s *Sim) SetHeaterDuty(zone extruderctl.Zone, percent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.heaters[zone] = percent
}

func (s *Sim) SetMotorRPM(motor extruderctl.Motor, rpm float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.motors[motor] = rpm
}

func (s *Sim) SetRelay(name string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relays[name] = on
}

func (s *Sim) SetPWMOutput(channel string, percent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pwm[channel] = percent
}

func (s *Sim) SetPeltierDuty(percent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peltier = percent
}

func (s *Sim) SetLED(name string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leds[name] = on
}

// Close releases nothing for the simulator but satisfies Interface.
func (s *Sim) Close() error { return nil }

// --- test/bench hooks ---

// PressButton sets a simulated panel button level.
func (s *Sim) PressButton(name string, pressed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buttons[name] = pressed
}

// SetMotorFaultLine asserts or releases the simulated driver fault.
func (s *Sim) SetMotorFaultLine(fault bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fault
}

// FailSensor makes a sensor disappear from readings until restored.
func (s *Sim) FailSensor(name string, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled[name] = failed
}

// SetTemperature pins a sensor to a value, bypassing the thermal model
// until the model next advances past it.
func (s *Sim) SetTemperature(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.temps[name] = value
}

// HeaterDuty reports the last commanded duty for a zone.
func (s *Sim) HeaterDuty(zone extruderctl.Zone) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heaters[zone]
}

// MotorRPM reports the last commanded RPM for a motor.
func (s *Sim) MotorRPM(motor extruderctl.Motor) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.motors[motor]
}

// Relay reports the last commanded relay state.
func (s *Sim) Relay(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relays[name]
}

var _ Interface = (*Sim)(nil)
