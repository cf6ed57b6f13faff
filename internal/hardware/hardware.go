package hardware

import (
	"time"

	"extruderctl"
)

// Operator panel input names.
const (
	ButtonStart     = "btn_start"
	ButtonStop      = "btn_stop"
	ButtonEmergency = "btn_emergency"
)

// Relay and LED names.
const (
	RelayFan  = "fan"
	RelayPump = "pump"
	LEDStatus = "led_status"
)

// Interface is the hardware abstraction the control core drives. All
// setters accept values the core has already clamped to documented ranges
// (heater duty 0-100 %, motor RPM within the configured bound) and must be
// non-blocking or bounded-latency: the control loop calls them on every
// tick without holding its state lock.
//
// Temperatures reports the logical sensors; a sensor that is absent from
// the map (or NaN) is treated as failed by the safety layer.
type Interface interface {
	Temperatures() map[string]float64
	LastValidTimestamp() time.Time
	ButtonState(name string) bool
	MotorFault() bool

	SetHeaterDuty(zone extruderctl.Zone, percent float64)
	SetMotorRPM(motor extruderctl.Motor, rpm float64)
	SetRelay(name string, on bool)
	SetPWMOutput(channel string, percent float64)
	SetPeltierDuty(percent float64)
	SetLED(name string, on bool)

	Close() error
}
