package extruderctl

import "time"

// SystemStatus is the mutually-exclusive state of the extruder controller.
type SystemStatus string

const (
	StatusReady    SystemStatus = "READY"
	StatusStarting SystemStatus = "STARTING"
	StatusRunning  SystemStatus = "RUNNING"
	StatusStopping SystemStatus = "STOPPING"
	StatusAlarm    SystemStatus = "ALARM"
)

// Mode selects between closed-loop and operator-driven control.
type Mode string

const (
	ModeAuto   Mode = "AUTO"
	ModeManual Mode = "MANUAL"
)

// Zone identifies one of the two heated barrel sections.
type Zone string

const (
	ZoneZ1 Zone = "z1"
	ZoneZ2 Zone = "z2"
)

// Sensor returns the logical temperature sensor feeding this zone's loop.
func (z Zone) Sensor() string {
	if z == ZoneZ1 {
		return SensorZone1
	}
	return SensorZone2
}

// Logical sensor names reported by the hardware interface.
const (
	SensorFeed  = "t1"
	SensorZone1 = "t2"
	SensorZone2 = "t3"
	SensorMotor = "motor"
)

// Motor identifies one of the two stepper motors.
type Motor string

const (
	MotorMain Motor = "main"
	MotorFeed Motor = "feed"
)

// AlarmCause is the closed set of conditions that latch an alarm. The
// string value doubles as the reason code surfaced to API clients.
type AlarmCause string

const (
	CauseDriverFault         AlarmCause = "MOTOR_DRIVER_FAULT"
	CauseMotorSensorFailure  AlarmCause = "MOTOR_TEMP_SENSOR_FAILURE"
	CauseMotorOverheat       AlarmCause = "MOTOR_OVERHEAT"
	CauseHeaterSensorFailure AlarmCause = "HEATER_SENSOR_FAILURE"
	CauseThermalRunaway      AlarmCause = "HEATER_THERMAL_RUNAWAY"
	CauseColdExtrusion       AlarmCause = "COLD_EXTRUSION_PROTECTION"
	CauseTempStale           AlarmCause = "TEMP_DATA_STALE"
	CauseEmergencyStop       AlarmCause = "EMERGENCY_STOP"
	CauseEmergencyButton     AlarmCause = "EMERGENCY_STOP_BTN"
)

// Severity classifies an alarm's impact on the command surface.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Severity derives the alarm severity from its cause. Emergency stops cut
// power paths and lock the command surface down to recovery operations;
// everything else leaves configuration and manual intervention available.
func (c AlarmCause) Severity() Severity {
	switch c {
	case CauseEmergencyStop, CauseEmergencyButton:
		return SeverityCritical
	default:
		return SeverityWarning
	}
}

// AlarmRecord is a latched fault. Records are appended to a capped history
// and never deleted; operator commands flip the acknowledged/cleared flags.
type AlarmRecord struct {
	ID           string     `json:"id"`
	Cause        AlarmCause `json:"cause"`
	Severity     Severity   `json:"severity"`
	Message      string     `json:"message"`
	CreatedAt    time.Time  `json:"created_at"`
	Acknowledged bool       `json:"acknowledged"`
	Cleared      bool       `json:"cleared"`
}

// SequencePhase names one of the timed actuator action lists.
type SequencePhase string

const (
	PhaseStartup   SequencePhase = "startup"
	PhaseShutdown  SequencePhase = "shutdown"
	PhaseEmergency SequencePhase = "emergency"
)

// SequenceDevice is an actuator a sequence step may drive.
type SequenceDevice string

const (
	DeviceMainMotor SequenceDevice = "main_motor"
	DeviceFeedMotor SequenceDevice = "feed_motor"
	DeviceFan       SequenceDevice = "fan"
	DevicePump      SequenceDevice = "pump"
)

// SequenceAction is what a step does to its device.
type SequenceAction string

const (
	ActionOn  SequenceAction = "on"
	ActionOff SequenceAction = "off"
)

// SequenceStep is one timed action within a phase. Delay is seconds from
// phase start. Within a phase there is at most one step per device.
type SequenceStep struct {
	Device  SequenceDevice `json:"device" mapstructure:"device"`
	Action  SequenceAction `json:"action" mapstructure:"action"`
	Delay   float64        `json:"delay" mapstructure:"delay"`
	Enabled bool           `json:"enabled" mapstructure:"enabled"`
}

// PIDGains is a gain triple for one zone controller.
type PIDGains struct {
	Kp float64 `json:"kp" mapstructure:"kp"`
	Ki float64 `json:"ki" mapstructure:"ki"`
	Kd float64 `json:"kd" mapstructure:"kd"`
}

// TuneResult carries the identified plant parameters and the gains a
// tuning rule derived from them.
type TuneResult struct {
	Zone      Zone    `json:"zone"`
	Method    string  `json:"method"`
	Kp        float64 `json:"kp"`
	Ki        float64 `json:"ki"`
	Kd        float64 `json:"kd"`
	Ku        float64 `json:"ku"`
	Pu        float64 `json:"pu"`
	Amplitude float64 `json:"amplitude"`
}

// Snapshot is a consistent copy of the shared runtime state, safe to
// serialize after the controller lock has been released.
type Snapshot struct {
	Status         SystemStatus       `json:"status"`
	Mode           Mode               `json:"mode"`
	Targets        map[Zone]float64   `json:"targets"`
	ManualDuty     map[Zone]float64   `json:"manual_duty"`
	HeaterDuty     map[Zone]float64   `json:"heater_duty"`
	Temps          map[string]float64 `json:"temps"`
	TempsTimestamp time.Time          `json:"temps_timestamp"`
	Motors         map[Motor]float64  `json:"motors"`
	Relays         map[string]bool    `json:"relays"`
	PWM            map[string]float64 `json:"pwm"`
	PeltierDuty    float64            `json:"peltier_duty"`
	ActiveAlarms   []AlarmRecord      `json:"active_alarms"`
	TunePhase      string             `json:"tune_phase"`
	TuneZone       Zone               `json:"tune_zone,omitempty"`
	TuneCycles     float64            `json:"tune_cycles"`
	TuneResult     *TuneResult        `json:"tune_result,omitempty"`
}

// Event is a single entry in the persisted controller event log.
type Event struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`        // STATE | ALARM | MODE_CHANGE | TUNE | CONFIG
	Description string    `json:"description"` // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}

// Event types recorded by the controller.
const (
	EventState      = "STATE"
	EventAlarm      = "ALARM"
	EventModeChange = "MODE_CHANGE"
	EventTune       = "TUNE"
	EventConfig     = "CONFIG"
)

// User is an operator account for the HTTP API.
type User struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}
