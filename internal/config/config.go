package config

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/viper"

	"extruderctl"
)

// Config is the full, typed application configuration. Every section has a
// named default; Load never fails on bad field values, it substitutes the
// default and collects a warning instead.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	DB       DBConfig       `mapstructure:"db"`
	Alarms   AlarmConfig    `mapstructure:"alarms"`
	Safety   SafetyConfig   `mapstructure:"safety"`
	Temps    TempConfig     `mapstructure:"temps"`
	Motion   MotionConfig   `mapstructure:"motion"`
	Zones    ZoneConfig     `mapstructure:"zones"`
	Tuner    TunerConfig    `mapstructure:"tuner"`
	Sequence SequenceConfig `mapstructure:"sequence"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	PWM      PWMConfig      `mapstructure:"pwm"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port     string `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// AuthConfig contains JWT settings for the API.
type AuthConfig struct {
	SigningKey string `mapstructure:"signing_key"`
	TokenTTL   string `mapstructure:"token_ttl"`
}

// DBConfig locates the sqlite event database.
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// AlarmConfig locates the persisted alarm history file.
type AlarmConfig struct {
	Path string `mapstructure:"path"`
}

// SafetyConfig holds the interlock temperature limits in °C.
type SafetyConfig struct {
	MotorMax        float64 `mapstructure:"motor_max"`
	HeaterMax       float64 `mapstructure:"heater_max"`
	MinTempForMotor float64 `mapstructure:"min_temp_for_motor"`
}

// TempConfig controls sensor polling and staleness detection, in seconds.
type TempConfig struct {
	PollInterval     float64 `mapstructure:"poll_interval"`
	FreshnessTimeout float64 `mapstructure:"freshness_timeout"` // 0 = derive from poll interval
}

// MotionConfig bounds motor commands.
type MotionConfig struct {
	MaxRPM float64 `mapstructure:"max_rpm"`
}

// ZoneConfig carries the per-zone PID setup.
type ZoneConfig struct {
	Z1         extruderctl.PIDGains `mapstructure:"z1"`
	Z2         extruderctl.PIDGains `mapstructure:"z2"`
	SampleTime float64              `mapstructure:"sample_time"` // seconds
}

// TunerConfig parameterizes the relay-feedback auto-tuner.
type TunerConfig struct {
	Hysteresis     float64 `mapstructure:"hysteresis"`      // °C
	CyclesRequired float64 `mapstructure:"cycles_required"` // half-cycle granularity
	TimeoutMinutes float64 `mapstructure:"timeout_minutes"`
	DefaultPower   float64 `mapstructure:"default_power"` // relay power %
}

// SequenceConfig holds the three phase step lists plus the start policy.
type SequenceConfig struct {
	CheckTempBeforeStart bool                       `mapstructure:"check_temp_before_start"`
	Startup              []extruderctl.SequenceStep `mapstructure:"startup"`
	Shutdown             []extruderctl.SequenceStep `mapstructure:"shutdown"`
	Emergency            []extruderctl.SequenceStep `mapstructure:"emergency"`
}

// LoggingConfig controls the CSV run logger.
type LoggingConfig struct {
	Interval float64 `mapstructure:"interval"` // seconds between rows
	Dir      string  `mapstructure:"dir"`
}

// PWMConfig names the auxiliary PWM output channels.
type PWMConfig struct {
	Channels []string `mapstructure:"channels"`
}

// Named defaults. The safety limits come from the rig hardware: NEMA23
// stepper overheat, MICA band heater melt limit, and the minimum barrel
// temperature at which material may be extruded.
const (
	DefaultPort            = "8080"
	DefaultLogLevel        = "info"
	DefaultTokenTTL        = time.Hour
	DefaultDBPath          = "extruder.db"
	DefaultAlarmPath       = "alarms.json"
	DefaultMotorMax        = 65.0
	DefaultHeaterMax       = 280.0
	DefaultMinTempForMotor = 170.0
	DefaultPollInterval    = 0.25
	DefaultMaxRPM          = 5000.0
	DefaultSampleTime      = 0.1
	DefaultHysteresis      = 0.5
	DefaultCyclesRequired  = 3.0
	DefaultTuneTimeoutMin  = 30.0
	DefaultTunePower       = 70.0
	DefaultLogInterval     = 0.25
	DefaultLogDir          = "logs"
)

// Load reads configs/<name>.yml via viper, fills defaults, and sanitizes
// field values. Returned warnings describe every substituted field; the
// error is only non-nil when the file exists but cannot be parsed at all.
func Load(path, name string) (*Config, []string, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName(name)

	var warnings []string
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
		warnings = append(warnings, "config file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("parse config: %w", err)
	}
	if !v.IsSet("sequence.check_temp_before_start") {
		cfg.Sequence.CheckTempBeforeStart = true
	}

	warnings = append(warnings, cfg.sanitize()...)
	return &cfg, warnings, nil
}

// sanitize applies defaults for missing values and replaces invalid ones,
// returning one warning per substitution.
func (c *Config) sanitize() []string {
	var warnings []string
	warn := func(field, reason string) {
		warnings = append(warnings, fmt.Sprintf("%s invalid (%s), using default", field, reason))
	}

	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	case "":
		c.Server.LogLevel = DefaultLogLevel
	default:
		warn("server.log_level", "unknown level")
		c.Server.LogLevel = DefaultLogLevel
	}

	if c.Auth.TokenTTL != "" {
		if _, err := time.ParseDuration(c.Auth.TokenTTL); err != nil {
			warn("auth.token_ttl", "not a duration")
			c.Auth.TokenTTL = DefaultTokenTTL.String()
		}
	} else {
		c.Auth.TokenTTL = DefaultTokenTTL.String()
	}

	if c.DB.Path == "" {
		c.DB.Path = DefaultDBPath
	}
	if c.Alarms.Path == "" {
		c.Alarms.Path = DefaultAlarmPath
	}

	if !positiveFinite(c.Safety.MotorMax) {
		if c.Safety.MotorMax != 0 {
			warn("safety.motor_max", "must be a positive number")
		}
		c.Safety.MotorMax = DefaultMotorMax
	}
	if !positiveFinite(c.Safety.HeaterMax) {
		if c.Safety.HeaterMax != 0 {
			warn("safety.heater_max", "must be a positive number")
		}
		c.Safety.HeaterMax = DefaultHeaterMax
	}
	if !positiveFinite(c.Safety.MinTempForMotor) {
		if c.Safety.MinTempForMotor != 0 {
			warn("safety.min_temp_for_motor", "must be a positive number")
		}
		c.Safety.MinTempForMotor = DefaultMinTempForMotor
	}
	if c.Safety.MinTempForMotor >= c.Safety.HeaterMax {
		warn("safety.min_temp_for_motor", "must be below heater_max")
		c.Safety.MinTempForMotor = DefaultMinTempForMotor
	}

	if !positiveFinite(c.Temps.PollInterval) {
		if c.Temps.PollInterval != 0 {
			warn("temps.poll_interval", "must be a positive number")
		}
		c.Temps.PollInterval = DefaultPollInterval
	}
	if c.Temps.FreshnessTimeout < 0 || !finite(c.Temps.FreshnessTimeout) {
		warn("temps.freshness_timeout", "must be non-negative")
		c.Temps.FreshnessTimeout = 0
	}

	if !positiveFinite(c.Motion.MaxRPM) {
		if c.Motion.MaxRPM != 0 {
			warn("motion.max_rpm", "must be a positive number")
		}
		c.Motion.MaxRPM = DefaultMaxRPM
	}

	warnings = append(warnings, sanitizeGains(&c.Zones.Z1, "zones.z1")...)
	warnings = append(warnings, sanitizeGains(&c.Zones.Z2, "zones.z2")...)
	if !positiveFinite(c.Zones.SampleTime) {
		if c.Zones.SampleTime != 0 {
			warn("zones.sample_time", "must be a positive number")
		}
		c.Zones.SampleTime = DefaultSampleTime
	}

	if !positiveFinite(c.Tuner.Hysteresis) {
		if c.Tuner.Hysteresis != 0 {
			warn("tuner.hysteresis", "must be a positive number")
		}
		c.Tuner.Hysteresis = DefaultHysteresis
	}
	if c.Tuner.CyclesRequired < 1 || !finite(c.Tuner.CyclesRequired) {
		if c.Tuner.CyclesRequired != 0 {
			warn("tuner.cycles_required", "must be >= 1")
		}
		c.Tuner.CyclesRequired = DefaultCyclesRequired
	}
	if !positiveFinite(c.Tuner.TimeoutMinutes) {
		if c.Tuner.TimeoutMinutes != 0 {
			warn("tuner.timeout_minutes", "must be a positive number")
		}
		c.Tuner.TimeoutMinutes = DefaultTuneTimeoutMin
	}
	if c.Tuner.DefaultPower < 10 || c.Tuner.DefaultPower > 100 || !finite(c.Tuner.DefaultPower) {
		if c.Tuner.DefaultPower != 0 {
			warn("tuner.default_power", "must be between 10 and 100")
		}
		c.Tuner.DefaultPower = DefaultTunePower
	}

	var seqWarn []string
	c.Sequence.Startup, seqWarn = SanitizeSteps(c.Sequence.Startup, "sequence.startup")
	warnings = append(warnings, seqWarn...)
	c.Sequence.Shutdown, seqWarn = SanitizeSteps(c.Sequence.Shutdown, "sequence.shutdown")
	warnings = append(warnings, seqWarn...)
	c.Sequence.Emergency, seqWarn = SanitizeSteps(c.Sequence.Emergency, "sequence.emergency")
	warnings = append(warnings, seqWarn...)

	if !positiveFinite(c.Logging.Interval) {
		if c.Logging.Interval != 0 {
			warn("logging.interval", "must be a positive number")
		}
		c.Logging.Interval = DefaultLogInterval
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = DefaultLogDir
	}

	return warnings
}

func sanitizeGains(g *extruderctl.PIDGains, field string) []string {
	var warnings []string
	for _, p := range []struct {
		name string
		val  *float64
	}{{"kp", &g.Kp}, {"ki", &g.Ki}, {"kd", &g.Kd}} {
		if *p.val < 0 || *p.val > 1000 || !finite(*p.val) {
			warnings = append(warnings, fmt.Sprintf("%s.%s invalid (must be within [0, 1000]), using default", field, p.name))
			*p.val = 0
		}
	}
	return warnings
}

// SanitizeSteps drops malformed steps and merges duplicates so that each
// device appears at most once per phase (later entries win). Shared with
// the runtime sequence-update command.
func SanitizeSteps(steps []extruderctl.SequenceStep, field string) ([]extruderctl.SequenceStep, []string) {
	var warnings []string
	byDevice := map[extruderctl.SequenceDevice]int{}
	out := make([]extruderctl.SequenceStep, 0, len(steps))
	for i, s := range steps {
		if !validDevice(s.Device) || !validAction(s.Action) || s.Delay < 0 || !finite(s.Delay) {
			warnings = append(warnings, fmt.Sprintf("%s[%d] invalid step, dropped", field, i))
			continue
		}
		if at, seen := byDevice[s.Device]; seen {
			out[at] = s
			continue
		}
		byDevice[s.Device] = len(out)
		out = append(out, s)
	}
	return out, warnings
}

func validDevice(d extruderctl.SequenceDevice) bool {
	switch d {
	case extruderctl.DeviceMainMotor, extruderctl.DeviceFeedMotor, extruderctl.DeviceFan, extruderctl.DevicePump:
		return true
	}
	return false
}

func validAction(a extruderctl.SequenceAction) bool {
	return a == extruderctl.ActionOn || a == extruderctl.ActionOff
}

// PollInterval returns the sensor poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Temps.PollInterval * float64(time.Second))
}

// FreshnessTimeout returns how old temperature data may get before the
// stale-sensor interlock fires: the configured value, or max(1s, 4×poll).
func (c *Config) FreshnessTimeout() time.Duration {
	if c.Temps.FreshnessTimeout > 0 {
		return time.Duration(c.Temps.FreshnessTimeout * float64(time.Second))
	}
	d := 4 * c.PollInterval()
	if d < time.Second {
		d = time.Second
	}
	return d
}

// TokenTTL returns the parsed JWT lifetime.
func (c *Config) TokenTTL() time.Duration {
	d, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil || d <= 0 {
		return DefaultTokenTTL
	}
	return d
}

// Steps returns the configured step list for a phase.
func (s *SequenceConfig) Steps(phase extruderctl.SequencePhase) []extruderctl.SequenceStep {
	switch phase {
	case extruderctl.PhaseStartup:
		return s.Startup
	case extruderctl.PhaseShutdown:
		return s.Shutdown
	case extruderctl.PhaseEmergency:
		return s.Emergency
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func positiveFinite(v float64) bool {
	return v > 0 && finite(v)
}
