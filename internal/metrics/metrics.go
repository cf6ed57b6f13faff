// Package metrics exposes the controller's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors the control loop and command surface
// update. A nil *Metrics is valid and records nothing, so tests can run
// the controller without a registry.
type Metrics struct {
	systemState      *prometheus.GaugeVec
	temperature      *prometheus.GaugeVec
	heaterDuty       *prometheus.GaugeVec
	motorRPM         *prometheus.GaugeVec
	alarmsTotal      *prometheus.CounterVec
	validationErrors prometheus.Counter
	tickDuration     prometheus.Histogram

	lastState string
}

// New registers the collector set on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		systemState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "extruder",
			Name:      "system_state",
			Help:      "Current controller state, 1 for the active state label.",
		}, []string{"state"}),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "extruder",
			Name:      "temperature_celsius",
			Help:      "Latest temperature reading per sensor.",
		}, []string{"sensor"}),
		heaterDuty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "extruder",
			Name:      "heater_duty_percent",
			Help:      "Commanded heater duty per zone.",
		}, []string{"zone"}),
		motorRPM: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "extruder",
			Name:      "motor_rpm",
			Help:      "Commanded motor speed.",
		}, []string{"motor"}),
		alarmsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "extruder",
			Name:      "alarms_total",
			Help:      "Alarms latched, by cause.",
		}, []string{"cause"}),
		validationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "extruder",
			Name:      "command_validation_errors_total",
			Help:      "Commands rejected by input validation.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "extruder",
			Name:      "control_tick_duration_seconds",
			Help:      "Supervisory loop iteration time.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}
	reg.MustRegister(
		m.systemState, m.temperature, m.heaterDuty, m.motorRPM,
		m.alarmsTotal, m.validationErrors, m.tickDuration,
	)
	return m
}

// SetState marks the active state gauge, zeroing the previous one.
func (m *Metrics) SetState(state string) {
	if m == nil {
		return
	}
	if m.lastState != "" && m.lastState != state {
		m.systemState.WithLabelValues(m.lastState).Set(0)
	}
	m.systemState.WithLabelValues(state).Set(1)
	m.lastState = state
}

// SetTemperature records a sensor reading.
func (m *Metrics) SetTemperature(sensor string, value float64) {
	if m == nil {
		return
	}
	m.temperature.WithLabelValues(sensor).Set(value)
}

// SetHeaterDuty records a commanded zone duty.
func (m *Metrics) SetHeaterDuty(zone string, percent float64) {
	if m == nil {
		return
	}
	m.heaterDuty.WithLabelValues(zone).Set(percent)
}

// SetMotorRPM records a commanded motor speed.
func (m *Metrics) SetMotorRPM(motor string, rpm float64) {
	if m == nil {
		return
	}
	m.motorRPM.WithLabelValues(motor).Set(rpm)
}

// IncAlarm counts a latched alarm by cause.
func (m *Metrics) IncAlarm(cause string) {
	if m == nil {
		return
	}
	m.alarmsTotal.WithLabelValues(cause).Inc()
}

// IncValidationError counts a rejected command.
func (m *Metrics) IncValidationError() {
	if m == nil {
		return
	}
	m.validationErrors.Inc()
}

// ObserveTick records one loop iteration's duration.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}
