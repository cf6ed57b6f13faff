package control

import (
	"time"

	"github.com/google/uuid"

	"extruderctl"
	"extruderctl/internal/hardware"
)

// alarmHistoryCap bounds the persisted alarm history.
const alarmHistoryCap = 1000

// newEvent builds a controller event with a fresh id and timestamp.
func newEvent(eventType, description string, metadata any) extruderctl.Event {
	return extruderctl.Event{
		EventID:     uuid.NewString(),
		OccurredAt:  time.Now(),
		Type:        eventType,
		Description: description,
		Metadata:    metadata,
	}
}

// latchLocked records an alarm and drops the system into the ALARM state:
// run permission is revoked, commanded outputs are zeroed, and the
// emergency sequence is armed. A cause that is already active is not
// latched twice. Caller holds mu; returned events must be emitted after
// the lock is released.
func (c *Controller) latchLocked(cause extruderctl.AlarmCause, message string, now time.Time) []extruderctl.Event {
	if c.st.hasActiveAlarm(cause) {
		return nil
	}

	record := extruderctl.AlarmRecord{
		ID:        uuid.NewString(),
		Cause:     cause,
		Severity:  cause.Severity(),
		Message:   message,
		CreatedAt: now,
	}
	c.st.alarms = append(c.st.alarms, record)
	if len(c.st.alarms) > alarmHistoryCap {
		c.st.alarms = c.st.alarms[len(c.st.alarms)-alarmHistoryCap:]
	}
	c.persistAlarmsLocked()

	wasAlarm := c.st.status == extruderctl.StatusAlarm
	c.st.status = extruderctl.StatusAlarm
	c.runPermitted = false

	for _, z := range []extruderctl.Zone{extruderctl.ZoneZ1, extruderctl.ZoneZ2} {
		c.st.heaterDuty[z] = 0
		c.st.manualDuty[z] = 0
	}
	for _, m := range []extruderctl.Motor{extruderctl.MotorMain, extruderctl.MotorFeed} {
		c.st.motors[m] = 0
	}
	c.st.peltier = 0
	for ch := range c.st.pwm {
		c.st.pwm[ch] = 0
	}

	if !wasAlarm {
		c.beginSequenceLocked(extruderctl.PhaseEmergency, now)
	}

	c.metrics.IncAlarm(string(cause))
	c.log.Errorw("alarm latched", "cause", cause, "severity", record.Severity, "message", message)
	return []extruderctl.Event{newEvent(extruderctl.EventAlarm, message, record)}
}

// completeClearLocked is the second phase of the clear handshake: mark all
// active records cleared and return to READY.
func (c *Controller) completeClearLocked(now time.Time) []extruderctl.Event {
	cleared := 0
	for i := range c.st.alarms {
		if !c.st.alarms[i].Cleared {
			c.st.alarms[i].Cleared = true
			cleared++
		}
	}
	if cleared == 0 {
		return nil
	}
	c.persistAlarmsLocked()

	c.st.status = extruderctl.StatusReady
	c.runPermitted = true
	c.seqActive = false
	for _, p := range c.pids {
		p.Reset()
	}

	c.log.Infow("alarms cleared", "count", cleared, "at", now)
	return []extruderctl.Event{newEvent(extruderctl.EventAlarm, "alarms cleared", nil)}
}

// persistAlarmsLocked writes the history through the store, logging rather
// than failing the control path on IO errors.
func (c *Controller) persistAlarmsLocked() {
	if c.store == nil {
		return
	}
	records := make([]extruderctl.AlarmRecord, len(c.st.alarms))
	copy(records, c.st.alarms)
	if err := c.store.Save(records); err != nil {
		c.log.Errorw("alarm history persist failed", "error", err)
	}
}

// EmergencyStop latches the software emergency stop. Always allowed.
func (c *Controller) EmergencyStop() {
	c.mu.Lock()
	events := c.latchLocked(extruderctl.CauseEmergencyStop, "emergency stop commanded", time.Now())
	c.mu.Unlock()
	c.emitEvents(events)
}

// ClearAlarm requests discharge of all active alarms. The request is
// two-phase: it is accepted here only if the emergency stop button is not
// pressed, and the control loop re-validates that on its next tick before
// actually clearing. A clear with nothing latched is a no-op.
func (c *Controller) ClearAlarm() error {
	if c.hal.ButtonState(hardware.ButtonEmergency) {
		return cmdErr(CodeEmergencyButtonActive)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.st.activeAlarms()) == 0 {
		return nil
	}
	c.clearPending = true
	return nil
}

// AcknowledgeAlarm marks one record (or all, with id "all") acknowledged.
// Acknowledgement is bookkeeping only; it never restores run permission.
func (c *Controller) AcknowledgeAlarm(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id == "all" {
		for i := range c.st.alarms {
			c.st.alarms[i].Acknowledged = true
		}
		c.persistAlarmsLocked()
		return nil
	}

	for i := range c.st.alarms {
		if c.st.alarms[i].ID == id {
			c.st.alarms[i].Acknowledged = true
			c.persistAlarmsLocked()
			return nil
		}
	}
	return cmdErr(CodeUnknownAlarm)
}

// Alarms returns the full history, newest last.
func (c *Controller) Alarms() []extruderctl.AlarmRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]extruderctl.AlarmRecord, len(c.st.alarms))
	copy(out, c.st.alarms)
	return out
}

// ActiveAlarms returns the latched, uncleared records.
func (c *Controller) ActiveAlarms() []extruderctl.AlarmRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.activeAlarms()
}
