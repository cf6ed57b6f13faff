package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"extruderctl"
)

// Common response status strings.
const (
	statusStarted   = "started"
	statusStopped   = "stopped"
	statusStopping  = "stopping"
	statusAccepted  = "accepted"
	statusModeSet   = "mode_set"
	statusRecording = "recording"
)

// respondWithStatusAndState replies with a status and the live snapshot so
// UIs can render the result of a command without a second round trip.
func (h *Handler) respondWithStatusAndState(c *gin.Context, status string, extra gin.H) {
	resp := gin.H{"status": status}
	for k, v := range extra {
		resp[k] = v
	}
	resp["state"] = h.control.Snapshot()
	c.JSON(http.StatusOK, resp)
}

// @Summary      Get extruder state
// @Tags         extruder
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/extruder/state [get]
// @Security     BearerAuth
func (h *Handler) getState(c *gin.Context) {
	c.JSON(http.StatusOK, h.control.Snapshot())
}

// @Summary      Start the extruder
// @Description  Runs the startup sequence; READY state and a clean alarm set required
// @Tags         extruder
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, state"
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/extruder/start [post]
// @Security     BearerAuth
func (h *Handler) startExtruder(c *gin.Context) {
	if err := h.control.Start(); err != nil {
		h.respondCommandError(c, err)
		return
	}
	h.respondWithStatusAndState(c, statusStarted, gin.H{})
}

// @Summary      Stop the extruder
// @Description  Runs the shutdown sequence; a no-op when already idle
// @Tags         extruder
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/extruder/stop [post]
// @Security     BearerAuth
func (h *Handler) stopExtruder(c *gin.Context) {
	h.control.Stop()
	h.respondWithStatusAndState(c, statusStopping, gin.H{})
}

// @Summary      Emergency stop
// @Description  Latches a critical alarm and de-energizes all outputs
// @Tags         extruder
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/extruder/estop [post]
// @Security     BearerAuth
func (h *Handler) emergencyStop(c *gin.Context) {
	h.control.EmergencyStop()
	h.respondWithStatusAndState(c, statusStopped, gin.H{})
}

type modeRequest struct {
	Mode string `json:"mode" binding:"required"` // AUTO | MANUAL
}

// @Summary      Set control mode
// @Tags         extruder
// @Accept       json
// @Produce      json
// @Param        body  body  modeRequest  true  "Mode payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/extruder/mode [post]
// @Security     BearerAuth
func (h *Handler) setMode(c *gin.Context) {
	var req modeRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	if err := h.control.SetMode(extruderctl.Mode(req.Mode)); err != nil {
		h.respondCommandError(c, err)
		return
	}
	h.respondWithStatusAndState(c, statusModeSet, gin.H{"mode": req.Mode})
}

type targetRequest struct {
	Zone  string  `json:"zone" binding:"required"` // z1 | z2
	Value float64 `json:"value"`
}

// @Summary      Set a zone temperature setpoint
// @Tags         extruder
// @Accept       json
// @Produce      json
// @Param        body  body  targetRequest  true  "Target payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/extruder/target [post]
// @Security     BearerAuth
func (h *Handler) setTarget(c *gin.Context) {
	var req targetRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	if err := h.control.SetTarget(extruderctl.Zone(req.Zone), req.Value); err != nil {
		h.respondCommandError(c, err)
		return
	}
	h.respondWithStatusAndState(c, statusAccepted, gin.H{})
}

type heaterRequest struct {
	Zone string  `json:"zone" binding:"required"`
	Duty float64 `json:"duty"`
}

// @Summary      Set a heater duty directly (manual mode)
// @Tags         extruder
// @Accept       json
// @Produce      json
// @Param        body  body  heaterRequest  true  "Duty payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/extruder/heater [post]
// @Security     BearerAuth
func (h *Handler) setHeater(c *gin.Context) {
	var req heaterRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	if err := h.control.SetHeater(extruderctl.Zone(req.Zone), req.Duty); err != nil {
		h.respondCommandError(c, err)
		return
	}
	h.respondWithStatusAndState(c, statusAccepted, gin.H{})
}

type motorRequest struct {
	Motor string  `json:"motor" binding:"required"` // main | feed
	RPM   float64 `json:"rpm"`
}

// @Summary      Command a motor speed
// @Description  In automatic mode the barrel must be at melt temperature
// @Tags         extruder
// @Accept       json
// @Produce      json
// @Param        body  body  motorRequest  true  "Motor payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      429   {object}  map[string]string
// @Router       /api/v1/extruder/motor [post]
// @Security     BearerAuth
func (h *Handler) setMotor(c *gin.Context) {
	var req motorRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	if err := h.control.SetMotor(extruderctl.Motor(req.Motor), req.RPM); err != nil {
		h.respondCommandError(c, err)
		return
	}
	h.respondWithStatusAndState(c, statusAccepted, gin.H{})
}

type relayRequest struct {
	Name string `json:"name" binding:"required"` // fan | pump
	On   bool   `json:"on"`
}

// @Summary      Switch an auxiliary relay
// @Tags         extruder
// @Accept       json
// @Produce      json
// @Param        body  body  relayRequest  true  "Relay payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      429   {object}  map[string]string
// @Router       /api/v1/extruder/relay [post]
// @Security     BearerAuth
func (h *Handler) setRelay(c *gin.Context) {
	var req relayRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	if err := h.control.SetRelay(req.Name, req.On); err != nil {
		h.respondCommandError(c, err)
		return
	}
	h.respondWithStatusAndState(c, statusAccepted, gin.H{})
}

type peltierRequest struct {
	Duty float64 `json:"duty"`
}

// @Summary      Set the cooling module duty
// @Tags         extruder
// @Accept       json
// @Produce      json
// @Param        body  body  peltierRequest  true  "Duty payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/extruder/peltier [post]
// @Security     BearerAuth
func (h *Handler) setPeltier(c *gin.Context) {
	var req peltierRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	if err := h.control.SetPeltier(req.Duty); err != nil {
		h.respondCommandError(c, err)
		return
	}
	h.respondWithStatusAndState(c, statusAccepted, gin.H{})
}

type pwmRequest struct {
	Channel string  `json:"channel" binding:"required"`
	Duty    float64 `json:"duty"`
}

// @Summary      Drive an auxiliary PWM channel
// @Tags         extruder
// @Accept       json
// @Produce      json
// @Param        body  body  pwmRequest  true  "PWM payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/extruder/pwm [post]
// @Security     BearerAuth
func (h *Handler) setPWM(c *gin.Context) {
	var req pwmRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	if err := h.control.SetPWMOutput(req.Channel, req.Duty); err != nil {
		h.respondCommandError(c, err)
		return
	}
	h.respondWithStatusAndState(c, statusAccepted, gin.H{})
}

type pidRequest struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

// @Summary      Get PID settings per zone
// @Tags         pid
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/pid/ [get]
// @Security     BearerAuth
func (h *Handler) getPID(c *gin.Context) {
	c.JSON(http.StatusOK, h.control.PIDSettings())
}

// @Summary      Update one zone's PID gains
// @Tags         pid
// @Accept       json
// @Produce      json
// @Param        zone  path  string      true  "Zone (z1 or z2)"
// @Param        body  body  pidRequest  true  "Gain payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/pid/{zone} [put]
// @Security     BearerAuth
func (h *Handler) updatePID(c *gin.Context) {
	var req pidRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	zone := extruderctl.Zone(c.Param("zone"))
	gains := extruderctl.PIDGains{Kp: req.Kp, Ki: req.Ki, Kd: req.Kd}
	if err := h.control.UpdatePID(zone, gains); err != nil {
		h.respondCommandError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusAccepted, "zone": zone, "gains": gains})
}

type sequenceRequest struct {
	Steps []extruderctl.SequenceStep `json:"steps" binding:"required"`
}

// @Summary      Get the configured actuator sequences
// @Tags         sequence
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/sequence/ [get]
// @Security     BearerAuth
func (h *Handler) getSequences(c *gin.Context) {
	c.JSON(http.StatusOK, h.control.Sequences())
}

// @Summary      Replace one phase's step list
// @Tags         sequence
// @Accept       json
// @Produce      json
// @Param        phase  path  string           true  "Phase (startup, shutdown or emergency)"
// @Param        body   body  sequenceRequest  true  "Step list"
// @Success      200    {object}  map[string]interface{}
// @Failure      400    {object}  map[string]string
// @Failure      401    {object}  map[string]string
// @Router       /api/v1/sequence/{phase} [put]
// @Security     BearerAuth
func (h *Handler) updateSequence(c *gin.Context) {
	var req sequenceRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	phase := extruderctl.SequencePhase(c.Param("phase"))
	if err := h.control.UpdateSequence(phase, req.Steps); err != nil {
		h.respondCommandError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusAccepted, "phase": phase})
}

// @Summary      Start a CSV process recording
// @Tags         datalog
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/datalog/start [post]
// @Security     BearerAuth
func (h *Handler) startRecording(c *gin.Context) {
	if err := h.control.StartRecording(); err != nil {
		h.respondCommandError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusRecording})
}

// @Summary      Stop the active recording
// @Tags         datalog
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/datalog/stop [post]
// @Security     BearerAuth
func (h *Handler) stopRecording(c *gin.Context) {
	if err := h.control.StopRecording(); err != nil {
		h.respondCommandError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusStopped})
}

// @Summary      List recordings on disk
// @Tags         datalog
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/datalog/files [get]
// @Security     BearerAuth
func (h *Handler) listRecordings(c *gin.Context) {
	if h.recordings == nil {
		c.JSON(http.StatusOK, gin.H{"files": []string{}})
		return
	}
	files, err := h.recordings.Files()
	if err != nil {
		h.respondCommandError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}
