package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"extruderctl"
)

type tuneStartRequest struct {
	Zone     string  `json:"zone" binding:"required"` // z1 | z2
	Setpoint float64 `json:"setpoint" binding:"required"`
	Power    float64 `json:"power"` // relay power %, 0 selects the default
}

// @Summary      Start a relay-feedback tuning session
// @Tags         tune
// @Accept       json
// @Produce      json
// @Param        body  body  tuneStartRequest  true  "Tuning payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/tune/start [post]
// @Security     BearerAuth
func (h *Handler) startTune(c *gin.Context) {
	var req tuneStartRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	if err := h.control.StartTune(extruderctl.Zone(req.Zone), req.Setpoint, req.Power); err != nil {
		h.respondCommandError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusStarted, "zone": req.Zone})
}

// @Summary      Abort the active tuning session
// @Tags         tune
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/tune/stop [post]
// @Security     BearerAuth
func (h *Handler) stopTune(c *gin.Context) {
	h.control.StopTune()
	c.JSON(http.StatusOK, gin.H{"status": statusStopped})
}

// @Summary      Tuning progress
// @Tags         tune
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/tune/status [get]
// @Security     BearerAuth
func (h *Handler) tuneStatus(c *gin.Context) {
	phase, zone, cycles, result := h.control.TuneStatus()
	resp := gin.H{
		"phase":  phase,
		"zone":   zone,
		"cycles": cycles,
	}
	if result != nil {
		resp["result"] = result
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary      Derive gains from the last session without applying them
// @Tags         tune
// @Produce      json
// @Param        method  query  string  false  "tyreus-luyben (default) or ziegler-nichols"
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/tune/suggest [get]
// @Security     BearerAuth
func (h *Handler) suggestTune(c *gin.Context) {
	res, err := h.control.SuggestTune(c.Query("method"))
	if err != nil {
		h.respondCommandError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type tuneApplyRequest struct {
	Method string `json:"method"` // tyreus-luyben (default) or ziegler-nichols
}

// @Summary      Apply gains from the last session to the tuned zone
// @Tags         tune
// @Accept       json
// @Produce      json
// @Param        body  body  tuneApplyRequest  false  "Method payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      401   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Router       /api/v1/tune/apply [post]
// @Security     BearerAuth
func (h *Handler) applyTune(c *gin.Context) {
	var req tuneApplyRequest
	// Body is optional; an empty body selects the default method.
	_ = c.ShouldBindJSON(&req)

	res, err := h.control.ApplyTuneResult(req.Method)
	if err != nil {
		h.respondCommandError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusAccepted, "result": res})
}
