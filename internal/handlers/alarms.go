package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// @Summary      Full alarm history
// @Tags         alarms
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/alarms/ [get]
// @Security     BearerAuth
func (h *Handler) getAlarms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alarms": h.control.Alarms()})
}

// @Summary      Active (uncleared) alarms
// @Tags         alarms
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/alarms/active [get]
// @Security     BearerAuth
func (h *Handler) getActiveAlarms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alarms": h.control.ActiveAlarms()})
}

// @Summary      Clear all active alarms
// @Description  Rejected while the emergency stop button is pressed; the
// control loop re-validates before the clear takes effect
// @Tags         alarms
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/alarms/clear [post]
// @Security     BearerAuth
func (h *Handler) clearAlarms(c *gin.Context) {
	if err := h.control.ClearAlarm(); err != nil {
		h.respondCommandError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusAccepted})
}

type ackRequest struct {
	ID string `json:"id" binding:"required"` // record id, or "all"
}

// @Summary      Acknowledge an alarm
// @Tags         alarms
// @Accept       json
// @Produce      json
// @Param        body  body  ackRequest  true  "Alarm id or \"all\""
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Router       /api/v1/alarms/ack [post]
// @Security     BearerAuth
func (h *Handler) acknowledgeAlarm(c *gin.Context) {
	var req ackRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	if err := h.control.AcknowledgeAlarm(req.ID); err != nil {
		h.respondCommandError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusAccepted})
}
