package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"extruderctl/internal/control"
)

// respondCommandError maps a controller rejection onto an HTTP status.
// Alarm-gated and handshake conflicts are 409, debounce is 429, every
// other rejection is a plain 400 with the machine-readable code.
func (h *Handler) respondCommandError(c *gin.Context, err error) {
	var cerr *control.CommandError
	if errors.As(err, &cerr) {
		status := http.StatusBadRequest
		switch cerr.Code {
		case control.CodeAlarmActive, control.CodeEmergencyButtonActive, control.CodeTuneActive:
			status = http.StatusConflict
		case control.CodeMotorDebounce, control.CodeRelayDebounce:
			status = http.StatusTooManyRequests
		case control.CodeNoResult, control.CodeUnknownAlarm:
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": cerr.Code})
		return
	}

	if h.log != nil {
		h.log.Errorw("command_failed", "err", err)
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// bindJSONOrBadRequest tries to bind the request body into dst and writes a 400 JSON on failure.
// Returns false if the request was already handled (aborted), true otherwise.
func (h *Handler) bindJSONOrBadRequest(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		if h.log != nil {
			h.log.Infow("bad_request_body", "err", err)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}
