package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"extruderctl"
	"extruderctl/internal/control"
	"extruderctl/internal/logger"
)

// Control is the command surface the HTTP layer drives. Implemented by
// *control.Controller; narrowed to an interface so handler tests can use
// a fake.
type Control interface {
	Snapshot() extruderctl.Snapshot
	Start() error
	Stop()
	EmergencyStop()
	SetMode(mode extruderctl.Mode) error
	SetTarget(zone extruderctl.Zone, value float64) error
	SetHeater(zone extruderctl.Zone, duty float64) error
	SetMotor(motor extruderctl.Motor, rpm float64) error
	SetRelay(name string, on bool) error
	SetPeltier(duty float64) error
	SetPWMOutput(channel string, duty float64) error

	Alarms() []extruderctl.AlarmRecord
	ActiveAlarms() []extruderctl.AlarmRecord
	ClearAlarm() error
	AcknowledgeAlarm(id string) error

	UpdatePID(zone extruderctl.Zone, gains extruderctl.PIDGains) error
	PIDSettings() map[extruderctl.Zone]extruderctl.PIDGains
	UpdateSequence(phase extruderctl.SequencePhase, steps []extruderctl.SequenceStep) error
	Sequences() map[extruderctl.SequencePhase][]extruderctl.SequenceStep

	StartTune(zone extruderctl.Zone, setpoint, power float64) error
	StopTune()
	TuneStatus() (phase control.TunePhase, zone extruderctl.Zone, cycles float64, result *extruderctl.TuneResult)
	SuggestTune(method string) (*extruderctl.TuneResult, error)
	ApplyTuneResult(method string) (*extruderctl.TuneResult, error)

	StartRecording() error
	StopRecording() error
}

// Authorization exposes the auth flows the HTTP layer needs.
type Authorization interface {
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// EventLog exposes the append-only event log with filtering access.
type EventLog interface {
	List(ctx context.Context, from, to time.Time, typ string) ([]extruderctl.Event, error)
}

// Recordings lists the CSV files the datalogger produced.
type Recordings interface {
	Files() ([]string, error)
}

// Handler wires HTTP layer to services and logging.
type Handler struct {
	control    Control
	auth       Authorization
	events     EventLog
	recordings Recordings
	gatherer   prometheus.Gatherer
	log        *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(ctl Control, auth Authorization, events EventLog, recs Recordings, gatherer prometheus.Gatherer, log *logger.Logger) *Handler {
	return &Handler{
		control:    ctl,
		auth:       auth,
		events:     events,
		recordings: recs,
		gatherer:   gatherer,
		log:        log,
	}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health endpoint
	router.GET("/health", h.health)

	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	// Auth endpoints
	h.registerAuthRoutes(router)

	// Versioned API endpoints (protected)
	h.registerAPIRoutes(router)

	// Minimal WebSocket connection (HTTP upgrade) — same port
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.userIdMiddleware)
	{
		h.registerExtruderRoutes(api)
		h.registerAlarmRoutes(api)
		h.registerTuningRoutes(api)
		h.registerLogRoutes(api)
	}
}

func (h *Handler) registerExtruderRoutes(api *gin.RouterGroup) {
	ext := api.Group("/extruder")
	{
		ext.GET("/state", h.getState)
		ext.POST("/start", h.startExtruder)
		ext.POST("/stop", h.stopExtruder)
		ext.POST("/estop", h.emergencyStop)
		ext.POST("/mode", h.setMode)
		ext.POST("/target", h.setTarget)
		ext.POST("/heater", h.setHeater)
		ext.POST("/motor", h.setMotor)
		ext.POST("/relay", h.setRelay)
		ext.POST("/peltier", h.setPeltier)
		ext.POST("/pwm", h.setPWM)
	}

	pid := api.Group("/pid")
	{
		pid.GET("/", h.getPID)
		pid.PUT("/:zone", h.updatePID)
	}

	seq := api.Group("/sequence")
	{
		seq.GET("/", h.getSequences)
		seq.PUT("/:phase", h.updateSequence)
	}
}

func (h *Handler) registerAlarmRoutes(api *gin.RouterGroup) {
	alarms := api.Group("/alarms")
	{
		alarms.GET("/", h.getAlarms)
		alarms.GET("/active", h.getActiveAlarms)
		alarms.POST("/clear", h.clearAlarms)
		alarms.POST("/ack", h.acknowledgeAlarm)
	}
}

func (h *Handler) registerTuningRoutes(api *gin.RouterGroup) {
	tune := api.Group("/tune")
	{
		tune.POST("/start", h.startTune)
		tune.POST("/stop", h.stopTune)
		tune.GET("/status", h.tuneStatus)
		tune.GET("/suggest", h.suggestTune)
		tune.POST("/apply", h.applyTune)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("/", h.getLogs)
	}

	datalog := api.Group("/datalog")
	{
		datalog.POST("/start", h.startRecording)
		datalog.POST("/stop", h.stopRecording)
		datalog.GET("/files", h.listRecordings)
	}
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}
