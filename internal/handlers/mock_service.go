package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"extruderctl"
	"extruderctl/internal/control"
)

// ---- Service mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastGenUsername    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(username, password string) (int, error) {
	m.lastSignUpUsername = username
	return m.signUpID, m.signUpErr
}

func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	return m.genTokenToken, m.genTokenErr
}

func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

// fakeControl implements Control with settable errors and call recording.
// The zero value answers every command with success.
type fakeControl struct {
	snapshot extruderctl.Snapshot

	startErr   error
	modeErr    error
	targetErr  error
	heaterErr  error
	motorErr   error
	relayErr   error
	clearErr   error
	ackErr     error
	pidErr     error
	seqErr     error
	tuneErr    error
	suggestErr error
	applyErr   error

	alarms       []extruderctl.AlarmRecord
	activeAlarms []extruderctl.AlarmRecord
	pidSettings  map[extruderctl.Zone]extruderctl.PIDGains
	sequences    map[extruderctl.SequencePhase][]extruderctl.SequenceStep
	tunePhase    control.TunePhase
	tuneZone     extruderctl.Zone
	tuneCycles   float64
	tuneResult   *extruderctl.TuneResult

	startCalls int
	stopCalls  int
	estopCalls int
	lastMode   extruderctl.Mode
	lastMotor  extruderctl.Motor
	lastRPM    float64
	lastAckID  string
}

func (f *fakeControl) Snapshot() extruderctl.Snapshot { return f.snapshot }

func (f *fakeControl) Start() error {
	f.startCalls++
	return f.startErr
}

func (f *fakeControl) Stop()          { f.stopCalls++ }
func (f *fakeControl) EmergencyStop() { f.estopCalls++ }

func (f *fakeControl) SetMode(mode extruderctl.Mode) error {
	f.lastMode = mode
	return f.modeErr
}

func (f *fakeControl) SetTarget(zone extruderctl.Zone, value float64) error { return f.targetErr }
func (f *fakeControl) SetHeater(zone extruderctl.Zone, duty float64) error  { return f.heaterErr }

func (f *fakeControl) SetMotor(motor extruderctl.Motor, rpm float64) error {
	f.lastMotor = motor
	f.lastRPM = rpm
	return f.motorErr
}

func (f *fakeControl) SetRelay(name string, on bool) error             { return f.relayErr }
func (f *fakeControl) SetPeltier(duty float64) error                   { return nil }
func (f *fakeControl) SetPWMOutput(channel string, duty float64) error { return nil }

func (f *fakeControl) Alarms() []extruderctl.AlarmRecord       { return f.alarms }
func (f *fakeControl) ActiveAlarms() []extruderctl.AlarmRecord { return f.activeAlarms }
func (f *fakeControl) ClearAlarm() error                       { return f.clearErr }

func (f *fakeControl) AcknowledgeAlarm(id string) error {
	f.lastAckID = id
	return f.ackErr
}

func (f *fakeControl) UpdatePID(zone extruderctl.Zone, gains extruderctl.PIDGains) error {
	return f.pidErr
}

func (f *fakeControl) PIDSettings() map[extruderctl.Zone]extruderctl.PIDGains { return f.pidSettings }

func (f *fakeControl) UpdateSequence(phase extruderctl.SequencePhase, steps []extruderctl.SequenceStep) error {
	return f.seqErr
}

func (f *fakeControl) Sequences() map[extruderctl.SequencePhase][]extruderctl.SequenceStep {
	return f.sequences
}

func (f *fakeControl) StartTune(zone extruderctl.Zone, setpoint, power float64) error {
	return f.tuneErr
}

func (f *fakeControl) StopTune() {}

func (f *fakeControl) TuneStatus() (control.TunePhase, extruderctl.Zone, float64, *extruderctl.TuneResult) {
	return f.tunePhase, f.tuneZone, f.tuneCycles, f.tuneResult
}

func (f *fakeControl) SuggestTune(method string) (*extruderctl.TuneResult, error) {
	return f.tuneResult, f.suggestErr
}

func (f *fakeControl) ApplyTuneResult(method string) (*extruderctl.TuneResult, error) {
	return f.tuneResult, f.applyErr
}

func (f *fakeControl) StartRecording() error { return nil }
func (f *fakeControl) StopRecording() error  { return nil }

type mockEventLog struct {
	resp     []extruderctl.Event
	err      error
	lastFrom time.Time
	lastTo   time.Time
	lastType string
}

func (m *mockEventLog) List(ctx context.Context, from, to time.Time, typ string) ([]extruderctl.Event, error) {
	m.lastFrom = from
	m.lastTo = to
	m.lastType = typ
	return m.resp, m.err
}

type mockRecordings struct {
	files []string
	err   error
}

func (m *mockRecordings) Files() ([]string, error) { return m.files, m.err }

// ---- Shared test helpers ----

func newTestRouter(ctl Control, auth Authorization, events EventLog, recs Recordings) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(ctl, auth, events, recs, nil, nil)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
